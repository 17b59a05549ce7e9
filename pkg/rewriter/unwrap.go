package rewriter

import (
	"regexp"
	"strings"

	"github.com/pthm/remigrate/pkg/sqlscan"
)

// guardBodyRe matches the text between the dollar tags of a guard. The
// statement group is greedy so an EXCEPTION section inside the wrapped
// statement (a function body, say) is never mistaken for the guard's own.
var guardBodyRe = regexp.MustCompile(`(?is)^\s*BEGIN\s+BEGIN\s+(.*)\s+EXCEPTION\s+` +
	`(?:WHEN\s+[a-z_]+(?:\s+OR\s+[a-z_]+)*\s+THEN\s+` +
	`(?:NULL|RAISE\s+NOTICE\s+E?'(?:[^']|'')*'\s*,\s*SQLERRM)\s*;\s*)+` +
	`END\s*;\s*END\s*$`)

var trailerRe = regexp.MustCompile(`^\s*;?\s*$`)

// guardedInner returns the statement wrapped by a guard DO statement.
func guardedInner(sql string) (string, bool) {
	tag := doTag(sql)
	if !isGuardTag(tag) {
		return "", false
	}
	quote := "$" + tag + "$"
	open := strings.Index(sql, quote)
	closing := strings.LastIndex(sql, quote)
	if open < 0 || closing <= open {
		return "", false
	}
	if !trailerRe.MatchString(sql[closing+len(quote):]) {
		return "", false
	}
	m := guardBodyRe.FindStringSubmatch(sql[open+len(quote) : closing])
	if m == nil {
		return "", false
	}
	return strings.TrimRight(m[1], " \t\r\n"), true
}

// Unwrap removes every guard from sql, restoring the wrapped statements
// exactly as they were before Rewrite. Legacy $$ guards are normalized
// first and unwrapped as well. Owner changes commented out by Rewrite stay
// commented.
func Unwrap(sql string) Result {
	text, pairs := normalizeMarkers(sql)
	stmts := sqlscan.Split(text)

	res := Result{Tag: CanonicalTag, Markers: countMarkers(stmts)}
	res.Markers.Legacy = len(pairs)
	res.Markers.Canonical = max(0, res.Markers.Canonical-len(pairs))

	var sb strings.Builder
	for _, st := range stmts {
		sb.WriteString(st.Leading())
		body := st.SQL()
		if st.Empty() || sqlscan.Classify(st) != sqlscan.KindDo {
			sb.WriteString(body)
			continue
		}
		inner, ok := guardedInner(body)
		if !ok {
			sb.WriteString(body)
			continue
		}
		sb.WriteString(inner)

		change := Change{Kind: sqlscan.KindOther, Action: ActionUnwrapped, Line: st.Line()}
		if stmts := sqlscan.Split(inner); len(stmts) > 0 {
			change.Kind = sqlscan.Classify(stmts[0])
			change.Object = objectLabel(stmts[0])
		}
		res.Changes = append(res.Changes, change)
	}

	res.SQL = sb.String()
	res.Changed = res.SQL != sql
	return res
}
