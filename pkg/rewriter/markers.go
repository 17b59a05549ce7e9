package rewriter

import (
	"regexp"
	"strings"

	"github.com/pthm/remigrate/pkg/sqlscan"
)

// CanonicalTag is the dollar-quote tag of guards written by this package.
const CanonicalTag = "migration"

var (
	// Older tooling wrapped statements in DO $$ ... $$, which breaks as soon
	// as the wrapped statement has a $$ body of its own.
	legacyOpenRe  = regexp.MustCompile(`(?i)\bDO\s+\$\$\s+BEGIN\s+BEGIN\b`)
	legacyCloseRe = regexp.MustCompile(`(?i)\bEND\s*;\s+END\s+\$\$\s*;`)

	guardTagRe = regexp.MustCompile(`^` + CanonicalTag + `(_[0-9]+)?$`)
	doTagRe    = regexp.MustCompile(`(?is)^DO\s+(?:LANGUAGE\s+\w+\s+)?\$([A-Za-z_][A-Za-z0-9_]*)?\$`)
)

// Markers counts the DO blocks found in a script.
type Markers struct {
	Canonical int // guards quoted with $migration$ or $migration_N$
	Legacy    int // $$-quoted guards, converted to canonical on rewrite
	Other     int // any other top-level DO block
}

// Total is the number of DO blocks of any flavour.
func (m Markers) Total() int {
	return m.Canonical + m.Legacy + m.Other
}

// DetectMarkers reports the guard markers present in sql without changing it.
func DetectMarkers(sql string) Markers {
	text, pairs := normalizeMarkers(sql)
	m := countMarkers(sqlscan.Split(text))
	m.Legacy = len(pairs)
	m.Canonical = max(0, m.Canonical-len(pairs))
	return m
}

func countMarkers(stmts []sqlscan.Statement) Markers {
	var m Markers
	for _, st := range stmts {
		if st.Empty() || sqlscan.Classify(st) != sqlscan.KindDo {
			continue
		}
		if isGuardTag(doTag(st.SQL())) {
			m.Canonical++
		} else {
			m.Other++
		}
	}
	return m
}

// isGuardTag reports whether tag (without dollars) is one this package
// writes.
func isGuardTag(tag string) bool {
	return guardTagRe.MatchString(tag)
}

// doTag returns the dollar-quote tag of a DO statement, or "" for $$.
func doTag(sql string) string {
	m := doTagRe.FindStringSubmatch(sql)
	if m == nil {
		return ""
	}
	return m[1]
}

type legacyPair struct {
	open, close []int
}

// normalizeMarkers rewrites legacy $$ guard openers and their closers to
// the canonical tag. Only the two dollar signs of each marker change, so
// byte offsets shift but line numbers do not.
func normalizeMarkers(sql string) (string, []legacyPair) {
	opens := legacyOpenRe.FindAllStringIndex(sql, -1)
	if len(opens) == 0 {
		return sql, nil
	}
	closes := legacyCloseRe.FindAllStringIndex(sql, -1)

	var pairs []legacyPair
	ci := 0
	for k, o := range opens {
		for ci < len(closes) && closes[ci][0] < o[1] {
			ci++
		}
		if ci == len(closes) {
			break
		}
		c := closes[ci]
		if k+1 < len(opens) && opens[k+1][0] < c[0] {
			// Unbalanced opener; leave it alone.
			continue
		}
		ci++
		if strings.Contains(sql[o[1]:c[0]], "$"+CanonicalTag+"$") {
			continue
		}
		pairs = append(pairs, legacyPair{open: o, close: c})
	}
	if len(pairs) == 0 {
		return sql, nil
	}

	canonical := "$" + CanonicalTag + "$"
	var sb strings.Builder
	last := 0
	for _, p := range pairs {
		for _, span := range [][]int{p.open, p.close} {
			at := span[0] + strings.Index(sql[span[0]:span[1]], "$$")
			sb.WriteString(sql[last:at])
			sb.WriteString(canonical)
			last = at + 2
		}
	}
	sb.WriteString(sql[last:])
	return sb.String(), pairs
}
