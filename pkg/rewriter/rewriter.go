// Package rewriter makes migration scripts safe to re-run.
//
// Statements that fail when their object already exists (policies,
// triggers, indexes, types, ...) or when the migrating role lacks
// ownership (RLS toggles, comments) are wrapped in a DO block that swallows
// exactly those error classes. Everything else is left byte-for-byte
// untouched, so a first run against an empty database behaves exactly as
// the unmodified script would.
//
// Rewriting is a fixed point: Rewrite(Rewrite(x).SQL).SQL == Rewrite(x).SQL.
package rewriter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pthm/remigrate/pkg/sqlscan"
)

// Version identifies the rewrite pass. It changes whenever the output of
// Rewrite for some input changes.
const Version = "2"

// windowSize is how much text before a statement is inspected for an open
// guard marker.
const windowSize = 100

// openGuardRe matches a comment-free window that ends in an open block,
// which covers both a bare BEGIN and DO $tag$ BEGIN.
var openGuardRe = regexp.MustCompile(`(?i)\bBEGIN\s*$`)

// Action describes what Rewrite or Unwrap did to a statement.
type Action string

const (
	ActionWrapped    Action = "wrapped"
	ActionGuarded    Action = "already-guarded"
	ActionCommented  Action = "commented"
	ActionStripped   Action = "stripped"
	ActionNormalized Action = "normalized"
	ActionUnwrapped  Action = "unwrapped"
)

// Change records one statement-level edit.
type Change struct {
	Kind   sqlscan.Kind
	Action Action
	Line   int    // 1-based line of the statement in the input
	Object string // e.g. `"Users can view" ON refunds`
}

// Result is the outcome of a rewrite pass.
type Result struct {
	SQL     string
	Tag     string // dollar-quote tag used for new guards
	Changed bool   // SQL differs from the input
	Changes []Change
	Markers Markers // guard markers found in the input
}

// Count returns how many changes carry the given action.
func (r Result) Count(action Action) int {
	n := 0
	for _, c := range r.Changes {
		if c.Action == action {
			n++
		}
	}
	return n
}

// Options controls a Rewriter.
type Options struct {
	// SkipOwnerChanges comments out ALTER ... OWNER TO statements.
	SkipOwnerChanges bool
	// SkipGrants comments out GRANT, REVOKE and ALTER DEFAULT PRIVILEGES.
	SkipGrants bool
	// StripPairedDrops removes a DROP POLICY/TRIGGER immediately followed by
	// the CREATE of the same object, leaving the guarded CREATE alone.
	StripPairedDrops bool
	// Notices makes guards RAISE NOTICE when they swallow an error.
	Notices bool
	// Guards overrides DefaultGuards when non-empty.
	Guards []Guard
}

// DefaultOptions returns the options used by the package-level Rewrite.
func DefaultOptions() Options {
	return Options{
		SkipOwnerChanges: true,
		StripPairedDrops: true,
	}
}

// Rewriter applies one configured rewrite pass.
type Rewriter struct {
	opts   Options
	guards map[sqlscan.Kind]Guard
}

// New creates a Rewriter.
func New(opts Options) *Rewriter {
	guards := opts.Guards
	if len(guards) == 0 {
		guards = DefaultGuards()
	}
	r := &Rewriter{opts: opts, guards: make(map[sqlscan.Kind]Guard, len(guards))}
	for _, g := range guards {
		r.guards[g.Kind] = g
	}
	return r
}

// Rewrite applies DefaultOptions to sql.
func Rewrite(sql string) Result {
	return New(DefaultOptions()).Rewrite(sql)
}

// Rewrite returns sql with every guardable statement wrapped.
func (r *Rewriter) Rewrite(sql string) Result {
	text, pairs := normalizeMarkers(sql)
	stmts := sqlscan.Split(text)

	res := Result{Tag: r.selectTag(text, stmts), Markers: countMarkers(stmts)}
	res.Markers.Legacy = len(pairs)
	res.Markers.Canonical = max(0, res.Markers.Canonical-len(pairs))
	for _, p := range pairs {
		res.Changes = append(res.Changes, Change{
			Kind:   sqlscan.KindDo,
			Action: ActionNormalized,
			Line:   strings.Count(sql[:p.open[0]], "\n") + 1,
		})
	}

	var sb strings.Builder
	sb.Grow(len(text))
	trimNext := false
	for i, st := range stmts {
		lead := st.Leading()
		if trimNext {
			lead = trimFirstLine(lead)
			trimNext = false
		}
		if st.Empty() {
			sb.WriteString(lead)
			sb.WriteString(st.SQL())
			continue
		}

		body := st.SQL()
		kind := sqlscan.Classify(st)
		strip := r.opts.StripPairedDrops && pairedDrop(stmts, i, kind)
		if strip {
			// The CREATE takes over the dropped statement's indentation.
			lead = strings.TrimRight(lead, " \t")
		}
		sb.WriteString(lead)
		change := Change{Kind: kind, Line: st.Line(), Object: objectLabel(st)}

		switch {
		case strip:
			change.Action = ActionStripped
			trimNext = true
		case kind == sqlscan.KindOwnerChange && r.opts.SkipOwnerChanges:
			sb.WriteString(commentOut(body, "skipped owner change"))
			sb.WriteString(lineBreakAfter(text, st.End))
			change.Action = ActionCommented
		case kind == sqlscan.KindGrant && r.opts.SkipGrants:
			sb.WriteString(commentOut(body, "skipped grant"))
			sb.WriteString(lineBreakAfter(text, st.End))
			change.Action = ActionCommented
		default:
			g, ok := r.guards[kind]
			if !ok {
				sb.WriteString(body)
				continue
			}
			if guardedBefore(text, st.Start) {
				sb.WriteString(body)
				change.Action = ActionGuarded
				break
			}
			stmt, trailing := terminate(body)
			sb.WriteString(g.Wrap(stmt, res.Tag, r.opts.Notices))
			sb.WriteString(trailing)
			change.Action = ActionWrapped
		}
		res.Changes = append(res.Changes, change)
	}

	sort.SliceStable(res.Changes, func(i, j int) bool {
		return res.Changes[i].Line < res.Changes[j].Line
	})
	res.SQL = sb.String()
	res.Changed = res.SQL != sql
	return res
}

// selectTag picks the dollar tag for new guards. The canonical tag is used
// unless a statement about to be wrapped already contains it, in which case
// the first numbered variant absent from the whole script is used.
func (r *Rewriter) selectTag(text string, stmts []sqlscan.Statement) string {
	quoted := "$" + CanonicalTag + "$"
	clash := false
	for _, st := range stmts {
		if st.Empty() {
			continue
		}
		if _, ok := r.guards[sqlscan.Classify(st)]; ok && strings.Contains(st.SQL(), quoted) {
			clash = true
			break
		}
	}
	if !clash {
		return CanonicalTag
	}
	for n := 1; ; n++ {
		tag := fmt.Sprintf("%s_%d", CanonicalTag, n)
		if !strings.Contains(text, "$"+tag+"$") {
			return tag
		}
	}
}

// guardedBefore reports whether the text preceding start ends inside an
// open guard. start is where the statement's leading trivia begins, so its
// own comments never count, and comments inside the window are ignored.
func guardedBefore(text string, start int) bool {
	lo := max(0, start-windowSize)
	return openGuardRe.MatchString(sqlscan.StripComments(text[lo:start]))
}

// pairedDrop reports whether stmts[i] is a DROP POLICY/TRIGGER immediately
// followed by the CREATE of the same object on the same table. The CREATE
// may already sit inside a guard.
func pairedDrop(stmts []sqlscan.Statement, i int, kind sqlscan.Kind) bool {
	var want sqlscan.Kind
	switch kind {
	case sqlscan.KindDropPolicy:
		want = sqlscan.KindPolicy
	case sqlscan.KindDropTrigger:
		want = sqlscan.KindTrigger
	default:
		return false
	}

	var next sqlscan.Statement
	found := false
	for _, st := range stmts[i+1:] {
		if !st.Empty() {
			next, found = st, true
			break
		}
	}
	if !found {
		return false
	}
	if sqlscan.Classify(next) == sqlscan.KindDo {
		inner, ok := guardedInner(next.SQL())
		if !ok {
			return false
		}
		split := sqlscan.Split(inner)
		if len(split) == 0 {
			return false
		}
		next = split[0]
	}
	if sqlscan.Classify(next) != want {
		return false
	}

	dropName, dropOn := sqlscan.ObjectName(stmts[i])
	createName, createOn := sqlscan.ObjectName(next)
	return sqlscan.NormalizeName(dropName) == sqlscan.NormalizeName(createName) &&
		sameTable(dropOn, createOn)
}

// sameTable compares two table references, ignoring the schema when only
// one side is qualified.
func sameTable(a, b string) bool {
	pa, pb := sqlscan.SplitName(a), sqlscan.SplitName(b)
	if len(pa) == 0 || len(pb) == 0 {
		return len(pa) == len(pb)
	}
	if len(pa) == len(pb) {
		return strings.Join(pa, ".") == strings.Join(pb, ".")
	}
	return pa[len(pa)-1] == pb[len(pb)-1]
}

func objectLabel(st sqlscan.Statement) string {
	name, on := sqlscan.ObjectName(st)
	if on == "" {
		return name
	}
	if name == "" {
		return "ON " + on
	}
	return name + " ON " + on
}

// commentOut turns every line of stmt into a line comment and marks the
// last one with note.
func commentOut(stmt, note string) string {
	lines := strings.Split(stmt, "\n")
	for i, line := range lines {
		lines[i] = "-- " + line
	}
	lines[len(lines)-1] += " -- " + note
	return strings.Join(lines, "\n")
}

// lineBreakAfter returns "\n" when the rest of the line following end holds
// something other than whitespace or a line comment, so that a commented-out
// statement does not swallow it.
func lineBreakAfter(text string, end int) string {
	rest := text[end:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" || strings.HasPrefix(rest, "--") {
		return ""
	}
	return "\n"
}

// terminate splits an unterminated final statement from its trailing
// whitespace and appends the semicolon a guard needs.
func terminate(body string) (stmt, trailing string) {
	trimmed := strings.TrimRight(body, " \t\r\n")
	if strings.HasSuffix(trimmed, ";") {
		return trimmed, body[len(trimmed):]
	}
	return trimmed + ";", body[len(trimmed):]
}

// trimFirstLine drops leading blanks up to and including the first line
// break, which belonged to a stripped statement.
func trimFirstLine(lead string) string {
	rest := strings.TrimLeft(lead, " \t")
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		return rest[2:]
	case strings.HasPrefix(rest, "\n"):
		return rest[1:]
	}
	return lead
}
