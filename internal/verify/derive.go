package verify

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/pthm/remigrate/pkg/rewriter"
	"github.com/pthm/remigrate/pkg/sqlscan"
)

// Expectation is a database object a migration is expected to leave behind.
type Expectation struct {
	Kind sqlscan.Kind
	Name string // as written in the migration, quotes preserved
	On   string // owning table for policies and triggers
	Line int
}

// Label renders the expectation for report output.
func (e Expectation) Label() string {
	if e.On != "" {
		return fmt.Sprintf("%s %s on %s", e.Kind, e.Name, e.On)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Name)
}

// guarded reports whether the rewriter may have deliberately skipped the
// statement that creates this object.
func (e Expectation) guarded() bool {
	switch e.Kind {
	case sqlscan.KindTable, sqlscan.KindView:
		return false
	}
	return true
}

// Derive lists the objects created by the statements in sql. Guards are
// looked through; statements that were commented out are not.
func Derive(sql string) []Expectation {
	text := rewriter.Unwrap(sql).SQL

	var out []Expectation
	seen := make(map[string]int)
	for _, st := range sqlscan.Split(text) {
		if st.Empty() {
			continue
		}
		kind := sqlscan.Classify(st)
		name, on := sqlscan.ObjectName(st)

		switch kind {
		case sqlscan.KindTable, sqlscan.KindView, sqlscan.KindFunction,
			sqlscan.KindType, sqlscan.KindPolicy, sqlscan.KindTrigger, sqlscan.KindRLS:
		case sqlscan.KindIndex:
			if name == "" {
				continue
			}
			if !strings.Contains(name, ".") {
				// Indexes live in their table's schema.
				if parts := sqlscan.SplitName(on); len(parts) > 1 {
					name = strings.Join(quoteParts(parts[:len(parts)-1]), ".") + "." + name
				}
			}
		case sqlscan.KindDropPolicy, sqlscan.KindDropTrigger:
			created := sqlscan.KindPolicy
			if kind == sqlscan.KindDropTrigger {
				created = sqlscan.KindTrigger
			}
			if i, ok := seen[key(created, name, on)]; ok {
				out = append(out[:i], out[i+1:]...)
				delete(seen, key(created, name, on))
				reindex(seen, out)
			}
			continue
		default:
			continue
		}
		if name == "" {
			continue
		}

		k := key(kind, name, on)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = len(out)
		out = append(out, Expectation{Kind: kind, Name: name, On: on, Line: st.Line()})
	}
	return out
}

func key(kind sqlscan.Kind, name, on string) string {
	return kind.String() + "|" + sqlscan.NormalizeName(name) + "|" + sqlscan.NormalizeName(on)
}

func reindex(seen map[string]int, out []Expectation) {
	for i, e := range out {
		seen[key(e.Kind, e.Name, e.On)] = i
	}
}

func quoteParts(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = pq.QuoteIdentifier(p)
	}
	return out
}

// checkSQL renders the catalog query answering whether e exists. Every
// query returns a single boolean. Values are inlined as literals so the
// query also runs on connections that reject placeholders.
func checkSQL(e Expectation) string {
	lit := pq.QuoteLiteral
	switch e.Kind {
	case sqlscan.KindType:
		return fmt.Sprintf("SELECT to_regtype(%s) IS NOT NULL", lit(e.Name))
	case sqlscan.KindFunction:
		parts := sqlscan.SplitName(e.Name)
		q := fmt.Sprintf(
			"SELECT EXISTS (SELECT 1 FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace WHERE p.proname = %s",
			lit(parts[len(parts)-1]))
		if len(parts) > 1 {
			q += fmt.Sprintf(" AND n.nspname = %s", lit(parts[len(parts)-2]))
		}
		return q + ")"
	case sqlscan.KindPolicy:
		parts := sqlscan.SplitName(e.On)
		if len(parts) == 0 {
			return "SELECT false"
		}
		q := fmt.Sprintf(
			"SELECT EXISTS (SELECT 1 FROM pg_policies WHERE policyname = %s AND tablename = %s",
			lit(strings.Join(sqlscan.SplitName(e.Name), ".")), lit(parts[len(parts)-1]))
		if len(parts) > 1 {
			q += fmt.Sprintf(" AND schemaname = %s", lit(parts[len(parts)-2]))
		}
		return q + ")"
	case sqlscan.KindTrigger:
		return fmt.Sprintf(
			"SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = %s AND tgrelid = to_regclass(%s))",
			lit(strings.Join(sqlscan.SplitName(e.Name), ".")), lit(e.On))
	case sqlscan.KindRLS:
		return fmt.Sprintf(
			"SELECT coalesce((SELECT relrowsecurity FROM pg_class WHERE oid = to_regclass(%s)), false)",
			lit(e.Name))
	default:
		return fmt.Sprintf("SELECT to_regclass(%s) IS NOT NULL", lit(e.Name))
	}
}
