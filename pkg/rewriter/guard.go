package rewriter

import (
	"github.com/pthm/remigrate/internal/plpgsql"
	"github.com/pthm/remigrate/pkg/sqlscan"
)

// Error condition names swallowed by guards. Every guard suppresses the
// base pair; some kinds raise a different class for "already exists" or
// "missing target".
const (
	CondDuplicateObject       = "duplicate_object"       // 42710
	CondInsufficientPrivilege = "insufficient_privilege" // 42501
	CondDuplicateTable        = "duplicate_table"        // 42P07, relations incl. indexes
	CondDuplicateFunction     = "duplicate_function"     // 42723
	CondUndefinedTable        = "undefined_table"        // 42P01
	CondUndefinedObject       = "undefined_object"       // 42704
)

// Guard is the wrapping rule for one statement kind.
type Guard struct {
	Kind       sqlscan.Kind
	Conditions []string
}

// Wrap renders stmt inside a guard quoted with tag. When notice is true the
// handlers raise a NOTICE instead of silently continuing.
func (g Guard) Wrap(stmt, tag string, notice bool) string {
	msg := ""
	if notice {
		msg = "remigrate: skipped " + g.Kind.String()
	}
	return plpgsql.Guard(tag, stmt, g.Conditions, msg)
}

func conditions(extra ...string) []string {
	return append([]string{CondDuplicateObject, CondInsufficientPrivilege}, extra...)
}

// DefaultGuards returns the guards applied when Options.Guards is empty.
func DefaultGuards() []Guard {
	return []Guard{
		{Kind: sqlscan.KindPolicy, Conditions: conditions()},
		{Kind: sqlscan.KindTrigger, Conditions: conditions()},
		{Kind: sqlscan.KindIndex, Conditions: conditions(CondDuplicateTable)},
		{Kind: sqlscan.KindRLS, Conditions: conditions()},
		{Kind: sqlscan.KindFunction, Conditions: conditions(CondDuplicateFunction)},
		{Kind: sqlscan.KindType, Conditions: conditions()},
		{Kind: sqlscan.KindComment, Conditions: conditions()},
		{Kind: sqlscan.KindDropTrigger, Conditions: conditions(CondUndefinedTable, CondUndefinedObject)},
		{Kind: sqlscan.KindDropPolicy, Conditions: conditions(CondUndefinedTable, CondUndefinedObject)},
	}
}
