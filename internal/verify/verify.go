// Package verify checks that an applied migration had the intended effect.
//
// The verifier derives the objects a migration creates (tables, views,
// indexes, functions, types, policies, triggers, RLS toggles) and looks
// each one up in the system catalogs. Configured queries add data-level
// checks such as "the coupons seed inserted at least three rows".
// Verification only reads; every query runs in its own read-only
// transaction so one failing check never poisons the next.
//
// Example usage:
//
//	v := verify.New(db, queries)
//	report, err := v.Run(ctx, "021_monetization.sql", sql)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package verify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pthm/remigrate/pkg/loader"
)

// Querier opens transactions. *sql.DB, *sql.Conn and the executor's pinned
// connection all satisfy it.
type Querier interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Query is a configured data check.
type Query struct {
	Name string `mapstructure:"name" json:"name"`
	// Migration limits the query to one file, by name or numeric prefix.
	// Empty runs it after every file.
	Migration string `mapstructure:"migration" json:"migration,omitempty"`
	SQL       string `mapstructure:"sql" json:"sql"`
	MinRows   int    `mapstructure:"min_rows" json:"min_rows,omitempty"`
}

func (q Query) appliesTo(file string) bool {
	if q.Migration == "" || q.Migration == file {
		return true
	}
	prefix, ok := loader.Prefix(file)
	return ok && loader.ComparePrefix(prefix, strings.TrimSpace(q.Migration)) == 0
}

// Verifier runs verification checks against a database.
type Verifier struct {
	q       Querier
	queries []Query
	logger  *slog.Logger
}

// New creates a Verifier. Queries may be nil.
func New(q Querier, queries []Query) *Verifier {
	return &Verifier{q: q, queries: queries, logger: slog.Default()}
}

// WithLogger sets the logger used for debug output.
func (v *Verifier) WithLogger(logger *slog.Logger) *Verifier {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Run verifies one migration file. Check failures are recorded in the
// report; the returned error is non-nil only when ctx is done.
func (v *Verifier) Run(ctx context.Context, file, migrationSQL string) (*Report, error) {
	report := &Report{File: file}

	for _, e := range Derive(migrationSQL) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		v.checkObject(ctx, report, e)
	}

	for _, q := range v.queries {
		if !q.appliesTo(file) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		v.checkQuery(ctx, report, q)
	}

	return report, nil
}

func (v *Verifier) checkObject(ctx context.Context, report *Report, e Expectation) {
	query := checkSQL(e)
	v.logger.Debug("verifying object", "kind", e.Kind.String(), "name", e.Name, "query", query)

	var exists bool
	err := v.readOnly(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query).Scan(&exists)
	})

	check := CheckResult{
		Category: "objects",
		Name:     e.Label(),
		Details:  fmt.Sprintf("line %d\n%s", e.Line, query),
	}
	switch {
	case err != nil:
		check.Status = StatusFail
		check.Message = fmt.Sprintf("Could not check %s: %v", e.Label(), err)
	case exists:
		check.Status = StatusPass
		check.Message = fmt.Sprintf("Found %s", e.Label())
	case e.guarded():
		check.Status = StatusWarn
		check.Message = fmt.Sprintf("Missing %s", e.Label())
		check.FixHint = "the statement is guarded; check whether the migrating role was allowed to create it"
	default:
		check.Status = StatusFail
		check.Message = fmt.Sprintf("Missing %s", e.Label())
	}
	report.AddCheck(check)
}

func (v *Verifier) checkQuery(ctx context.Context, report *Report, q Query) {
	body := strings.TrimRight(strings.TrimSpace(q.SQL), ";")
	query := fmt.Sprintf("SELECT count(*) FROM (%s) AS verify_query", body)
	v.logger.Debug("running verification query", "name", q.Name, "query", query)

	var rows int64
	err := v.readOnly(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query).Scan(&rows)
	})

	name := q.Name
	if name == "" {
		name = body
	}
	check := CheckResult{Category: "queries", Name: name, Details: body}
	switch {
	case err != nil:
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s: query failed: %v", name, err)
	case rows < int64(q.MinRows):
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s: found %d rows, want at least %d", name, rows, q.MinRows)
	default:
		check.Status = StatusPass
		check.Message = fmt.Sprintf("%s: found %d rows", name, rows)
	}
	report.AddCheck(check)
}

func (v *Verifier) readOnly(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := v.q.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("starting read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}
