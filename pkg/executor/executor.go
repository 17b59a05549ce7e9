// Package executor applies an ordered batch of migration files to a database.
//
// Every file runs in its own transaction on a single connection held for
// the whole batch. The first failing file is rolled back, its SQL is saved
// for inspection, and the batch halts: files before it stay committed and
// files after it are never attempted.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"github.com/pthm/remigrate/internal/metrics"
	"github.com/pthm/remigrate/internal/verify"
	"github.com/pthm/remigrate/pkg/loader"
	"github.com/pthm/remigrate/pkg/rewriter"
	"github.com/pthm/remigrate/pkg/sqlscan"
)

// Options configures an Executor.
type Options struct {
	// Rewriter makes each file re-runnable before it executes. Nil runs
	// files exactly as written.
	Rewriter *rewriter.Rewriter

	// DryRun, when set, receives the SQL that would run. Nothing executes
	// and no connection is opened.
	DryRun io.Writer

	// Verify runs verification after each committed file.
	Verify        bool
	VerifyQueries []verify.Query

	// FailedDir receives failed_<file> with the SQL of a failing file.
	// Empty disables the side file.
	FailedDir string
	// FS is the filesystem FailedDir lives on. Nil uses the OS filesystem.
	FS vfs.FileSystem

	// ConnectTimeout bounds acquiring and pinging the batch connection.
	ConnectTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Executor applies migration batches.
type Executor struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// New creates an Executor. db may be nil for dry runs.
func New(db *sql.DB, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FS == nil {
		opts.FS = osfs.New()
	}
	return &Executor{db: db, opts: opts, logger: logger}
}

type pending struct {
	file     loader.MigrationFile
	sql      string
	rewrites int
}

// Run applies batch in order. The returned report is never nil. The error
// wraps ErrConnect when no connection could be made and ErrMigrationFailed
// when a file failed.
func (e *Executor) Run(ctx context.Context, batch *loader.Batch) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: e.opts.DryRun != nil}
	if batch != nil {
		report.Warnings = append(report.Warnings, batch.Warnings...)
	}

	work := e.prepare(batch, report)
	for _, p := range work {
		report.Results = append(report.Results, Result{File: p.file.Name, Rewrites: p.rewrites})
	}

	if e.opts.DryRun != nil {
		e.writeDryRun(e.opts.DryRun, work)
		report.Duration = time.Since(start)
		return report, nil
	}

	conn, err := e.connect(ctx)
	if err != nil {
		report.Duration = time.Since(start)
		e.opts.Metrics.BatchFinished(false, report.Duration)
		return report, err
	}
	defer func() { _ = conn.Close() }()

	for i, p := range work {
		res := &report.Results[i]
		e.logger.Debug("applying migration", "file", p.file.Name, "rewrites", p.rewrites)

		began := time.Now()
		err := e.apply(ctx, conn, p.sql)
		res.Duration = time.Since(began)

		if err != nil {
			res.Status = StatusFailed
			res.Err = err
			res.Message = DescribeError(err, p.sql)
			res.FailedSQLPath = e.saveFailedSQL(p.file.Name, p.sql)
			e.logger.Error("migration failed", "file", p.file.Name, "sqlstate", SQLState(err), "error", err)

			e.opts.Metrics.ObserveMigration(metrics.OutcomeFailed, res.Duration)
			for range work[i+1:] {
				e.opts.Metrics.ObserveMigration(metrics.OutcomeSkipped, 0)
			}
			report.Duration = time.Since(start)
			e.opts.Metrics.BatchFinished(false, report.Duration)
			return report, fmt.Errorf("%w: %s: %w", ErrMigrationFailed, p.file.Name, err)
		}

		res.Status = StatusSuccess
		e.opts.Metrics.ObserveMigration(metrics.OutcomeSuccess, res.Duration)
		e.logger.Info("applied migration", "file", p.file.Name, "duration", res.Duration.Round(time.Millisecond))

		if e.opts.Verify {
			v := verify.New(conn, e.opts.VerifyQueries).WithLogger(e.logger)
			vr, err := v.Run(ctx, p.file.Name, p.sql)
			res.Verification = vr
			if err != nil {
				e.logger.Warn("verification interrupted", "file", p.file.Name, "error", err)
			} else if vr.HasErrors() {
				e.logger.Warn("verification reported errors", "file", p.file.Name, "errors", vr.Errors)
			}
		}
	}

	report.Duration = time.Since(start)
	e.opts.Metrics.BatchFinished(true, report.Duration)
	return report, nil
}

// prepare rewrites every file in memory. Files on disk are never touched.
func (e *Executor) prepare(batch *loader.Batch, report *Report) []pending {
	if batch == nil {
		return nil
	}
	work := make([]pending, 0, len(batch.Files))
	for _, f := range batch.Files {
		p := pending{file: f, sql: f.SQL}
		if e.opts.Rewriter != nil {
			res := e.opts.Rewriter.Rewrite(f.SQL)
			p.sql = res.SQL
			for _, c := range res.Changes {
				if c.Action == rewriter.ActionGuarded {
					continue
				}
				p.rewrites++
				e.opts.Metrics.ObserveRewrite(c.Kind.String(), string(c.Action), 1)
			}
		}
		if managesTransaction(p.sql) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%s contains transaction control statements; they interfere with the per-file transaction", f.Name))
		}
		work = append(work, p)
	}
	return work
}

func (e *Executor) connect(ctx context.Context) (*sql.Conn, error) {
	if e.db == nil {
		return nil, fmt.Errorf("%w: no database configured", ErrConnect)
	}
	cctx := ctx
	if e.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := e.db.Conn(cctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if err := conn.PingContext(cctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return conn, nil
}

// apply runs one file's SQL as a single batch inside a transaction.
func (e *Executor) apply(ctx context.Context, conn *sql.Conn, query string) error {
	if !hasStatements(query) {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (e *Executor) saveFailedSQL(name, query string) string {
	if e.opts.FailedDir == "" {
		return ""
	}
	if err := e.opts.FS.MkdirAll(e.opts.FailedDir, 0o755); err != nil {
		e.logger.Warn("could not create failed SQL directory", "dir", e.opts.FailedDir, "error", err)
		return ""
	}
	path := filepath.Join(e.opts.FailedDir, "failed_"+name)
	if err := vfs.WriteFile(e.opts.FS, path, []byte(query), 0o644); err != nil {
		e.logger.Warn("could not save failed SQL", "path", path, "error", err)
		return ""
	}
	return path
}

// writeDryRun writes the SQL that would run to the provided writer.
func (e *Executor) writeDryRun(w io.Writer, work []pending) {
	pass := "disabled"
	if e.opts.Rewriter != nil {
		pass = "v" + rewriter.Version
	}
	_, _ = fmt.Fprintf(w, "-- remigrate (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Rewrite pass: %s\n", pass)
	_, _ = fmt.Fprintf(w, "-- Files: %d\n", len(work))
	_, _ = fmt.Fprintf(w, "\n")

	for _, p := range work {
		_, _ = fmt.Fprintf(w, "-- ============================================================\n")
		_, _ = fmt.Fprintf(w, "-- %s (%d statements rewritten)\n", p.file.Name, p.rewrites)
		_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
		_, _ = fmt.Fprintf(w, "%s\n\n", p.sql)
	}
}

func hasStatements(query string) bool {
	for _, st := range sqlscan.Split(query) {
		if !st.Empty() {
			return true
		}
	}
	return false
}

// managesTransaction reports whether query has top-level BEGIN, COMMIT,
// ROLLBACK or similar statements of its own.
func managesTransaction(query string) bool {
	for _, st := range sqlscan.Split(query) {
		if st.Empty() {
			continue
		}
		kw := sqlscan.Keywords(st, 2)
		if len(kw) == 0 {
			continue
		}
		switch kw[0] {
		case "COMMIT", "ROLLBACK", "END", "ABORT":
			return true
		case "BEGIN":
			if len(kw) == 1 || kw[1] != "ATOMIC" {
				return true
			}
		case "START":
			if len(kw) > 1 && kw[1] == "TRANSACTION" {
				return true
			}
		}
	}
	return false
}
