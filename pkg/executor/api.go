package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mandelsoft/vfs/pkg/osfs"

	"github.com/pthm/remigrate/pkg/loader"
	"github.com/pthm/remigrate/pkg/rewriter"
)

// Apply loads every migration in dir and applies it to db with the default
// rewrite pass. This is the recommended high-level API for applications
// that run their migrations on startup.
//
// Applied state is not tracked: every file runs on every call, and the
// rewrite pass is what makes that safe for policies, triggers, indexes and
// the other guarded statement kinds. Plain CREATE TABLE statements should
// use IF NOT EXISTS.
//
// Example usage on application startup:
//
//	report, err := executor.Apply(ctx, db, "migrations")
//	if err != nil {
//	    report.Print(os.Stderr, false)
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// For fine-grained control (ranges, dry-run, verification), use Load and
// New directly.
func Apply(ctx context.Context, db *sql.DB, dir string) (*Report, error) {
	batch, err := loader.Load(osfs.New(), dir, loader.Options{})
	if loader.IsNoMigrationsErr(err) {
		return &Report{}, nil
	}
	if err != nil {
		return &Report{}, fmt.Errorf("loading migrations: %w", err)
	}

	e := New(db, Options{Rewriter: rewriter.New(rewriter.DefaultOptions())})
	return e.Run(ctx, batch)
}
