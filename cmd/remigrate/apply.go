package main

import (
	"context"
	"database/sql"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/metrics"
	"github.com/pthm/remigrate/pkg/executor"
	"github.com/pthm/remigrate/pkg/rewriter"
)

var (
	applySel       selection
	applyDB        string
	applyDryRun    bool
	applyVerify    bool
	applyNoRewrite bool
	applyFailedDir string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply migrations to the database",
	Long: `Apply migration files in numeric prefix order.

Each file runs in its own transaction. The first failing file is rolled back,
its SQL is saved as failed_<file>, and no later file is attempted. Files are
rewritten in memory first so that re-applying them is safe; the files on disk
are not modified.`,
	Example: `  # Apply every migration in ./migrations
  remigrate apply --db postgres://localhost/mydb

  # Apply a range of migrations
  remigrate apply --from 009 --to 011

  # Apply specific files
  remigrate apply --files 010_add_index.sql,011_backfill.sql

  # Show the SQL that would run
  remigrate apply --dry-run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApply(cmd)
	},
}

func init() {
	applySel.bind(applyCmd)
	f := applyCmd.Flags()
	f.StringVar(&applyDB, "db", "", "database URL")
	f.BoolVar(&applyDryRun, "dry-run", false, "print the SQL that would run without connecting")
	f.BoolVar(&applyVerify, "verify", false, "verify created objects after each file")
	f.BoolVar(&applyNoRewrite, "no-rewrite", false, "run files exactly as written")
	f.StringVar(&applyFailedDir, "failed-dir", "", "directory for failed_<file> copies (default from config: .)")
}

func runApply(cmd *cobra.Command) error {
	ctx := cmd.Context()
	batch, err := loadBatch(applySel)
	if batch == nil {
		return err
	}

	rec := metrics.New()
	opts := executor.Options{
		Verify:         resolveBool(cmd, "verify", applyVerify, cfg.Apply.Verify),
		VerifyQueries:  cfg.Verify.Queries,
		FailedDir:      resolveString(applyFailedDir, cfg.Apply.FailedDir),
		ConnectTimeout: cfg.Database.ConnectTimeout,
		Logger:         logger,
		Metrics:        rec,
	}
	if !resolveBool(cmd, "no-rewrite", applyNoRewrite, cfg.Apply.NoRewrite) {
		opts.Rewriter = rewriter.New(cfg.RewriteOptions())
	}

	var db *sql.DB
	reportOut := out()
	if resolveBool(cmd, "dry-run", applyDryRun, cfg.Apply.DryRun) {
		// Dry-run SQL owns stdout; the report goes to stderr.
		opts.DryRun = os.Stdout
		reportOut = os.Stderr
	} else {
		db, err = openDB(applyDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	report, runErr := executor.New(db, opts).Run(ctx, batch)
	report.Print(reportOut, verbose > 0)
	exportMetrics(ctx, rec)

	switch {
	case runErr == nil:
		return nil
	case executor.IsConnectErr(runErr):
		return cli.DBConnectError("connecting to database", runErr)
	default:
		return cli.GeneralError("apply failed", runErr)
	}
}

// exportMetrics pushes and/or writes the batch metrics when configured.
// Export failures are logged, never fatal.
func exportMetrics(ctx context.Context, rec *metrics.Recorder) {
	if url := cfg.Metrics.PushgatewayURL; url != "" {
		if err := rec.Push(ctx, url, cfg.Metrics.Job); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}
	if path := cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			logger.Warn("metrics textfile failed", "error", err)
		}
	}
}
