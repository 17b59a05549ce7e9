package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/logging"
	"github.com/pthm/remigrate/pkg/loader"
)

// selection holds the batch selection flags shared by several commands.
type selection struct {
	dir   string
	from  string
	to    string
	files []string
}

func (s *selection) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.dir, "dir", "", "migrations directory (default from config: migrations)")
	f.StringVar(&s.from, "from", "", "first migration prefix to include")
	f.StringVar(&s.to, "to", "", "last migration prefix to include")
	f.StringSliceVar(&s.files, "files", nil, "explicit migration files to include, in any order")
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns the flag value when the flag was set on the command
// line, so --verify=false overrides apply.verify: true, and the config value
// otherwise.
func resolveBool(cmd *cobra.Command, name string, flagVal, configVal bool) bool {
	if cmd.Flags().Changed(name) {
		return flagVal
	}
	return configVal
}

// loadBatch reads the selected migrations from disk. A nil batch with a nil
// error means there is nothing to do; the message has been printed.
func loadBatch(sel selection) (*loader.Batch, error) {
	files := sel.files
	if len(files) == 0 {
		files = cfg.Apply.Files
	}
	opts := loader.Options{
		From:   resolveString(sel.from, cfg.Apply.From),
		To:     resolveString(sel.to, cfg.Apply.To),
		Files:  splitList(files),
		Logger: logger,
	}
	dir := resolveString(sel.dir, cfg.Dir)

	batch, err := loader.Load(osfs.New(), dir, opts)
	switch {
	case loader.IsNoMigrationsErr(err):
		printWarnings(batch)
		info("No migrations to apply in %s\n", dir)
		return nil, nil
	case loader.IsInvalidRangeErr(err):
		return nil, cli.ConfigError("migration range", err)
	case err != nil:
		return nil, cli.LoadError("loading migrations", err)
	}
	return batch, nil
}

// splitList accepts repeated flags as well as comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func printWarnings(batch *loader.Batch) {
	if batch == nil {
		return
	}
	for _, w := range batch.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openDB opens the configured database. The connection itself is made
// lazily by the caller.
func openDB(flagDSN string) (*sql.DB, error) {
	dsn, err := resolveDSN(flagDSN)
	if err != nil {
		return nil, err
	}
	driver, err := cfg.DriverName()
	if err != nil {
		return nil, cli.ConfigError("database configuration", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return db, nil
}

// ping checks the database is reachable within the configured timeout.
func ping(ctx context.Context, db *sql.DB) error {
	if cfg.Database.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	return nil
}

// out is where reports go. Quiet mode discards them.
func out() io.Writer {
	if quiet {
		return io.Discard
	}
	return logging.Stdout()
}

func info(format string, args ...any) {
	_, _ = fmt.Fprintf(out(), format, args...)
}
