package main

import (
	"fmt"
	"strconv"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/table"
	"github.com/pthm/remigrate/pkg/loader"
	"github.com/pthm/remigrate/pkg/rewriter"
)

var (
	fixSel   selection
	fixWrite bool
	fixCheck bool
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Make migration files re-runnable on disk",
	Long: `Rewrite migration files so applying them twice is harmless.

Without --write, the changes are listed and nothing is modified. Running fix
on already fixed files changes nothing.`,
	Example: `  # Show what would change
  remigrate fix

  # Rewrite the files in place
  remigrate fix --write

  # Fail in CI when a file is not re-runnable
  remigrate fix --check`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loadBatch(fixSel)
		if batch == nil {
			return err
		}
		r := rewriter.New(cfg.RewriteOptions())
		return transformFiles(batch, r.Rewrite, "fix", fixWrite, fixCheck)
	},
}

func init() {
	fixSel.bind(fixCmd)
	fixCmd.Flags().BoolVar(&fixWrite, "write", false, "write the rewritten files")
	fixCmd.Flags().BoolVar(&fixCheck, "check", false, "exit non-zero if any file would change")
}

// transformFiles applies fn to every file of batch, reports the changes in
// a table and optionally writes the results back.
func transformFiles(batch *loader.Batch, fn func(string) rewriter.Result, name string, write, check bool) error {
	fs := osfs.New()
	printWarnings(batch)

	var rows [][]string
	changed := 0
	for _, f := range batch.Files {
		res := fn(f.SQL)
		for _, c := range res.Changes {
			if c.Action == rewriter.ActionGuarded && verbose == 0 {
				continue
			}
			rows = append(rows, []string{f.Name, strconv.Itoa(c.Line), c.Kind.String(), string(c.Action), c.Object})
		}
		if !res.Changed {
			continue
		}
		changed++
		if write {
			if err := vfs.WriteFile(fs, f.Path, []byte(res.SQL), 0o644); err != nil {
				return cli.GeneralError("writing "+f.Name, err)
			}
			logger.Debug("rewrote migration", "file", f.Name, "pass", rewriter.Version)
		}
	}

	w := out()
	if len(rows) > 0 {
		if err := table.Render(w, []string{"File", "Line", "Kind", "Action", "Object"}, rows); err != nil {
			return cli.GeneralError("rendering table", err)
		}
		_, _ = fmt.Fprintln(w)
	}

	switch {
	case changed == 0:
		_, _ = fmt.Fprintf(w, "%d files checked, nothing to %s\n", batch.Len(), name)
	case write:
		_, _ = fmt.Fprintf(w, "%d of %d files rewritten\n", changed, batch.Len())
	default:
		_, _ = fmt.Fprintf(w, "%d of %d files would change (use --write to apply)\n", changed, batch.Len())
	}

	if check && changed > 0 && !write {
		return cli.GeneralError(fmt.Sprintf("%d files would change", changed), nil)
	}
	return nil
}
