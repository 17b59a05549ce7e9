package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/table"
	"github.com/pthm/remigrate/pkg/rewriter"
)

var listSel selection

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the migrations that would be applied",
	Long: `List the selected migration files in the order apply runs them, with
their guard markers and the number of statements the rewrite would change.`,
	Example: `  # List every migration
  remigrate list

  # List a range
  remigrate list --from 009 --to 011`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loadBatch(listSel)
		if batch == nil {
			return err
		}
		printWarnings(batch)

		r := rewriter.New(cfg.RewriteOptions())
		rows := make([][]string, 0, batch.Len())
		for _, f := range batch.Files {
			m := rewriter.DetectMarkers(f.SQL)
			pending := 0
			for _, c := range r.Rewrite(f.SQL).Changes {
				if c.Action != rewriter.ActionGuarded {
					pending++
				}
			}
			rows = append(rows, []string{
				f.Prefix,
				f.Name,
				strconv.FormatInt(f.Size, 10),
				fmt.Sprintf("%d/%d/%d", m.Canonical, m.Legacy, m.Other),
				strconv.Itoa(pending),
			})
		}

		w := out()
		if err := table.Render(w, []string{"Prefix", "File", "Bytes", "Guards (canonical/legacy/other)", "Pending rewrites"}, rows); err != nil {
			return cli.GeneralError("rendering table", err)
		}
		_, _ = fmt.Fprintf(w, "\n%d migrations in %s\n", batch.Len(), batch.Dir)
		return nil
	},
}

func init() {
	listSel.bind(listCmd)
}
