package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/verify"
)

var (
	verifySel selection
	verifyDB  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that migrated objects exist",
	Long: `Check the database for the objects each selected migration creates, and run
the configured verification queries. Nothing is applied and every check runs
in a read-only transaction.`,
	Example: `  # Verify every migration
  remigrate verify --db postgres://localhost/mydb

  # Verify one file with passing checks shown
  remigrate verify --files 011_refunds.sql -v`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loadBatch(verifySel)
		if batch == nil {
			return err
		}
		printWarnings(batch)

		db, err := openDB(verifyDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ctx := cmd.Context()
		if err := ping(ctx, db); err != nil {
			return err
		}

		v := verify.New(db, cfg.Verify.Queries).WithLogger(logger)
		w := out()
		failed := 0
		for _, f := range batch.Files {
			report, err := v.Run(ctx, f.Name, f.SQL)
			if err != nil {
				return cli.GeneralError("verifying "+f.Name, err)
			}
			report.Print(w, verbose > 0)
			if report.HasErrors() {
				failed++
			}
		}

		if failed > 0 {
			return cli.GeneralError(fmt.Sprintf("verification failed for %d of %d migrations", failed, batch.Len()), nil)
		}
		_, _ = fmt.Fprintf(w, "\n%d migrations verified\n", batch.Len())
		return nil
	},
}

func init() {
	verifySel.bind(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyDB, "db", "", "database URL")
}
