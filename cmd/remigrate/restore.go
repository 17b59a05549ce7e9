package main

import (
	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/pkg/rewriter"
)

var (
	restoreSel   selection
	restoreWrite bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Remove guard blocks from migration files",
	Long: `Remove the guard blocks added by fix, restoring the original statements.

Legacy $$ guards are recognised as well. Without --write, the changes are
listed and nothing is modified.`,
	Example: `  # Show what would be unwrapped
  remigrate restore

  # Unwrap the files in place
  remigrate restore --write`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := loadBatch(restoreSel)
		if batch == nil {
			return err
		}
		return transformFiles(batch, rewriter.Unwrap, "restore", restoreWrite, false)
	},
}

func init() {
	restoreSel.bind(restoreCmd)
	restoreCmd.Flags().BoolVar(&restoreWrite, "write", false, "write the restored files")
}
