package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/update"
	"github.com/pthm/remigrate/internal/version"
	"github.com/pthm/remigrate/pkg/rewriter"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(w, version.Info())
		_, _ = fmt.Fprintf(w, "rewrite pass v%s\n", rewriter.Version)

		if !versionCheck {
			return nil
		}
		info, err := update.NewChecker().Check(cmd.Context())
		if err != nil {
			// Offline or rate-limited; not worth a failing exit.
			_, _ = fmt.Fprintf(w, "update check failed: %v\n", err)
			return nil
		}
		if info.UpdateAvailable {
			_, _ = fmt.Fprintf(w, "update available: %s -> %s\n  %s\n", info.CurrentVersion, info.LatestVersion, info.ReleaseURL)
		} else {
			_, _ = fmt.Fprintf(w, "remigrate is up to date (%s)\n", info.LatestVersion)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}
