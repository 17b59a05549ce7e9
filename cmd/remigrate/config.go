package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var configShowSource bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging defaults, config file, .env
and environment variables. Passwords are masked.`,
	Example: `  # Show effective configuration
  remigrate config show

  # Show configuration with source file path
  remigrate config show --source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if configShowSource {
			if configPath != "" {
				_, _ = fmt.Fprintf(w, "Config file: %s\n\n", configPath)
			} else {
				_, _ = fmt.Fprintln(w, "Config file: (none, using defaults)")
				_, _ = fmt.Fprintln(w)
			}
		}

		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(w, string(data))
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show config file source")
	configCmd.AddCommand(configShowCmd)
}
