package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pthm/remigrate/internal/cli"
	"github.com/pthm/remigrate/internal/logging"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     *slog.Logger

	// Persistent flags
	cfgFile string
	envFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "remigrate",
	Short: "Re-runnable Postgres migrations",
	Long: `remigrate - Re-runnable Postgres migrations

remigrate applies numbered SQL migration files in order, one transaction per
file, stopping at the first failure. Before running, policies, triggers,
indexes, functions and other objects without IF NOT EXISTS are wrapped in
guard blocks so applying a file twice is harmless.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile, envFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return cli.ConfigError("log configuration", err)
		}
		logger, _ = logging.Setup(logging.Options{
			Level:  logging.Verbosity(level, verbose, quiet),
			Format: cfg.Log.Format,
		})
		logger.Debug("configuration loaded", "path", configPath)
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupMigrations = "migrations"
	groupFiles      = "files"
	groupUtility    = "utility"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover remigrate.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMigrations, Title: "Migrations:"},
		&cobra.Group{ID: groupFiles, Title: "Migration files:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	applyCmd.GroupID = groupMigrations
	verifyCmd.GroupID = groupMigrations
	listCmd.GroupID = groupMigrations
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(listCmd)

	fixCmd.GroupID = groupFiles
	restoreCmd.GroupID = groupFiles
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(restoreCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}
