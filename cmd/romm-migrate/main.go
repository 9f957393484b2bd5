// Command romm-migrate manages the romm database schema: it applies and
// rolls back the versioned migrations and reports migration status, against
// MySQL or PostgreSQL.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/Tux00-repo/romm/server/config"
	"github.com/Tux00-repo/romm/server/datastore/sqlstore"
	"github.com/Tux00-repo/romm/server/romm"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "romm-migrate",
		Short: "Manage the romm database schema",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	configManager := config.NewManager(rootCmd)

	rootCmd.AddCommand(createUpgradeCmd(configManager))
	rootCmd.AddCommand(createDowngradeCmd(configManager))
	rootCmd.AddCommand(createStatusCmd(configManager))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(cfg config.LoggingConfig) log.Logger {
	var logger log.Logger
	if cfg.JSON {
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	if cfg.Debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func initFatal(err error, message string) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", message, err)
	os.Exit(1)
}

func openDatastore(configManager config.Manager) romm.Datastore {
	cfg := configManager.LoadConfig()
	logger := initLogger(cfg.Logging)

	ds, err := sqlstore.New(cfg.Database, sqlstore.Logger(logger))
	if err != nil {
		initFatal(err, "creating db connection")
	}
	return ds
}

func createUpgradeCmd(configManager config.Manager) *cobra.Command {
	noPrompt := false

	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply all pending schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			ds := openDatastore(configManager)
			defer ds.Close()

			status, err := ds.MigrationStatus(cmd.Context())
			if err != nil {
				initFatal(err, "retrieving migration status")
			}
			migrationStatusCheck(status, noPrompt)

			if err := ds.MigrateTables(cmd.Context()); err != nil {
				initFatal(err, "migrating db schema")
			}

			fmt.Println("Migrations completed.")
		},
	}

	upgradeCmd.PersistentFlags().BoolVar(&noPrompt, "no-prompt", false, "disable prompting before migrations (for use in scripts)")

	return upgradeCmd
}

func createDowngradeCmd(configManager config.Manager) *cobra.Command {
	steps := 1

	downgradeCmd := &cobra.Command{
		Use:   "downgrade",
		Short: "Roll back the most recently applied migration",
		Run: func(cmd *cobra.Command, args []string) {
			ds := openDatastore(configManager)
			defer ds.Close()

			for i := 0; i < steps; i++ {
				if err := ds.RollbackTables(cmd.Context()); err != nil {
					initFatal(err, "rolling back db schema")
				}
			}

			version, err := ds.Version(cmd.Context())
			if err != nil {
				initFatal(err, "retrieving db version")
			}
			fmt.Printf("Rolled back %d migration(s). Database is now at version %d.\n", steps, version)
		},
	}

	downgradeCmd.PersistentFlags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	return downgradeCmd
}

func createStatusCmd(configManager config.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the migration status of the database",
		Run: func(cmd *cobra.Command, args []string) {
			ds := openDatastore(configManager)
			defer ds.Close()

			status, err := ds.MigrationStatus(cmd.Context())
			if err != nil {
				initFatal(err, "retrieving migration status")
			}

			switch status.StatusCode {
			case romm.NoMigrationsCompleted:
				fmt.Println("No migrations applied.")
			case romm.AllMigrationsCompleted:
				version, err := ds.Version(cmd.Context())
				if err != nil {
					initFatal(err, "retrieving db version")
				}
				fmt.Printf("Up to date at version %d.\n", version)
			case romm.SomeMigrationsCompleted:
				fmt.Printf("Missing migrations: %v.\n", status.Missing)
			case romm.UnknownMigrations:
				fmt.Printf("Unknown migrations: %v.\n", status.Unknown)
			}
		},
	}
}

func migrationStatusCheck(status *romm.MigrationStatus, noPrompt bool) {
	switch status.StatusCode {
	case romm.NoMigrationsCompleted:
		// OK
	case romm.AllMigrationsCompleted:
		fmt.Println("Migrations already completed. Nothing to do.")
	case romm.SomeMigrationsCompleted:
		if !noPrompt {
			fmt.Printf("################################################################################\n"+
				"# WARNING:\n"+
				"#   This will perform database migrations. Please back up your data before\n"+
				"#   continuing.\n"+
				"#\n"+
				"#   Missing migrations: %v.\n"+
				"#\n"+
				"#   Press Enter to continue, or Control-c to exit.\n"+
				"################################################################################\n",
				status.Missing)
			bufio.NewScanner(os.Stdin).Scan()
		}
	case romm.UnknownMigrations:
		fmt.Printf("################################################################################\n"+
			"# WARNING:\n"+
			"#   Your database has unrecognized migrations. This could happen when\n"+
			"#   running an older version of romm on a newer migrated database.\n"+
			"#\n"+
			"#   Unknown migrations: %v.\n"+
			"################################################################################\n",
			status.Unknown)
		os.Exit(1)
	}
}
