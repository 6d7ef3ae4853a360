/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the bank4 allowance server. Loads configuration,
  wires the store, accrual engine, scheduler and event relay, and serves
  the HTTP API with graceful shutdown.

COMMANDS:
  serve     Run the HTTP API, accrual scheduler and outbox relay (default)
  accrue    Run one accrual batch and print the report as JSON
  migrate   Create or update the database schema and exit

FLAGS:
  --config  Optional YAML config file
  --db      SQLite database path (overrides database.path)
  --port    HTTP server port (overrides server.port)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and wait for an in-flight batch
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Drain the outbox relay
  5. Close database connection

ENVIRONMENT:
  Every config key maps to BANK4_<SECTION>_<KEY>; see config/config.go.
  CRON_SECRET is accepted for the trigger secret.

EXAMPLES:
  # Development with a file database
  ./server serve --db=./data/bank4.db

  # One-off batch from an external cron
  BANK4_ENVIRONMENT=production ./server accrue

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings and defaults
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teich/bank4/config"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Family allowance server",
	Long: `bank4 tracks a family's SPENDING, SAVING and GIVING balances and pays
each child's weekly allowance, with compound interest on savings.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP server port")

	// Unset flags fall back to file, env and defaults.
	cobra.CheckErr(v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db")))
	cobra.CheckErr(v.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port")))

	rootCmd.AddCommand(serveCmd, accrueCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
