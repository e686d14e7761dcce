// Command vendorvault serves the vendor credential vault and its maintenance
// subcommands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/vendorvault/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "vendorvault",
	Short: "Encrypted vendor credential vault",
	Long: `vendorvault stores distributor API credentials for the platform and for
each tenant, encrypted at rest, and tests them against the vendor on demand.

Configuration is read from VENDORVAULT_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(vendorsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the environment configuration and installs the default
// logger at the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	return cfg, nil
}
