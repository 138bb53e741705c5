// Package cli implements the command-line interface for regsync.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/regsync/internal/app"
	"github.com/kilupskalvis/regsync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "regsync",
	Short: "Companies House registry sync",
	Long: `regsync mirrors the Companies House register into a warehouse.

It sweeps the search index, refreshes company profiles, detects which
companies changed since their profile was last fetched and publishes
those changes to a durable topic for an idempotent consumer.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default $"+config.EnvConfig+" or ./"+config.DefaultFile+")")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(detailsCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(deliverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadApp reads the configuration and wires the pipeline. CLI commands log
// to stderr so stdout stays readable.
func loadApp(ctx context.Context) *app.App {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}

	a, err := app.New(ctx, cfg, cfg.Logger(os.Stderr))
	if err != nil {
		exitError("%v", err)
	}
	return a
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// out is where commands print their results.
var out io.Writer = os.Stdout
