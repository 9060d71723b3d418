// Package cmd provides command-line interface commands for the alert agent.
package cmd

import (
	"fmt"
	"os"
	"time"

	"advsec/bootstrap"
	"advsec/config"
	"advsec/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds CLI operations that talk to the network or disk.
const defaultTimeout = 10 * time.Minute

// NewRootCmd builds the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "advsec",
		Short: "Azure DevOps Advanced Security alert agent",
		Long: `Collects Advanced Security alerts from Azure DevOps, persists them in a
local SQLite database, and runs aggregate analysis over the stored data.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newAlertsCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// appContext bundles everything a command needs after bootstrap.
type appContext struct {
	cfg    *config.Config
	sugar  *zap.SugaredLogger
	sqlite *storage.SQLite
	store  *storage.SQLiteAlertStorage
}

// initApp runs the common bootstrap sequence for commands that touch the
// database. The caller must Close the returned context.
func initApp() (*appContext, error) {
	_, sugar, err := bootstrap.InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := bootstrap.InitConfig(sugar)
	if err != nil {
		return nil, err
	}

	sqlite, store, err := bootstrap.InitStorage(cfg, sugar)
	if err != nil {
		return nil, err
	}

	return &appContext{
		cfg:    cfg,
		sugar:  sugar,
		sqlite: sqlite,
		store:  store,
	}, nil
}

// Close releases database connections and flushes the logger.
func (a *appContext) Close() {
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.sugar.Warnw("Failed to close database", "error", err)
		}
	}
	_ = a.sugar.Sync()
}
