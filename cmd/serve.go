package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"advsec/analysis"
	"advsec/api"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored alerts and reports over HTTP",
		Long: `Start the read-only HTTP API. Exposes alert listings, analysis reports
and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := initApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if addr == "" {
				addr = fmt.Sprintf("%s:%d", app.cfg.API.Host, app.cfg.API.Port)
			}

			analyzer := analysis.NewAnalyzer(app.sqlite, app.sugar)
			server := api.NewServer(addr, app.store, analyzer, app.cfg.Organization, app.cfg.Project, app.sugar)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				app.sugar.Infow("Shutting down", "signal", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown failed: %w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
