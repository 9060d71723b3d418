package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"advsec/bootstrap"
	"advsec/fetch"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newCollectCmd() *cobra.Command {
	var repositories []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect alerts from Azure DevOps",
		Long: `Fetch Advanced Security alerts for the configured repositories and store
them in the local database. Repositories given on the command line override
the configured list; with neither, every repository in the project is
collected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := initApp()
			if err != nil {
				return err
			}
			defer app.Close()

			client, err := bootstrap.InitFetchClient(app.cfg, app.sugar)
			if err != nil {
				return err
			}
			defer client.Close()

			repos := repositories
			if len(repos) == 0 {
				repos = app.cfg.Repositories
			}

			var s *spinner.Spinner
			if !quiet && !outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Collecting alerts..."
				s.Start()
			}

			collector := fetch.NewCollector(client, app.store, app.cfg.Organization, app.cfg.Project, app.sugar)
			result, err := collector.Run(ctx, repos)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("collection failed: %w", err)
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			successColor.Printf("Collection run %s complete\n", result.RunID)
			fmt.Printf("  Repositories: %d\n", result.Repositories)
			fmt.Printf("  Alerts stored: %d\n", result.AlertsStored)
			if result.Errors > 0 {
				warningColor.Printf("  Errors: %d (see log for details)\n", result.Errors)
			}
			fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&repositories, "repository", "r", nil, "Repository to collect (repeatable)")
	return cmd
}
