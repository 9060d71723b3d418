package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"advsec/core"

	"github.com/spf13/cobra"
)

func newAlertsCmd() *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Browse stored alerts",
	}

	alertsCmd.AddCommand(newAlertsListCmd())
	alertsCmd.AddCommand(newAlertsShowCmd())
	return alertsCmd
}

func newAlertsListCmd() *cobra.Command {
	var (
		repository string
		severities []string
		states     []string
		alertType  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored alerts",
		Long:    "Display stored alerts, newest last-seen first, optionally filtered by repository, severity, state or type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := initApp()
			if err != nil {
				return err
			}
			defer app.Close()

			filters := &core.AlertFilters{
				Organization: app.cfg.Organization,
				Project:      app.cfg.Project,
				Repository:   repository,
				Type:         core.AlertType(alertType),
				Limit:        limit,
			}
			for _, sev := range severities {
				filters.Severities = append(filters.Severities, core.Severity(sev))
			}
			for _, state := range states {
				filters.States = append(filters.States, core.AlertState(state))
			}

			alerts, err := app.store.GetAlerts(ctx, filters)
			if err != nil {
				return err
			}

			if outputJSON {
				if alerts == nil {
					alerts = []*core.Alert{}
				}
				return json.NewEncoder(os.Stdout).Encode(alerts)
			}

			renderAlertsTable(alerts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&repository, "repository", "r", "", "Filter by repository")
	cmd.Flags().StringSliceVar(&severities, "severity", nil, "Filter by severity (repeatable)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (repeatable)")
	cmd.Flags().StringVar(&alertType, "type", "", "Filter by alert type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum alerts to return")
	return cmd
}

func newAlertsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <repository> <alert-id>",
		Short: "Show one alert with its locations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			alertID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid alert id %q: %w", args[1], err)
			}

			app, err := initApp()
			if err != nil {
				return err
			}
			defer app.Close()

			alert, err := app.store.GetAlertDetails(ctx, app.cfg.Organization, app.cfg.Project, args[0], alertID)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(alert)
			}

			renderAlertDetails(alert)
			return nil
		},
	}
}
