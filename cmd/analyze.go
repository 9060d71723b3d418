package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"advsec/analysis"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		repository string
		days       int
		interval   string
		noWrite    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run analysis reports over stored alerts",
		Long: `Run every aggregate report (severity, state, type, trend, top
repositories, top rules, files) over the stored alerts and write the
combined report to a timestamped JSON file in the reports directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			app, err := initApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if days <= 0 {
				days = app.cfg.Analysis.LookbackDays
			}

			analyzer := analysis.NewAnalyzer(app.sqlite, app.sugar)
			scope := analysis.Scope{
				Organization: app.cfg.Organization,
				Project:      app.cfg.Project,
				Repository:   repository,
			}

			report, err := analyzer.FullReport(ctx, scope, days, analysis.Interval(interval))
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			renderReport(report)

			if !noWrite {
				path, err := writeReportFile(app.cfg.Analysis.ReportsDir, report)
				if err != nil {
					return err
				}
				successColor.Printf("Report written to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&repository, "repository", "r", "", "Limit analysis to one repository")
	cmd.Flags().IntVar(&days, "days", 0, "Lookback window in days (default from config)")
	cmd.Flags().StringVar(&interval, "interval", "day", "Trend bucket size: day, week or month")
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "Skip writing the JSON report file")
	return cmd
}

// writeReportFile persists the report as a timestamped JSON document.
func writeReportFile(dir string, report *analysis.Report) (string, error) {
	if dir == "" {
		dir = "./reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := fmt.Sprintf("analysis_report_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}
