package cmd

import (
	"fmt"
	"strings"

	"advsec/analysis"
	"advsec/core"

	"github.com/fatih/color"
)

// renderReport prints the combined analysis report as console tables.
func renderReport(report *analysis.Report) {
	headerColor.Printf("ANALYSIS REPORT - %s/%s", report.Organization, report.Project)
	if report.Repository != "" {
		headerColor.Printf(" (%s)", report.Repository)
	}
	fmt.Println()
	headerColor.Println(strings.Repeat("=", 72))
	fmt.Printf("Generated: %s   Lookback: %d days   Total alerts: %d\n",
		report.GeneratedAt.Format("2006-01-02 15:04:05"),
		report.LookbackDays,
		report.TotalAlerts(),
	)

	fmt.Println()
	headerColor.Println("Alerts by severity")
	if len(report.Severity) == 0 {
		warningColor.Println("  none in window")
	}
	for _, row := range report.Severity {
		fmt.Printf("  %-10s %d\n", formatSeverity(row.Severity), row.Count)
	}

	fmt.Println()
	headerColor.Println("Alerts by state")
	for _, row := range report.States {
		fmt.Printf("  %-10s %d\n", row.State, row.Count)
	}

	fmt.Println()
	headerColor.Println("Alerts by type")
	for _, row := range report.Types {
		fmt.Printf("  %-10s %d\n", row.Type, row.Count)
	}

	if len(report.Trend) > 0 {
		fmt.Println()
		headerColor.Println("New alerts over time")
		for _, bucket := range report.Trend {
			fmt.Printf("  %-10s %d\n", bucket.Period, bucket.Count)
		}
	}

	if len(report.TopRepositories) > 0 {
		fmt.Println()
		headerColor.Println("Top repositories")
		for _, row := range report.TopRepositories {
			fmt.Printf("  %-40s %d\n", truncate(row.Repository, 40), row.Count)
		}
	}

	if len(report.TopRules) > 0 {
		fmt.Println()
		headerColor.Println("Top rules")
		for _, row := range report.TopRules {
			name := row.RuleName
			if name == "" {
				name = row.RuleID
			}
			fmt.Printf("  %-40s %d\n", truncate(name, 40), row.Count)
		}
	}

	if len(report.Files) > 0 {
		fmt.Println()
		headerColor.Println("Most flagged files")
		for _, row := range report.Files {
			fmt.Printf("  %-50s %d\n", truncate(row.FilePath, 50), row.Count)
		}
	}

	headerColor.Println(strings.Repeat("=", 72))
}

// renderAlertsTable prints alerts in a compact table.
func renderAlertsTable(alerts []*core.Alert) {
	if len(alerts) == 0 {
		warningColor.Println("No alerts found")
		return
	}

	headerColor.Println("ALERTS")
	headerColor.Println(strings.Repeat("=", 110))
	fmt.Printf("%-8s %-25s %-10s %-9s %-10s %-20s %-30s\n",
		"ID", "Repository", "Type", "Severity", "State", "Last Seen", "Rule")
	fmt.Println(strings.Repeat("-", 110))

	for _, alert := range alerts {
		rule := ""
		if alert.Rule != nil {
			rule = alert.Rule.Name
			if rule == "" {
				rule = alert.Rule.ID
			}
		}
		fmt.Printf("%-8d %-25s %-10s %-9s %-10s %-20s %-30s\n",
			alert.AlertID,
			truncate(alert.Repository, 25),
			alert.Type,
			formatSeverity(alert.Severity),
			alert.State,
			alert.LastSeen.Format("2006-01-02 15:04"),
			truncate(rule, 30),
		)
	}

	headerColor.Println(strings.Repeat("=", 110))
	fmt.Printf("%d alert(s)\n", len(alerts))
}

// renderAlertDetails prints one alert with its locations.
func renderAlertDetails(alert *core.Alert) {
	headerColor.Printf("ALERT %d\n", alert.AlertID)
	headerColor.Println(strings.Repeat("=", 72))
	fmt.Printf("Repository:  %s\n", alert.Repository)
	fmt.Printf("Type:        %s\n", alert.Type)
	fmt.Printf("Severity:    %s\n", formatSeverity(alert.Severity))
	fmt.Printf("Confidence:  %s\n", alert.Confidence)
	fmt.Printf("State:       %s\n", alert.State)
	fmt.Printf("Git ref:     %s\n", alert.GitRef)
	fmt.Printf("First seen:  %s\n", alert.FirstSeen.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last seen:   %s\n", alert.LastSeen.Format("2006-01-02 15:04:05"))
	if alert.FixedAt != nil {
		fmt.Printf("Fixed:       %s\n", alert.FixedAt.Format("2006-01-02 15:04:05"))
	}

	if alert.Rule != nil {
		fmt.Println()
		infoColor.Println("Rule")
		fmt.Printf("  %s  %s\n", alert.Rule.ID, alert.Rule.Name)
		if alert.Rule.Description != "" {
			fmt.Printf("  %s\n", alert.Rule.Description)
		}
	}

	if alert.Tool != nil {
		fmt.Println()
		infoColor.Println("Tool")
		fmt.Printf("  %s %s\n", alert.Tool.Name, alert.Tool.Version)
	}

	if alert.Dismissal != nil {
		fmt.Println()
		infoColor.Println("Dismissal")
		fmt.Printf("  Type: %s\n", alert.Dismissal.Type)
		if alert.Dismissal.DismissedBy != "" {
			fmt.Printf("  By:   %s\n", alert.Dismissal.DismissedBy)
		}
		if alert.Dismissal.Comment != "" {
			fmt.Printf("  Note: %s\n", alert.Dismissal.Comment)
		}
	}

	if len(alert.PhysicalLocations) > 0 {
		fmt.Println()
		infoColor.Println("Locations")
		for _, loc := range alert.PhysicalLocations {
			line := loc.FilePath
			if loc.StartLine != nil {
				line += fmt.Sprintf(":%d", *loc.StartLine)
				if loc.EndLine != nil && *loc.EndLine != *loc.StartLine {
					line += fmt.Sprintf("-%d", *loc.EndLine)
				}
			}
			fmt.Printf("  %s\n", line)
		}
	}

	if len(alert.LogicalLocations) > 0 {
		fmt.Println()
		infoColor.Println("Logical locations")
		for _, loc := range alert.LogicalLocations {
			if loc.Kind != "" {
				fmt.Printf("  %s (%s)\n", loc.Name, loc.Kind)
			} else {
				fmt.Printf("  %s\n", loc.Name)
			}
		}
	}

	headerColor.Println(strings.Repeat("=", 72))
}

// formatSeverity colors a severity label for terminal output.
func formatSeverity(sev core.Severity) string {
	switch sev {
	case core.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(sev))
	case core.SeverityHigh:
		return color.New(color.FgRed).Sprint(string(sev))
	case core.SeverityMedium:
		return color.New(color.FgYellow).Sprint(string(sev))
	case core.SeverityLow:
		return color.New(color.FgGreen).Sprint(string(sev))
	default:
		return string(sev)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
