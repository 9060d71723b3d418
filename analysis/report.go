package analysis

import (
	"context"
	"fmt"
	"time"

	"advsec/core"
)

// Report bundles every aggregate view into one document, suitable for JSON
// export or API responses.
type Report struct {
	GeneratedAt     time.Time         `json:"generated_at"`
	Organization    string            `json:"organization"`
	Project         string            `json:"project"`
	Repository      string            `json:"repository,omitempty"`
	LookbackDays    int               `json:"lookback_days"`
	Severity        []SeverityCount   `json:"severity_summary"`
	States          []StateCount      `json:"state_summary"`
	Types           []TypeCount       `json:"type_summary"`
	Trend           []TrendBucket     `json:"trend"`
	TopRepositories []RepositoryCount `json:"top_repositories"`
	TopRules        []RuleCount       `json:"top_rules"`
	Files           []FileCount       `json:"alerts_by_file"`
}

// FullReport runs every report for the scope and returns the combined
// document. Any single failing query fails the whole report.
func (a *Analyzer) FullReport(ctx context.Context, scope Scope, days int, interval Interval) (*Report, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}

	report := &Report{
		GeneratedAt:  time.Now().UTC(),
		Organization: scope.Organization,
		Project:      scope.Project,
		Repository:   scope.Repository,
		LookbackDays: days,
	}

	var err error
	if report.Severity, err = a.CountsBySeverity(ctx, scope, days); err != nil {
		return nil, fmt.Errorf("severity summary failed: %w", err)
	}
	if report.States, err = a.CountsByState(ctx, scope); err != nil {
		return nil, fmt.Errorf("state summary failed: %w", err)
	}
	if report.Types, err = a.CountsByType(ctx, scope); err != nil {
		return nil, fmt.Errorf("type summary failed: %w", err)
	}
	if report.Trend, err = a.Trend(ctx, scope, days, interval); err != nil {
		return nil, fmt.Errorf("trend failed: %w", err)
	}
	if report.TopRepositories, err = a.TopRepositories(ctx, scope, nil, DefaultTopLimit); err != nil {
		return nil, fmt.Errorf("top repositories failed: %w", err)
	}
	if report.TopRules, err = a.TopRules(ctx, scope, DefaultTopLimit); err != nil {
		return nil, fmt.Errorf("top rules failed: %w", err)
	}
	if report.Files, err = a.AlertsByFile(ctx, scope, DefaultTopLimit); err != nil {
		return nil, fmt.Errorf("alerts by file failed: %w", err)
	}

	a.logger.Infow("Analysis report generated",
		"organization", scope.Organization,
		"project", scope.Project,
		"repository", scope.Repository,
		"lookback_days", days,
	)
	return report, nil
}

// TotalAlerts sums the state summary, which covers every alert in scope.
func (r *Report) TotalAlerts() int {
	total := 0
	for _, s := range r.States {
		total += s.Count
	}
	return total
}

// OpenCritical returns the count of critical-severity alerts in the
// severity summary, zero when none were seen in the window.
func (r *Report) OpenCritical() int {
	for _, s := range r.Severity {
		if s.Severity == core.SeverityCritical {
			return s.Count
		}
	}
	return 0
}
