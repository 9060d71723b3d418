package analysis

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"advsec/core"
	"advsec/metrics"
	"advsec/storage"

	"go.uber.org/zap"
)

// Interval selects the bucket size for trend reports.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// strftimeFormat maps an interval to its SQLite strftime format.
// Unrecognized intervals fall back to daily buckets.
func (i Interval) strftimeFormat() string {
	switch i {
	case IntervalWeek:
		return "%Y-%W"
	case IntervalMonth:
		return "%Y-%m"
	default:
		return "%Y-%m-%d"
	}
}

// DefaultTopLimit caps top-N reports when no explicit limit is given.
const DefaultTopLimit = 10

// DefaultSearchLimit caps search and per-file reports.
const DefaultSearchLimit = 100

// Scope narrows analysis queries. Organization and Project are required;
// Repository is optional and widens the query to the whole project when empty.
type Scope struct {
	Organization string
	Project      string
	Repository   string
}

// Validate rejects malformed scopes before any query runs.
func (s Scope) Validate() error {
	if s.Organization == "" {
		return fmt.Errorf("%w: organization is required", storage.ErrValidation)
	}
	if s.Project == "" {
		return fmt.Errorf("%w: project is required", storage.ErrValidation)
	}
	return nil
}

// Report row types. All reports return ordered slices rather than maps so
// callers and encoders see a stable order.
type (
	SeverityCount struct {
		Severity core.Severity `json:"severity"`
		Count    int           `json:"count"`
	}

	StateCount struct {
		State core.AlertState `json:"state"`
		Count int             `json:"count"`
	}

	TypeCount struct {
		Type  core.AlertType `json:"alert_type"`
		Count int            `json:"count"`
	}

	TrendBucket struct {
		Period string `json:"period"`
		Count  int    `json:"count"`
	}

	RepositoryCount struct {
		Repository string `json:"repository"`
		Count      int    `json:"count"`
	}

	RuleCount struct {
		RuleID   string `json:"rule_id"`
		RuleName string `json:"rule_name"`
		Count    int    `json:"count"`
	}

	FileCount struct {
		FilePath string `json:"file_path"`
		Count    int    `json:"count"`
	}

	AlertSummary struct {
		ID         int64           `json:"id"`
		AlertID    int64           `json:"alert_id"`
		Repository string          `json:"repository"`
		Type       core.AlertType  `json:"alert_type"`
		Severity   core.Severity   `json:"severity"`
		State      core.AlertState `json:"state"`
		FirstSeen  time.Time       `json:"first_seen_date"`
		LastSeen   time.Time       `json:"last_seen_date"`
		RuleName   string          `json:"rule_name"`
	}
)

// Analyzer runs aggregate reports over stored alerts. It is stateless and
// only ever reads, so it uses the concurrent read pool.
type Analyzer struct {
	sqlite *storage.SQLite
	logger *zap.SugaredLogger
}

// NewAnalyzer creates an analyzer over an already-initialized database.
func NewAnalyzer(sqlite *storage.SQLite, logger *zap.SugaredLogger) *Analyzer {
	return &Analyzer{
		sqlite: sqlite,
		logger: logger,
	}
}

// track records metrics for one report execution.
func track(report string) func() {
	start := time.Now()
	return func() {
		metrics.AnalysisQueries.WithLabelValues(report).Inc()
		metrics.AnalysisQueryDuration.Observe(time.Since(start).Seconds())
	}
}

// cutoff returns the RFC3339 lower bound for a lookback window. Stored
// timestamps are RFC3339 UTC, so string comparison is chronological.
func cutoff(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
}

// =============================================================================
// Count reports
// =============================================================================

// CountsBySeverity returns alert counts grouped by severity within the
// lookback window, ordered critical first, unknown severities last.
func (a *Analyzer) CountsBySeverity(ctx context.Context, scope Scope, days int) ([]SeverityCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive: %d", storage.ErrValidation, days)
	}
	defer track("severity")()

	query := `SELECT severity, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ? AND last_seen_date >= ?`
	args := []interface{}{scope.Organization, scope.Project, cutoff(days)}

	if scope.Repository != "" {
		query += " AND repository = ?"
		args = append(args, scope.Repository)
	}

	query += ` GROUP BY severity ORDER BY CASE severity
		WHEN 'critical' THEN 1
		WHEN 'high' THEN 2
		WHEN 'medium' THEN 3
		WHEN 'low' THEN 4
		ELSE 5 END, severity ASC`

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query severity counts: %w", err)
	}
	defer rows.Close()

	var counts []SeverityCount
	for rows.Next() {
		var c SeverityCount
		if err := rows.Scan(&c.Severity, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountsByState returns alert counts grouped by state, ordered by state name.
func (a *Analyzer) CountsByState(ctx context.Context, scope Scope) ([]StateCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	defer track("state")()

	query := `SELECT state, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ?`
	args := []interface{}{scope.Organization, scope.Project}

	if scope.Repository != "" {
		query += " AND repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY state ORDER BY state ASC"

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query state counts: %w", err)
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountsByType returns alert counts grouped by alert type, ordered by type name.
func (a *Analyzer) CountsByType(ctx context.Context, scope Scope) ([]TypeCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	defer track("type")()

	query := `SELECT alert_type, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ?`
	args := []interface{}{scope.Organization, scope.Project}

	if scope.Repository != "" {
		query += " AND repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY alert_type ORDER BY alert_type ASC"

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query type counts: %w", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// =============================================================================
// Trend report
// =============================================================================

// Trend buckets new alerts by first-seen date over the lookback window,
// returned in chronological order.
func (a *Analyzer) Trend(ctx context.Context, scope Scope, days int, interval Interval) ([]TrendBucket, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive: %d", storage.ErrValidation, days)
	}
	defer track("trend")()

	format := interval.strftimeFormat()
	query := `SELECT strftime('` + format + `', first_seen_date) AS period, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ? AND first_seen_date >= ?`
	args := []interface{}{scope.Organization, scope.Project, cutoff(days)}

	if scope.Repository != "" {
		query += " AND repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY period ORDER BY period ASC"

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert trend: %w", err)
	}
	defer rows.Close()

	var buckets []TrendBucket
	for rows.Next() {
		var b TrendBucket
		if err := rows.Scan(&b.Period, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan trend bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// =============================================================================
// Top-N reports
// =============================================================================

// TopRepositories returns the repositories with the most alerts, optionally
// restricted to a severity set. Equal counts order by repository name.
func (a *Analyzer) TopRepositories(ctx context.Context, scope Scope, severities []core.Severity, limit int) ([]RepositoryCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	for _, sev := range severities {
		if !sev.IsValid() {
			return nil, fmt.Errorf("%w: invalid severity filter: %s", storage.ErrValidation, sev)
		}
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative: %d", storage.ErrValidation, limit)
	}
	if limit == 0 {
		limit = DefaultTopLimit
	}
	defer track("top_repositories")()

	query := `SELECT repository, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ?`
	args := []interface{}{scope.Organization, scope.Project}

	if len(severities) > 0 {
		query += " AND severity IN (" + placeholders(len(severities)) + ")"
		for _, sev := range severities {
			args = append(args, string(sev))
		}
	}
	query += " GROUP BY repository ORDER BY count DESC, repository ASC LIMIT ?"
	args = append(args, limit)

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top repositories: %w", err)
	}
	defer rows.Close()

	var counts []RepositoryCount
	for rows.Next() {
		var c RepositoryCount
		if err := rows.Scan(&c.Repository, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan repository count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TopRules returns the rules producing the most alerts. Alerts without a
// rule are skipped. Equal counts order by rule ID.
func (a *Analyzer) TopRules(ctx context.Context, scope Scope, limit int) ([]RuleCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative: %d", storage.ErrValidation, limit)
	}
	if limit == 0 {
		limit = DefaultTopLimit
	}
	defer track("top_rules")()

	query := `SELECT rule_id, rule_name, COUNT(*) AS count
		FROM alerts
		WHERE organization = ? AND project = ? AND rule_id IS NOT NULL`
	args := []interface{}{scope.Organization, scope.Project}

	if scope.Repository != "" {
		query += " AND repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY rule_id, rule_name ORDER BY count DESC, rule_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top rules: %w", err)
	}
	defer rows.Close()

	var counts []RuleCount
	for rows.Next() {
		var c RuleCount
		var ruleName sql.NullString
		if err := rows.Scan(&c.RuleID, &ruleName, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rule count: %w", err)
		}
		c.RuleName = ruleName.String
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// AlertsByFile returns file paths ranked by how many alert locations touch
// them. Equal counts order by file path.
func (a *Analyzer) AlertsByFile(ctx context.Context, scope Scope, limit int) ([]FileCount, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative: %d", storage.ErrValidation, limit)
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	defer track("alerts_by_file")()

	query := `SELECT pl.file_path, COUNT(*) AS count
		FROM alerts a
		JOIN physical_locations pl ON a.id = pl.alert_id
		WHERE a.organization = ? AND a.project = ?`
	args := []interface{}{scope.Organization, scope.Project}

	if scope.Repository != "" {
		query += " AND a.repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY pl.file_path ORDER BY count DESC, pl.file_path ASC LIMIT ?"
	args = append(args, limit)

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts by file: %w", err)
	}
	defer rows.Close()

	var counts []FileCount
	for rows.Next() {
		var c FileCount
		if err := rows.Scan(&c.FilePath, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan file count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// =============================================================================
// Search
// =============================================================================

// Search finds alerts whose rule name, any location file path, or raw
// payload matches the term (case-insensitive substring). Each alert appears
// once even when several of its locations match.
func (a *Analyzer) Search(ctx context.Context, scope Scope, term string, limit int) ([]AlertSummary, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if term == "" {
		return nil, fmt.Errorf("%w: search term is required", storage.ErrValidation)
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative: %d", storage.ErrValidation, limit)
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	defer track("search")()

	pattern := "%" + term + "%"
	query := `SELECT a.id, a.alert_id, a.repository, a.alert_type, a.severity, a.state,
			a.first_seen_date, a.last_seen_date, a.rule_name
		FROM alerts a
		LEFT JOIN physical_locations pl ON a.id = pl.alert_id
		WHERE a.organization = ? AND a.project = ?
		AND (a.rule_name LIKE ? OR pl.file_path LIKE ? OR a.raw_data LIKE ?)`
	args := []interface{}{scope.Organization, scope.Project, pattern, pattern, pattern}

	if scope.Repository != "" {
		query += " AND a.repository = ?"
		args = append(args, scope.Repository)
	}
	query += " GROUP BY a.id ORDER BY a.last_seen_date DESC, a.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := a.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search alerts: %w", err)
	}
	defer rows.Close()

	var results []AlertSummary
	for rows.Next() {
		var r AlertSummary
		var firstSeen, lastSeen string
		var ruleName sql.NullString
		if err := rows.Scan(&r.ID, &r.AlertID, &r.Repository, &r.Type, &r.Severity, &r.State,
			&firstSeen, &lastSeen, &ruleName); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen)
		r.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
		r.RuleName = ruleName.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func placeholders(n int) string {
	p := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			p += ", "
		}
		p += "?"
	}
	return p
}
