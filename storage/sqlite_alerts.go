package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"advsec/core"
	"advsec/metrics"

	"go.uber.org/zap"
)

// timeLayout is how timestamps are persisted. RFC3339 UTC keeps lexical
// order identical to chronological order, which the trend and cutoff
// queries rely on.
const timeLayout = time.RFC3339

// SQLiteAlertStorage persists security alerts and their locations in SQLite.
type SQLiteAlertStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStorage creates the alert storage and ensures its schema.
func NewSQLiteAlertStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteAlertStorage, error) {
	storage := &SQLiteAlertStorage{
		sqlite: sqlite,
		logger: logger,
	}

	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure alert tables: %w", err)
	}

	logger.Info("Alert storage tables ensured in SQLite")
	return storage, nil
}

// ensureTables creates the alert tables if they don't exist. Safe to run
// against an already-initialized database.
func (s *SQLiteAlertStorage) ensureTables() error {
	schema := `
	-- Alerts table: one row per (organization, project, repository, alert_id)
	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL,
		organization TEXT NOT NULL,
		project TEXT NOT NULL,
		repository TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		confidence TEXT NOT NULL,
		severity TEXT NOT NULL,
		state TEXT NOT NULL,
		first_seen_date TEXT NOT NULL,
		last_seen_date TEXT NOT NULL,
		git_ref TEXT NOT NULL,
		introduced_date TEXT,
		fixed_date TEXT,
		rule_id TEXT,
		rule_name TEXT,
		rule_description TEXT,
		tool_name TEXT,
		tool_version TEXT,
		dismissal_type TEXT,
		dismissal_comment TEXT,
		dismissal_by TEXT,
		dismissal_at TEXT,
		additional_properties TEXT,
		raw_data TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(organization, project, repository, alert_id)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_org_proj_repo ON alerts(organization, project, repository);
	CREATE INDEX IF NOT EXISTS idx_alerts_alert_id ON alerts(alert_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
	CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);

	-- Physical locations: file/line spans owned by one alert
	CREATE TABLE IF NOT EXISTS physical_locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		start_line INTEGER,
		end_line INTEGER,
		start_column INTEGER,
		end_column INTEGER,
		FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_physical_locations_alert_id ON physical_locations(alert_id);

	-- Logical locations: named code constructs owned by one alert
	CREATE TABLE IF NOT EXISTS logical_locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT,
		FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_logical_locations_alert_id ON logical_locations(alert_id);
	`

	if _, err := s.sqlite.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create alert tables: %w", err)
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// StoreAlert upserts an alert by its (organization, project, repository,
// alert_id) identity. The alert row and both location tables are written in
// one transaction: on update, existing location rows are deleted and the new
// set inserted wholesale - no diffing. Returns the internal row ID, which is
// stable across updates.
func (s *SQLiteAlertStorage) StoreAlert(ctx context.Context, alert *core.Alert, organization, project, repository string) (int64, error) {
	if alert == nil {
		return 0, fmt.Errorf("%w: alert is nil", ErrValidation)
	}
	if organization == "" || project == "" || repository == "" {
		return 0, fmt.Errorf("%w: organization, project and repository are required", ErrValidation)
	}

	start := time.Now()
	now := time.Now().UTC().Format(timeLayout)

	var propsJSON interface{}
	if len(alert.AdditionalProperties) > 0 {
		encoded, err := json.Marshal(alert.AdditionalProperties)
		if err != nil {
			return 0, fmt.Errorf("failed to encode additional properties: %w", err)
		}
		propsJSON = string(encoded)
	}

	var ruleID, ruleName, ruleDescription interface{}
	if alert.Rule != nil {
		ruleID, ruleName, ruleDescription = alert.Rule.ID, alert.Rule.Name, nullable(alert.Rule.Description)
	}
	var toolName, toolVersion interface{}
	if alert.Tool != nil {
		toolName, toolVersion = alert.Tool.Name, nullable(alert.Tool.Version)
	}
	var dismissalType, dismissalComment, dismissalBy, dismissalAt interface{}
	if alert.Dismissal != nil {
		dismissalType = alert.Dismissal.Type
		dismissalComment = nullable(alert.Dismissal.Comment)
		dismissalBy = nullable(alert.Dismissal.DismissedBy)
		dismissalAt = formatTimePtr(alert.Dismissal.DismissedAt)
	}

	var alertDBID int64
	operation := "insert"

	err := s.sqlite.WithTransaction(func(tx *sql.Tx) error {
		var existingID int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM alerts WHERE organization = ? AND project = ? AND repository = ? AND alert_id = ?",
			organization, project, repository, alert.AlertID,
		).Scan(&existingID)

		switch {
		case err == sql.ErrNoRows:
			result, err := tx.ExecContext(ctx, `
				INSERT INTO alerts (
					alert_id, organization, project, repository,
					alert_type, confidence, severity, state,
					first_seen_date, last_seen_date, git_ref,
					introduced_date, fixed_date,
					rule_id, rule_name, rule_description,
					tool_name, tool_version,
					dismissal_type, dismissal_comment, dismissal_by, dismissal_at,
					additional_properties, raw_data,
					created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				alert.AlertID, organization, project, repository,
				alert.Type, alert.Confidence, alert.Severity, alert.State,
				formatTime(alert.FirstSeen), formatTime(alert.LastSeen), alert.GitRef,
				formatTimePtr(alert.IntroducedAt), formatTimePtr(alert.FixedAt),
				ruleID, ruleName, ruleDescription,
				toolName, toolVersion,
				dismissalType, dismissalComment, dismissalBy, dismissalAt,
				propsJSON, alert.RawData,
				now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert alert: %w", err)
			}
			alertDBID, err = result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read inserted alert id: %w", err)
			}

		case err != nil:
			return fmt.Errorf("failed to look up alert identity: %w", err)

		default:
			operation = "update"
			alertDBID = existingID
			if _, err := tx.ExecContext(ctx, `
				UPDATE alerts SET
					alert_type = ?, confidence = ?, severity = ?, state = ?,
					first_seen_date = ?, last_seen_date = ?, git_ref = ?,
					introduced_date = ?, fixed_date = ?,
					rule_id = ?, rule_name = ?, rule_description = ?,
					tool_name = ?, tool_version = ?,
					dismissal_type = ?, dismissal_comment = ?, dismissal_by = ?, dismissal_at = ?,
					additional_properties = ?, raw_data = ?,
					updated_at = ?
				WHERE id = ?`,
				alert.Type, alert.Confidence, alert.Severity, alert.State,
				formatTime(alert.FirstSeen), formatTime(alert.LastSeen), alert.GitRef,
				formatTimePtr(alert.IntroducedAt), formatTimePtr(alert.FixedAt),
				ruleID, ruleName, ruleDescription,
				toolName, toolVersion,
				dismissalType, dismissalComment, dismissalBy, dismissalAt,
				propsJSON, alert.RawData,
				now, alertDBID,
			); err != nil {
				return fmt.Errorf("failed to update alert: %w", err)
			}

			// Replace-all policy: locations change wholesale between scans,
			// so the previous child set is discarded unconditionally.
			if _, err := tx.ExecContext(ctx, "DELETE FROM physical_locations WHERE alert_id = ?", alertDBID); err != nil {
				return fmt.Errorf("failed to delete physical locations: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM logical_locations WHERE alert_id = ?", alertDBID); err != nil {
				return fmt.Errorf("failed to delete logical locations: %w", err)
			}
		}

		for _, loc := range alert.PhysicalLocations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO physical_locations (alert_id, file_path, start_line, end_line, start_column, end_column)
				VALUES (?, ?, ?, ?, ?, ?)`,
				alertDBID, loc.FilePath, loc.StartLine, loc.EndLine, loc.StartColumn, loc.EndColumn,
			); err != nil {
				return fmt.Errorf("failed to insert physical location: %w", err)
			}
		}

		for _, loc := range alert.LogicalLocations {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO logical_locations (alert_id, name, kind)
				VALUES (?, ?, ?)`,
				alertDBID, loc.Name, nullable(loc.Kind),
			); err != nil {
				return fmt.Errorf("failed to insert logical location: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.AlertUpserts.WithLabelValues(operation).Inc()
	metrics.AlertStoreDuration.Observe(time.Since(start).Seconds())

	s.logger.Debugw("Alert stored",
		"alert_id", alert.AlertID,
		"repository", repository,
		"operation", operation,
		"db_id", alertDBID,
	)
	return alertDBID, nil
}

// =============================================================================
// Read
// =============================================================================

const alertColumns = `id, alert_id, organization, project, repository,
	alert_type, confidence, severity, state,
	first_seen_date, last_seen_date, git_ref,
	introduced_date, fixed_date,
	rule_id, rule_name, rule_description,
	tool_name, tool_version,
	dismissal_type, dismissal_comment, dismissal_by, dismissal_at,
	additional_properties, raw_data,
	created_at, updated_at`

// GetAlerts returns alerts matching the filters, newest last-seen first,
// with both location sets loaded eagerly.
func (s *SQLiteAlertStorage) GetAlerts(ctx context.Context, filters *core.AlertFilters) ([]*core.Alert, error) {
	if filters == nil {
		return nil, fmt.Errorf("%w: filters are nil", ErrValidation)
	}
	if err := filters.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	query := "SELECT " + alertColumns + " FROM alerts WHERE organization = ? AND project = ?"
	args := []interface{}{filters.Organization, filters.Project}

	if filters.Repository != "" {
		query += " AND repository = ?"
		args = append(args, filters.Repository)
	}
	if len(filters.Severities) > 0 {
		query += " AND severity IN (" + placeholders(len(filters.Severities)) + ")"
		for _, sev := range filters.Severities {
			args = append(args, string(sev))
		}
	}
	if len(filters.States) > 0 {
		query += " AND state IN (" + placeholders(len(filters.States)) + ")"
		for _, state := range filters.States {
			args = append(args, string(state))
		}
	}
	if filters.Type != "" {
		query += " AND alert_type = ?"
		args = append(args, string(filters.Type))
	}

	// id ASC tie-break keeps the order deterministic for equal timestamps.
	query += " ORDER BY last_seen_date DESC, id ASC LIMIT ?"
	args = append(args, filters.EffectiveLimit())

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*core.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	for _, alert := range alerts {
		if err := s.loadLocations(ctx, alert); err != nil {
			return nil, err
		}
	}

	return alerts, nil
}

// GetAlertDetails returns the single alert identified by the full identity
// tuple, or ErrAlertNotFound when no such alert exists.
func (s *SQLiteAlertStorage) GetAlertDetails(ctx context.Context, organization, project, repository string, alertID int64) (*core.Alert, error) {
	if organization == "" || project == "" || repository == "" {
		return nil, fmt.Errorf("%w: organization, project and repository are required", ErrValidation)
	}

	row := s.sqlite.ReadDB.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE organization = ? AND project = ? AND repository = ? AND alert_id = ?",
		organization, project, repository, alertID,
	)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadLocations(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// loadLocations populates both child location sets for an alert already
// read from the alerts table.
func (s *SQLiteAlertStorage) loadLocations(ctx context.Context, alert *core.Alert) error {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		"SELECT file_path, start_line, end_line, start_column, end_column FROM physical_locations WHERE alert_id = ? ORDER BY id",
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query physical locations: %w", err)
	}
	defer rows.Close()

	alert.PhysicalLocations = []core.PhysicalLocation{}
	for rows.Next() {
		var loc core.PhysicalLocation
		var startLine, endLine, startColumn, endColumn sql.NullInt64
		if err := rows.Scan(&loc.FilePath, &startLine, &endLine, &startColumn, &endColumn); err != nil {
			return fmt.Errorf("failed to scan physical location: %w", err)
		}
		loc.StartLine = intPtr(startLine)
		loc.EndLine = intPtr(endLine)
		loc.StartColumn = intPtr(startColumn)
		loc.EndColumn = intPtr(endColumn)
		alert.PhysicalLocations = append(alert.PhysicalLocations, loc)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate physical locations: %w", err)
	}

	logicalRows, err := s.sqlite.ReadDB.QueryContext(ctx,
		"SELECT name, kind FROM logical_locations WHERE alert_id = ? ORDER BY id",
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to query logical locations: %w", err)
	}
	defer logicalRows.Close()

	alert.LogicalLocations = []core.LogicalLocation{}
	for logicalRows.Next() {
		var loc core.LogicalLocation
		var kind sql.NullString
		if err := logicalRows.Scan(&loc.Name, &kind); err != nil {
			return fmt.Errorf("failed to scan logical location: %w", err)
		}
		loc.Kind = kind.String
		alert.LogicalLocations = append(alert.LogicalLocations, loc)
	}
	if err := logicalRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate logical locations: %w", err)
	}

	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var alert core.Alert
	var firstSeen, lastSeen, createdAt, updatedAt string
	var introducedAt, fixedAt sql.NullString
	var ruleID, ruleName, ruleDescription sql.NullString
	var toolName, toolVersion sql.NullString
	var dismissalType, dismissalComment, dismissalBy, dismissalAt sql.NullString
	var propsJSON, rawData sql.NullString

	err := row.Scan(
		&alert.ID, &alert.AlertID, &alert.Organization, &alert.Project, &alert.Repository,
		&alert.Type, &alert.Confidence, &alert.Severity, &alert.State,
		&firstSeen, &lastSeen, &alert.GitRef,
		&introducedAt, &fixedAt,
		&ruleID, &ruleName, &ruleDescription,
		&toolName, &toolVersion,
		&dismissalType, &dismissalComment, &dismissalBy, &dismissalAt,
		&propsJSON, &rawData,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.FirstSeen = parseTime(firstSeen)
	alert.LastSeen = parseTime(lastSeen)
	alert.CreatedAt = parseTime(createdAt)
	alert.UpdatedAt = parseTime(updatedAt)
	alert.IntroducedAt = parseTimePtr(introducedAt)
	alert.FixedAt = parseTimePtr(fixedAt)

	if ruleID.Valid {
		alert.Rule = &core.Rule{
			ID:          ruleID.String,
			Name:        ruleName.String,
			Description: ruleDescription.String,
		}
	}
	if toolName.Valid {
		alert.Tool = &core.Tool{
			Name:    toolName.String,
			Version: toolVersion.String,
		}
	}
	if dismissalType.Valid {
		alert.Dismissal = &core.Dismissal{
			Type:        dismissalType.String,
			Comment:     dismissalComment.String,
			DismissedBy: dismissalBy.String,
			DismissedAt: parseTimePtr(dismissalAt),
		}
	}
	if propsJSON.Valid && propsJSON.String != "" {
		if err := json.Unmarshal([]byte(propsJSON.String), &alert.AdditionalProperties); err != nil {
			return nil, fmt.Errorf("failed to decode additional properties: %w", err)
		}
	}
	alert.RawData = rawData.String

	return &alert, nil
}

// =============================================================================
// Helpers
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// nullable maps an empty string to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// intPtr converts a nullable integer column to *int, preserving the
// "absent means unknown" semantics of location coordinates.
func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
