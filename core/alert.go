package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// Alert Enumerations
// =============================================================================

// AlertType represents the category of a security alert.
type AlertType string

const (
	AlertTypeCode       AlertType = "code"
	AlertTypeSecret     AlertType = "secret"
	AlertTypeDependency AlertType = "dependency"
	AlertTypeUnknown    AlertType = "unknown"
)

// AllAlertTypes returns all valid alert types for validation.
var AllAlertTypes = []AlertType{
	AlertTypeCode, AlertTypeSecret, AlertTypeDependency, AlertTypeUnknown,
}

// IsValid checks if the alert type is valid.
func (t AlertType) IsValid() bool {
	for _, valid := range AllAlertTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// ParseAlertType maps a raw API value to an AlertType. Unrecognized or
// missing values degrade to AlertTypeUnknown, never an error.
func ParseAlertType(s string) AlertType {
	t := AlertType(s)
	if !t.IsValid() {
		return AlertTypeUnknown
	}
	return t
}

// Confidence represents how confident the scanning tool is in a finding.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceOther   Confidence = "other"
	ConfidenceUnknown Confidence = "unknown"
)

// AllConfidences returns all valid confidence levels.
var AllConfidences = []Confidence{
	ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceOther, ConfidenceUnknown,
}

// IsValid checks if the confidence level is valid.
func (c Confidence) IsValid() bool {
	for _, valid := range AllConfidences {
		if c == valid {
			return true
		}
	}
	return false
}

// ParseConfidence maps a raw API value to a Confidence. A missing value maps
// to ConfidenceUnknown; a novel label maps to ConfidenceOther.
func ParseConfidence(s string) Confidence {
	if s == "" {
		return ConfidenceUnknown
	}
	c := Confidence(s)
	if !c.IsValid() {
		return ConfidenceOther
	}
	return c
}

// Severity represents the severity of a security alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityNote     Severity = "note"
	SeverityUnknown  Severity = "unknown"
)

// AllSeverities returns all valid severities.
var AllSeverities = []Severity{
	SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow,
	SeverityWarning, SeverityNote, SeverityUnknown,
}

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	for _, valid := range AllSeverities {
		if s == valid {
			return true
		}
	}
	return false
}

// ParseSeverity maps a raw API value to a Severity. Unrecognized or missing
// values degrade to SeverityUnknown.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if !sev.IsValid() {
		return SeverityUnknown
	}
	return sev
}

// AlertState represents the lifecycle state of an alert.
type AlertState string

const (
	AlertStateActive    AlertState = "active"
	AlertStateDismissed AlertState = "dismissed"
	AlertStateFixed     AlertState = "fixed"
	AlertStateUnknown   AlertState = "unknown"
)

// AllAlertStates returns all valid alert states.
var AllAlertStates = []AlertState{
	AlertStateActive, AlertStateDismissed, AlertStateFixed, AlertStateUnknown,
}

// IsValid checks if the alert state is valid.
func (s AlertState) IsValid() bool {
	for _, valid := range AllAlertStates {
		if s == valid {
			return true
		}
	}
	return false
}

// ParseAlertState maps a raw API value to an AlertState. Unrecognized or
// missing values degrade to AlertStateUnknown.
func ParseAlertState(s string) AlertState {
	state := AlertState(s)
	if !state.IsValid() {
		return AlertStateUnknown
	}
	return state
}

// =============================================================================
// Alert Model
// =============================================================================

// PhysicalLocation is a source-code span associated with an alert. Nil line
// and column values mean "unknown", not zero.
type PhysicalLocation struct {
	FilePath    string `json:"file_path"`
	StartLine   *int   `json:"start_line,omitempty"`
	EndLine     *int   `json:"end_line,omitempty"`
	StartColumn *int   `json:"start_column,omitempty"`
	EndColumn   *int   `json:"end_column,omitempty"`
}

// LogicalLocation is a named code construct (function, class, component)
// associated with an alert.
type LogicalLocation struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// Rule identifies the analysis rule that produced an alert.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Tool identifies the scanning tool that produced an alert.
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Dismissal records why and by whom an alert was dismissed.
type Dismissal struct {
	Type        string     `json:"type"`
	Comment     string     `json:"comment,omitempty"`
	DismissedBy string     `json:"dismissed_by,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

// Alert is one security finding for a repository. An alert is identified by
// the (organization, project, repository, alert_id) tuple; ID is the
// storage-internal row key and is only set on alerts read back from storage.
type Alert struct {
	ID           int64  `json:"id,omitempty"`
	AlertID      int64  `json:"alert_id"`
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	Repository   string `json:"repository,omitempty"`

	Type       AlertType  `json:"alert_type"`
	Confidence Confidence `json:"confidence"`
	Severity   Severity   `json:"severity"`
	State      AlertState `json:"state"`

	FirstSeen    time.Time  `json:"first_seen_date"`
	LastSeen     time.Time  `json:"last_seen_date"`
	GitRef       string     `json:"git_ref"`
	IntroducedAt *time.Time `json:"introduced_date,omitempty"`
	FixedAt      *time.Time `json:"fixed_date,omitempty"`

	Rule      *Rule      `json:"rule,omitempty"`
	Tool      *Tool      `json:"tool,omitempty"`
	Dismissal *Dismissal `json:"dismissal,omitempty"`

	PhysicalLocations []PhysicalLocation `json:"physical_locations"`
	LogicalLocations  []LogicalLocation  `json:"logical_locations"`

	AdditionalProperties map[string]interface{} `json:"additional_properties,omitempty"`

	// RawData holds the original API payload verbatim, retained for
	// forensics and keyword search.
	RawData string `json:"-"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// =============================================================================
// Payload Parsing
// =============================================================================

// ParseAlert builds a typed Alert from a raw API payload. Parsing is
// deliberately lenient: enum fields fall back to their unknown variants,
// missing seen dates default to now, and missing location lists become empty.
// Only a nil payload is a hard error.
func ParseAlert(data map[string]interface{}, repository string) (*Alert, error) {
	if data == nil {
		return nil, fmt.Errorf("alert payload is not a mapping")
	}

	now := time.Now().UTC()

	alert := &Alert{
		AlertID:    intField(data, "alertId"),
		Type:       ParseAlertType(stringField(data, "alertType")),
		Confidence: ParseConfidence(stringField(data, "confidence")),
		Severity:   ParseSeverity(stringField(data, "severity")),
		State:      ParseAlertState(stringField(data, "state")),
	}

	if t, ok := timeField(data, "firstSeenDate"); ok {
		alert.FirstSeen = t
	} else {
		alert.FirstSeen = now
	}
	if t, ok := timeField(data, "lastSeenDate"); ok {
		alert.LastSeen = t
	} else {
		alert.LastSeen = now
	}
	if t, ok := timeField(data, "introducedDate"); ok {
		alert.IntroducedAt = &t
	}
	if t, ok := timeField(data, "fixedDate"); ok {
		alert.FixedAt = &t
	}

	alert.GitRef = stringField(data, "gitRef")
	if alert.GitRef == "" {
		ref := repository
		if ref == "" {
			ref = stringField(data, "repository")
		}
		if ref == "" {
			ref = "main"
		}
		alert.GitRef = "refs/heads/" + ref
	}

	alert.PhysicalLocations = parsePhysicalLocations(listField(data, "physicalLocations"))
	alert.LogicalLocations = parseLogicalLocations(listField(data, "logicalLocations"))

	if sub := mapField(data, "rule"); len(sub) > 0 {
		alert.Rule = &Rule{
			ID:          stringField(sub, "id"),
			Name:        stringField(sub, "name"),
			Description: stringField(sub, "description"),
		}
	}
	if sub := mapField(data, "tool"); len(sub) > 0 {
		alert.Tool = &Tool{
			Name:    stringField(sub, "name"),
			Version: stringField(sub, "version"),
		}
	}
	if sub := mapField(data, "dismissal"); len(sub) > 0 {
		d := &Dismissal{
			Type:    stringField(sub, "type"),
			Comment: stringField(sub, "comment"),
		}
		if by := mapField(sub, "dismissedBy"); len(by) > 0 {
			d.DismissedBy = stringField(by, "displayName")
		}
		if t, ok := timeField(sub, "dismissedDate"); ok {
			d.DismissedAt = &t
		}
		alert.Dismissal = d
	}

	if props := mapField(data, "additionalProperties"); len(props) > 0 {
		alert.AdditionalProperties = props
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to preserve raw payload: %w", err)
	}
	alert.RawData = string(raw)

	return alert, nil
}

func parsePhysicalLocations(items []interface{}) []PhysicalLocation {
	locations := make([]PhysicalLocation, 0, len(items))
	for _, item := range items {
		loc, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		locations = append(locations, PhysicalLocation{
			FilePath:    stringField(loc, "filePath"),
			StartLine:   intPtrField(loc, "startLine"),
			EndLine:     intPtrField(loc, "endLine"),
			StartColumn: intPtrField(loc, "startColumn"),
			EndColumn:   intPtrField(loc, "endColumn"),
		})
	}
	return locations
}

func parseLogicalLocations(items []interface{}) []LogicalLocation {
	locations := make([]LogicalLocation, 0, len(items))
	for _, item := range items {
		loc, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		locations = append(locations, LogicalLocation{
			Name: stringField(loc, "name"),
			Kind: stringField(loc, "kind"),
		})
	}
	return locations
}

// =============================================================================
// Loose Field Accessors
// =============================================================================

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// intField reads an integer that a JSON decoder may have produced as
// float64, json.Number, int, or a numeric string.
func intField(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func intPtrField(data map[string]interface{}, key string) *int {
	if _, present := data[key]; !present {
		return nil
	}
	if data[key] == nil {
		return nil
	}
	n := int(intField(data, key))
	return &n
}

func listField(data map[string]interface{}, key string) []interface{} {
	if v, ok := data[key].([]interface{}); ok {
		return v
	}
	return nil
}

func mapField(data map[string]interface{}, key string) map[string]interface{} {
	if v, ok := data[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// timeField parses an ISO-8601 timestamp, with or without an explicit zone.
// Zone-less values are treated as UTC.
func timeField(data map[string]interface{}, key string) (time.Time, bool) {
	s := stringField(data, key)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
