package core

import (
	"errors"
	"fmt"
)

// DefaultAlertLimit caps result sets when no explicit limit is given.
const DefaultAlertLimit = 100

// AlertFilters narrows alert list queries. Organization and Project are
// required; everything else is optional.
type AlertFilters struct {
	Organization string
	Project      string
	Repository   string
	Severities   []Severity
	States       []AlertState
	Type         AlertType
	Limit        int
}

// Validate rejects malformed filters before any storage I/O happens.
func (f *AlertFilters) Validate() error {
	if f.Organization == "" {
		return errors.New("organization is required")
	}
	if f.Project == "" {
		return errors.New("project is required")
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must not be negative: %d", f.Limit)
	}
	for _, sev := range f.Severities {
		if !sev.IsValid() {
			return fmt.Errorf("invalid severity filter: %s", sev)
		}
	}
	for _, state := range f.States {
		if !state.IsValid() {
			return fmt.Errorf("invalid state filter: %s", state)
		}
	}
	if f.Type != "" && !f.Type.IsValid() {
		return fmt.Errorf("invalid alert type filter: %s", f.Type)
	}
	return nil
}

// EffectiveLimit returns the limit to apply, defaulting when unset.
func (f *AlertFilters) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultAlertLimit
	}
	return f.Limit
}
