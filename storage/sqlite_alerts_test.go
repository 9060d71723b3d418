package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"advsec/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAlertTestDB(t *testing.T) (*SQLite, *SQLiteAlertStorage, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_alerts.db")

	logger, _ := zap.NewDevelopment()
	sugar := logger.Sugar()

	sqlite, err := NewSQLite(dbPath, sugar)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	alertStorage, err := NewSQLiteAlertStorage(sqlite, sugar)
	if err != nil {
		sqlite.Close()
		t.Fatalf("Failed to create alert storage: %v", err)
	}

	cleanup := func() {
		sqlite.Close()
	}

	return sqlite, alertStorage, cleanup
}

func intp(n int) *int { return &n }

func makeTestAlert(alertID int64) *core.Alert {
	firstSeen := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	lastSeen := time.Date(2026, 8, 20, 12, 30, 0, 0, time.UTC)

	return &core.Alert{
		AlertID:    alertID,
		Type:       core.AlertTypeSecret,
		Confidence: core.ConfidenceHigh,
		Severity:   core.SeverityCritical,
		State:      core.AlertStateActive,
		FirstSeen:  firstSeen,
		LastSeen:   lastSeen,
		GitRef:     "refs/heads/main",
		Rule: &core.Rule{
			ID:          "CKV_SECRET_6",
			Name:        "Base64 High Entropy String",
			Description: "Detects high entropy strings",
		},
		Tool: &core.Tool{
			Name:    "CredScan",
			Version: "2.3.1",
		},
		PhysicalLocations: []core.PhysicalLocation{
			{FilePath: "src/settings.py", StartLine: intp(42), EndLine: intp(42), StartColumn: intp(10), EndColumn: intp(58)},
		},
		LogicalLocations: []core.LogicalLocation{
			{Name: "load_settings", Kind: "function"},
		},
		AdditionalProperties: map[string]interface{}{"branch": "main"},
		RawData:              `{"alertId":1}`,
	}
}

func TestStoreAlert_Insert(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alert := makeTestAlert(101)

	id, err := store.StoreAlert(ctx, alert, "contoso", "payments", "billing-api")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	stored, err := store.GetAlertDetails(ctx, "contoso", "payments", "billing-api", 101)
	require.NoError(t, err)

	assert.Equal(t, id, stored.ID)
	assert.Equal(t, int64(101), stored.AlertID)
	assert.Equal(t, "contoso", stored.Organization)
	assert.Equal(t, "payments", stored.Project)
	assert.Equal(t, "billing-api", stored.Repository)
	assert.Equal(t, core.AlertTypeSecret, stored.Type)
	assert.Equal(t, core.ConfidenceHigh, stored.Confidence)
	assert.Equal(t, core.SeverityCritical, stored.Severity)
	assert.Equal(t, core.AlertStateActive, stored.State)
	assert.Equal(t, alert.FirstSeen, stored.FirstSeen)
	assert.Equal(t, alert.LastSeen, stored.LastSeen)
	assert.Equal(t, "refs/heads/main", stored.GitRef)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.IsZero())

	require.NotNil(t, stored.Rule)
	assert.Equal(t, "CKV_SECRET_6", stored.Rule.ID)
	assert.Equal(t, "Base64 High Entropy String", stored.Rule.Name)

	require.NotNil(t, stored.Tool)
	assert.Equal(t, "CredScan", stored.Tool.Name)
	assert.Equal(t, "2.3.1", stored.Tool.Version)

	require.Len(t, stored.PhysicalLocations, 1)
	assert.Equal(t, "src/settings.py", stored.PhysicalLocations[0].FilePath)
	require.NotNil(t, stored.PhysicalLocations[0].StartLine)
	assert.Equal(t, 42, *stored.PhysicalLocations[0].StartLine)

	require.Len(t, stored.LogicalLocations, 1)
	assert.Equal(t, "load_settings", stored.LogicalLocations[0].Name)
	assert.Equal(t, "function", stored.LogicalLocations[0].Kind)

	assert.Equal(t, map[string]interface{}{"branch": "main"}, stored.AdditionalProperties)
}

func TestStoreAlert_UpsertIsIdempotent(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()
	alert := makeTestAlert(202)

	firstID, err := store.StoreAlert(ctx, alert, "contoso", "payments", "billing-api")
	require.NoError(t, err)

	first, err := store.GetAlertDetails(ctx, "contoso", "payments", "billing-api", 202)
	require.NoError(t, err)

	// Same identity again with changed mutable fields and a new location set
	alert.State = core.AlertStateFixed
	alert.Severity = core.SeverityHigh
	alert.PhysicalLocations = []core.PhysicalLocation{
		{FilePath: "src/new_home.py", StartLine: intp(7)},
		{FilePath: "src/other.py", StartLine: intp(99)},
	}
	alert.LogicalLocations = nil

	secondID, err := store.StoreAlert(ctx, alert, "contoso", "payments", "billing-api")
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID, "upsert must reuse the existing row")

	second, err := store.GetAlertDetails(ctx, "contoso", "payments", "billing-api", 202)
	require.NoError(t, err)

	assert.Equal(t, core.AlertStateFixed, second.State)
	assert.Equal(t, core.SeverityHigh, second.Severity)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at must survive updates")

	// Old locations replaced, not accumulated
	require.Len(t, second.PhysicalLocations, 2)
	assert.Equal(t, "src/new_home.py", second.PhysicalLocations[0].FilePath)
	assert.Empty(t, second.LogicalLocations)
}

func TestStoreAlert_DistinctIdentities(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()

	id1, err := store.StoreAlert(ctx, makeTestAlert(7), "contoso", "payments", "billing-api")
	require.NoError(t, err)

	// Same alert ID in a different repository is a different alert
	id2, err := store.StoreAlert(ctx, makeTestAlert(7), "contoso", "payments", "checkout-web")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestStoreAlert_Validation(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, err := store.StoreAlert(ctx, nil, "contoso", "payments", "billing-api")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.StoreAlert(ctx, makeTestAlert(1), "", "payments", "billing-api")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.StoreAlert(ctx, makeTestAlert(1), "contoso", "payments", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetAlerts_FiltersAndOrdering(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()

	older := makeTestAlert(1)
	older.LastSeen = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	older.Severity = core.SeverityLow
	older.State = core.AlertStateDismissed

	newer := makeTestAlert(2)
	newer.LastSeen = time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	newer.Severity = core.SeverityCritical

	newest := makeTestAlert(3)
	newest.LastSeen = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	newest.Severity = core.SeverityHigh
	newest.Type = core.AlertTypeCode

	for _, a := range []*core.Alert{older, newer, newest} {
		_, err := store.StoreAlert(ctx, a, "contoso", "payments", "billing-api")
		require.NoError(t, err)
	}

	// Newest last-seen first
	alerts, err := store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
	})
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, int64(3), alerts[0].AlertID)
	assert.Equal(t, int64(2), alerts[1].AlertID)
	assert.Equal(t, int64(1), alerts[2].AlertID)

	// Severity filter
	alerts, err = store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		Severities:   []core.Severity{core.SeverityCritical, core.SeverityHigh},
	})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	// State filter
	alerts, err = store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		States:       []core.AlertState{core.AlertStateDismissed},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(1), alerts[0].AlertID)

	// Type filter
	alerts, err = store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		Type:         core.AlertTypeCode,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(3), alerts[0].AlertID)

	// Limit
	alerts, err = store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		Limit:        2,
	})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestGetAlerts_Validation(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()

	_, err := store.GetAlerts(ctx, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.GetAlerts(ctx, &core.AlertFilters{Project: "payments"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.GetAlerts(ctx, &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		Severities:   []core.Severity{"bogus"},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGetAlertDetails_NotFound(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	_, err := store.GetAlertDetails(context.Background(), "contoso", "payments", "billing-api", 9999)
	assert.True(t, errors.Is(err, ErrAlertNotFound))
}

func TestStoreAlert_DismissalRoundTrip(t *testing.T) {
	_, store, cleanup := setupAlertTestDB(t)
	defer cleanup()

	ctx := context.Background()

	dismissedAt := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	alert := makeTestAlert(55)
	alert.State = core.AlertStateDismissed
	alert.Dismissal = &core.Dismissal{
		Type:        "acceptedRisk",
		Comment:     "Tracked in backlog",
		DismissedBy: "Jordan Reyes",
		DismissedAt: &dismissedAt,
	}

	_, err := store.StoreAlert(ctx, alert, "contoso", "payments", "billing-api")
	require.NoError(t, err)

	stored, err := store.GetAlertDetails(ctx, "contoso", "payments", "billing-api", 55)
	require.NoError(t, err)

	require.NotNil(t, stored.Dismissal)
	assert.Equal(t, "acceptedRisk", stored.Dismissal.Type)
	assert.Equal(t, "Tracked in backlog", stored.Dismissal.Comment)
	assert.Equal(t, "Jordan Reyes", stored.Dismissal.DismissedBy)
	require.NotNil(t, stored.Dismissal.DismissedAt)
	assert.Equal(t, dismissedAt, *stored.Dismissal.DismissedAt)
}
