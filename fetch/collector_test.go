package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"advsec/core"
	"advsec/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCollectorStorage(t *testing.T) (*storage.SQLiteAlertStorage, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_collect.db")
	sugar := testLogger()

	sqlite, err := storage.NewSQLite(dbPath, sugar)
	require.NoError(t, err)

	store, err := storage.NewSQLiteAlertStorage(sqlite, sugar)
	if err != nil {
		sqlite.Close()
		t.Fatalf("Failed to create alert storage: %v", err)
	}

	return store, func() { sqlite.Close() }
}

func TestCollector_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/contoso/payments/_apis/alert/repositories/billing-api/alerts":
			_, _ = w.Write([]byte(`{"count":2,"value":[
				{"alertId":1,"alertType":"secret","severity":"critical","state":"active"},
				{"alertId":2,"alertType":"code","severity":"high","state":"active"}
			]}`))
		case "/contoso/payments/_apis/alert/repositories/broken-repo/alerts":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	store, cleanup := setupCollectorStorage(t)
	defer cleanup()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	collector := NewCollector(client, store, "contoso", "payments", testLogger())
	result, err := collector.Run(context.Background(), []string{"billing-api", "broken-repo"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.Repositories, "only the healthy repository counts")
	assert.Equal(t, 2, result.AlertsStored)
	assert.Equal(t, 1, result.Errors, "the broken repository is an error, not a failure")

	// Alerts landed in storage
	alerts, err := store.GetAlerts(context.Background(), &core.AlertFilters{
		Organization: "contoso",
		Project:      "payments",
		Repository:   "billing-api",
	})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestCollector_Run_DiscoversRepositories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/contoso/payments/_apis/git/repositories":
			_, _ = w.Write([]byte(`{"count":1,"value":[{"id":"abc","name":"billing-api"}]}`))
		case "/contoso/payments/_apis/alert/repositories/billing-api/alerts":
			_, _ = w.Write([]byte(`{"count":1,"value":[{"alertId":5,"alertType":"dependency","severity":"medium","state":"active"}]}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	store, cleanup := setupCollectorStorage(t)
	defer cleanup()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	collector := NewCollector(client, store, "contoso", "payments", testLogger())
	result, err := collector.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Repositories)
	assert.Equal(t, 1, result.AlertsStored)
	assert.Zero(t, result.Errors)
}
