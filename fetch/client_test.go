package fetch

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	logger, _ := zap.NewDevelopment()
	return logger.Sugar()
}

func TestPATProvider_AuthHeader(t *testing.T) {
	provider := &PATProvider{pat: "secret-token"}

	header, err := provider.AuthHeader(context.Background())
	require.NoError(t, err)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret-token"))
	assert.Equal(t, expected, header)
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(AuthConfig{Type: "pat", PAT: "x"})
	require.NoError(t, err)
	assert.IsType(t, &PATProvider{}, provider)

	provider, err = NewProvider(AuthConfig{Type: "oauth", ClientID: "a", ClientSecret: "b", TenantID: "c"})
	require.NoError(t, err)
	assert.IsType(t, &OAuthProvider{}, provider)

	_, err = NewProvider(AuthConfig{Type: "pat"})
	assert.Error(t, err)

	_, err = NewProvider(AuthConfig{Type: "oauth", ClientID: "a"})
	assert.Error(t, err)

	_, err = NewProvider(AuthConfig{Type: "kerberos"})
	assert.Error(t, err)
}

func TestClient_GetAlerts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contoso/payments/_apis/alert/repositories/billing-api/alerts", r.URL.Path)
		assert.Equal(t, "7.2-preview.1", r.URL.Query().Get("api-version"))
		assert.Equal(t, "high", r.URL.Query().Get("criteria.severity"))
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":2,"value":[{"alertId":1},{"alertId":2}]}`))
	}))
	defer server.Close()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	alerts, err := client.GetAlerts(context.Background(), "billing-api", map[string]string{"severity": "high"})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, float64(1), alerts[0]["alertId"])
}

func TestClient_GetAlerts_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.GetAlerts(context.Background(), "billing-api", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_GetAlerts_RepositoryNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.GetAlerts(context.Background(), "gone", nil)
	assert.ErrorIs(t, err, ErrRepositoryNotFound)
}

func TestClient_GetRepositories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contoso/payments/_apis/git/repositories", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":2,"value":[{"id":"abc","name":"billing-api"},{"id":"def","name":"checkout-web"}]}`))
	}))
	defer server.Close()

	client, err := NewClient("contoso", "payments", &PATProvider{pat: "x"}, testLogger(),
		WithBaseURLs(server.URL, server.URL),
	)
	require.NoError(t, err)
	defer client.Close()

	repos, err := client.GetRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "billing-api", repos[0].Name)
	assert.Equal(t, "abc", repos[0].ID)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "payments", &PATProvider{pat: "x"}, testLogger())
	assert.Error(t, err)

	_, err = NewClient("contoso", "payments", nil, testLogger())
	assert.Error(t, err)
}
