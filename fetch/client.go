package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"advsec/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client errors
var (
	// ErrUnauthorized is returned when the API rejects our credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRepositoryNotFound is returned when the repository does not exist
	// or Advanced Security is not enabled for it
	ErrRepositoryNotFound = errors.New("repository not found")
)

const (
	defaultAdvSecBaseURL = "https://advsec.dev.azure.com"
	defaultDevOpsBaseURL = "https://dev.azure.com"
	apiVersion           = "7.2-preview.1"
)

// Repository is one git repository in an Azure DevOps project.
type Repository struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client fetches Advanced Security alerts from the Azure DevOps REST API.
// Requests are rate limited to stay under the service's throttling window.
type Client struct {
	organization string
	project      string
	auth         Provider
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.SugaredLogger

	advSecBaseURL string
	devOpsBaseURL string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURLs overrides the API endpoints, used by tests to point at a
// local server.
func WithBaseURLs(advSec, devOps string) ClientOption {
	return func(c *Client) {
		c.advSecBaseURL = advSec
		c.devOpsBaseURL = devOps
	}
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a client scoped to one organization and project.
func NewClient(organization, project string, auth Provider, logger *zap.SugaredLogger, opts ...ClientOption) (*Client, error) {
	if organization == "" || project == "" {
		return nil, fmt.Errorf("organization and project are required")
	}
	if auth == nil {
		return nil, fmt.Errorf("auth provider is required")
	}

	client := &Client{
		organization:  organization,
		project:       project,
		auth:          auth,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(5), 10),
		logger:        logger,
		advSecBaseURL: defaultAdvSecBaseURL,
		devOpsBaseURL: defaultDevOpsBaseURL,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// GetAlerts fetches all alerts for a repository. Criteria keys are passed
// through as "criteria.*" query parameters.
func (c *Client) GetAlerts(ctx context.Context, repository string, criteria map[string]string) ([]map[string]interface{}, error) {
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}

	endpoint := fmt.Sprintf("%s/%s/%s/_apis/alert/repositories/%s/alerts",
		c.advSecBaseURL,
		url.PathEscape(c.organization),
		url.PathEscape(c.project),
		url.PathEscape(repository),
	)

	params := url.Values{}
	params.Set("api-version", apiVersion)
	for key, value := range criteria {
		params.Set("criteria."+key, value)
	}

	var response struct {
		Count int                      `json:"count"`
		Value []map[string]interface{} `json:"value"`
	}
	if err := c.doJSON(ctx, "alerts", endpoint, params, &response); err != nil {
		return nil, fmt.Errorf("failed to fetch alerts for repository %q: %w", repository, err)
	}

	c.logger.Debugw("Fetched alerts",
		"repository", repository,
		"count", len(response.Value),
	)
	return response.Value, nil
}

// GetAlert fetches a single alert by its service-assigned ID.
func (c *Client) GetAlert(ctx context.Context, repository string, alertID int64) (map[string]interface{}, error) {
	if repository == "" {
		return nil, fmt.Errorf("repository is required")
	}

	endpoint := fmt.Sprintf("%s/%s/%s/_apis/alert/repositories/%s/alerts/%d",
		c.advSecBaseURL,
		url.PathEscape(c.organization),
		url.PathEscape(c.project),
		url.PathEscape(repository),
		alertID,
	)

	params := url.Values{}
	params.Set("api-version", apiVersion)

	var alert map[string]interface{}
	if err := c.doJSON(ctx, "alert", endpoint, params, &alert); err != nil {
		return nil, fmt.Errorf("failed to fetch alert %d: %w", alertID, err)
	}
	return alert, nil
}

// GetRepositories lists the git repositories in the project.
func (c *Client) GetRepositories(ctx context.Context) ([]Repository, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/_apis/git/repositories",
		c.devOpsBaseURL,
		url.PathEscape(c.organization),
		url.PathEscape(c.project),
	)

	params := url.Values{}
	params.Set("api-version", apiVersion)

	var response struct {
		Count int          `json:"count"`
		Value []Repository `json:"value"`
	}
	if err := c.doJSON(ctx, "repositories", endpoint, params, &response); err != nil {
		return nil, fmt.Errorf("failed to fetch repositories: %w", err)
	}

	c.logger.Debugw("Fetched repositories", "count", len(response.Value))
	return response.Value, nil
}

// doJSON performs one authenticated GET and decodes the JSON response.
func (c *Client) doJSON(ctx context.Context, endpoint, rawURL string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	metrics.FetchRequests.WithLabelValues(endpoint).Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("failed to create request: %w", err)
	}

	authHeader, err := c.auth.AuthHeader(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("failed to build auth header: %w", err)
	}
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("%w: status %d", ErrRepositoryNotFound, resp.StatusCode)
	default:
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.FetchErrors.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Close releases idle connections held by the HTTP client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
