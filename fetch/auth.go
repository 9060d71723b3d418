package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Azure DevOps resource ID for OAuth client-credentials scope.
const azureDevOpsResourceScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

// Provider produces an Authorization header value for API requests.
type Provider interface {
	AuthHeader(ctx context.Context) (string, error)
}

// AuthConfig selects and parameterizes an auth provider.
type AuthConfig struct {
	Type         string // "pat" or "oauth"
	PAT          string
	ClientID     string
	ClientSecret string
	TenantID     string
}

// NewProvider creates the auth provider described by cfg.
func NewProvider(cfg AuthConfig) (Provider, error) {
	switch strings.ToLower(cfg.Type) {
	case "pat":
		if cfg.PAT == "" {
			return nil, fmt.Errorf("personal access token is required for pat auth")
		}
		return &PATProvider{pat: cfg.PAT}, nil
	case "oauth":
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TenantID == "" {
			return nil, fmt.Errorf("client_id, client_secret and tenant_id are required for oauth auth")
		}
		return NewOAuthProvider(cfg.ClientID, cfg.ClientSecret, cfg.TenantID), nil
	default:
		return nil, fmt.Errorf("unsupported auth type: %q", cfg.Type)
	}
}

// PATProvider authenticates with an Azure DevOps personal access token.
type PATProvider struct {
	pat string
}

// AuthHeader encodes the PAT as HTTP basic auth with an empty username.
func (p *PATProvider) AuthHeader(_ context.Context) (string, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(":" + p.pat))
	return "Basic " + encoded, nil
}

// OAuthProvider authenticates via the Azure AD client-credentials flow,
// caching the token until shortly before expiry.
type OAuthProvider struct {
	clientID     string
	clientSecret string
	tenantID     string
	httpClient   *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewOAuthProvider creates an OAuth provider for the given Azure AD app.
func NewOAuthProvider(clientID, clientSecret, tenantID string) *OAuthProvider {
	return &OAuthProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		tenantID:     tenantID,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthHeader returns a bearer token, acquiring a fresh one when the cached
// token is missing or about to expire.
func (p *OAuthProvider) AuthHeader(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 60s of slack so a token never expires mid-request.
	if p.token != "" && time.Now().Add(time.Minute).Before(p.expiry) {
		return "Bearer " + p.token, nil
	}

	if err := p.acquireToken(ctx); err != nil {
		return "", err
	}
	return "Bearer " + p.token, nil
}

func (p *OAuthProvider) acquireToken(ctx context.Context) error {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(p.tenantID))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("scope", azureDevOpsResourceScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrUnauthorized, resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return fmt.Errorf("%w: token response contained no access token", ErrUnauthorized)
	}

	p.token = tokenResp.AccessToken
	p.expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return nil
}
