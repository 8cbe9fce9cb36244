// Package oauthtoken is a thin client for the OAuth subsystem's internal
// token endpoint. It never runs provider flows itself; it exchanges a service
// API key and a user id for that user's current upstream access token.
package oauthtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Kind classifies token fetch failures; each kind carries a distinct
// user-facing remediation.
type Kind int

const (
	// KindNoConnection means the user never connected this provider.
	KindNoConnection Kind = iota
	// KindReauthRequired means the refresh failed and the user must
	// re-authenticate with the provider.
	KindReauthRequired
	// KindUnavailable means the OAuth subsystem could not be reached at all.
	KindUnavailable
	// KindUpstream is any other non-2xx answer from the subsystem.
	KindUpstream
)

// Error is a classified token fetch failure.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNoConnection:
		return fmt.Sprintf("no %s connection for this account; connect the provider first", e.Provider)
	case KindReauthRequired:
		return fmt.Sprintf("%s token refresh failed; re-authenticate with the provider", e.Provider)
	case KindUnavailable:
		return fmt.Sprintf("cannot reach OAuth service: %s", e.Message)
	default:
		return fmt.Sprintf("OAuth service returned status %d: %s", e.StatusCode, e.Message)
	}
}

// Client calls the OAuth subsystem's internal endpoints.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(c *Client)

// WithHTTPClient overrides the default http client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the OAuth subsystem at baseURL, authenticating
// with the gateway's service API key.
func New(baseURL, serviceKey string, options ...Option) *Client {
	ret := &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Token fetches the user's current access token for a provider. Failures map
// to three remediations: connect the provider (404), re-authenticate (401),
// or retry later (unreachable / other upstream failure).
func (c *Client) Token(ctx context.Context, userID, provider string) (*oauth2.Token, error) {
	url := fmt.Sprintf("%s/api/internal/tokens/%s", c.baseURL, provider)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+c.serviceKey)
	request.Header.Set("X-User-Id", userID)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Provider: provider, Message: err.Error()}
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)

	switch {
	case response.StatusCode == http.StatusNotFound:
		return nil, &Error{Kind: KindNoConnection, Provider: provider, StatusCode: response.StatusCode}
	case response.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: KindReauthRequired, Provider: provider, StatusCode: response.StatusCode}
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return nil, &Error{Kind: KindUpstream, Provider: provider, StatusCode: response.StatusCode, Message: string(body)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Kind: KindUpstream, Provider: provider, StatusCode: response.StatusCode, Message: "malformed token response"}
	}
	if parsed.AccessToken == "" {
		return nil, &Error{Kind: KindUpstream, Provider: provider, StatusCode: response.StatusCode, Message: "empty access token"}
	}
	return &oauth2.Token{AccessToken: parsed.AccessToken, TokenType: "Bearer"}, nil
}

// Health is a best-effort liveness probe; every failure reads as "down".
func (c *Client) Health(ctx context.Context) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/internal/health", nil)
	if err != nil {
		return false
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("oauth health probe failed", "error", err)
		return false
	}
	defer response.Body.Close()
	return response.StatusCode >= 200 && response.StatusCode < 300
}
