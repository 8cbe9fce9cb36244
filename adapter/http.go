package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/viant/jsonrpc"
)

// HTTP forwards envelopes to an out-of-process tool service that accepts one
// JSON-RPC object per POST. Call-scoped credentials come from the request
// context: OAuth tokens travel as a bearer header, per-request environment as
// X-Env headers. The adapter itself is stateless and safe for concurrent use.
type HTTP struct {
	url    string
	client *http.Client
}

// HTTPOption configures the HTTP adapter.
type HTTPOption func(a *HTTP)

// WithClient overrides the default http client.
func WithClient(client *http.Client) HTTPOption {
	return func(a *HTTP) {
		a.client = client
	}
}

// NewHTTP creates an adapter forwarding to the given endpoint URL.
func NewHTTP(url string, options ...HTTPOption) *HTTP {
	ret := &HTTP{
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// SupportsInjection declares both credential modes: the forwarding headers
// exist whether the downstream wants a token or environment.
func (a *HTTP) SupportsInjection(kind Injection) bool {
	return kind == InjectOAuth || kind == InjectAPIKey
}

func (a *HTTP) HandleRequest(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if token, ok := AccessToken(ctx); ok {
		httpRequest.Header.Set("Authorization", "Bearer "+token)
	}
	if env, ok := Environment(ctx); ok {
		for name, value := range env {
			httpRequest.Header.Set("X-Env-"+name, value)
		}
	}
	httpResponse, err := a.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("call service: %w", err)
	}
	defer httpResponse.Body.Close()
	data, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, err
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, fmt.Errorf("service returned status %d: %s", httpResponse.StatusCode, data)
	}
	type response jsonrpc.Response
	ret := &response{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return (*jsonrpc.Response)(ret), nil
}
