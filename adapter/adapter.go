// Package adapter defines the uniform contract every downstream tool service
// satisfies, and the HTTP adapter that forwards envelopes to out-of-process
// services. Adapters speak unprefixed vanilla MCP: the dispatcher strips the
// service prefix before an envelope reaches them.
package adapter

import (
	"context"

	"github.com/viant/jsonrpc"
)

// Adapter handles one JSON-RPC envelope and returns one. A returned error
// means the adapter itself failed; protocol-level failures travel inside the
// response's Error field.
type Adapter interface {
	HandleRequest(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
}

// Injection tags how auth material reaches an adapter. It is resolved once at
// registration so the dispatcher never probes capabilities at call time.
type Injection int

const (
	InjectNone Injection = iota
	InjectOAuth
	InjectAPIKey
)

// CredentialAware is the optional capability contract: an adapter declares
// which injection modes it honors so a misconfigured registration fails at
// startup rather than on the first request.
type CredentialAware interface {
	SupportsInjection(kind Injection) bool
}

// ResolveInjection reports whether an adapter can serve the declared
// injection mode.
func ResolveInjection(a Adapter, injection Injection) bool {
	if injection == InjectNone {
		return true
	}
	aware, ok := a.(CredentialAware)
	return ok && aware.SupportsInjection(injection)
}

// Credentials are call-scoped and travel on the context, never on the adapter
// instance: one adapter serves concurrent requests for different users, and
// shared mutable auth state would let one user's call go out with another
// user's token.
type (
	tokenKey struct{}
	envKey   struct{}
)

// WithAccessToken attaches this call's upstream OAuth token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken returns the call's upstream OAuth token, if any.
func AccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// WithEnvironment attaches this call's caller-supplied environment variables.
func WithEnvironment(ctx context.Context, vars map[string]string) context.Context {
	return context.WithValue(ctx, envKey{}, vars)
}

// Environment returns the call's environment variables, if any.
func Environment(ctx context.Context) (map[string]string, bool) {
	vars, ok := ctx.Value(envKey{}).(map[string]string)
	return vars, ok && len(vars) > 0
}
