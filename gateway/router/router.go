// Package router resolves inbound JSON-RPC methods to registered downstream
// services by prefix and classifies the auth material each resolution needs.
package router

import (
	"context"
	"fmt"

	"github.com/viant/mcp-protocol/syncmap"
	"golang.org/x/oauth2"

	"github.com/relayforge/relayforge/adapter"
)

// AuthKind describes how a service authenticates against its upstream.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthOAuth  AuthKind = "oauth"
	AuthAPIKey AuthKind = "api-key"
)

// TokenSource obtains a fresh upstream OAuth token for a user and provider.
type TokenSource interface {
	Token(ctx context.Context, userID, provider string) (*oauth2.Token, error)
}

// Registration describes one downstream service. Created once at startup,
// immutable afterwards.
type Registration struct {
	Name         string
	Prefix       string
	RequiresAuth bool
	Auth         AuthKind
	Provider     string
	// Default marks the single no-auth fallback for unprefixed legacy methods.
	Default bool

	Adapter adapter.Adapter
	// Injection is derived from Auth at registration; the dispatcher switches
	// on it to build each call's credential context.
	Injection adapter.Injection
}

// Resolution is the outcome of routing one method: the target service, the
// method the adapter should see, and the auth material to inject.
type Resolution struct {
	Service     *Registration
	InnerMethod string
	// Token is set for OAuth-backed services; fetched fresh per call.
	Token *oauth2.Token
	// NeedsEnv signals the dispatcher to harvest caller-supplied environment
	// headers; API-key material is never fetched or cached by the gateway.
	NeedsEnv bool
}

// Router is the prefix-keyed service registry.
type Router struct {
	byPrefix *syncmap.Map[string, *Registration]
	ordered  []*Registration
	fallback *Registration
	tokens   TokenSource
}

// New creates a router; tokens may be nil when no OAuth service is registered.
func New(tokens TokenSource) *Router {
	return &Router{
		byPrefix: syncmap.NewMap[string, *Registration](),
		tokens:   tokens,
	}
}

// Register adds a service. Prefixes must be unique; injection capabilities are
// resolved here so dispatch never probes adapters.
func (r *Router) Register(registration *Registration) error {
	if registration.Prefix == "" {
		return fmt.Errorf("service %q has an empty prefix", registration.Name)
	}
	if registration.Adapter == nil {
		return fmt.Errorf("service %q has no adapter", registration.Name)
	}
	if _, ok := r.byPrefix.Get(registration.Prefix); ok {
		return fmt.Errorf("duplicate service prefix %q", registration.Prefix)
	}
	switch registration.Auth {
	case AuthOAuth:
		registration.Injection = adapter.InjectOAuth
	case AuthAPIKey:
		registration.Injection = adapter.InjectAPIKey
	case AuthNone, "":
		registration.Auth = AuthNone
		registration.Injection = adapter.InjectNone
	default:
		return fmt.Errorf("service %q has unknown auth kind %q", registration.Name, registration.Auth)
	}
	if !adapter.ResolveInjection(registration.Adapter, registration.Injection) {
		return fmt.Errorf("service %q declares %v auth but its adapter cannot receive those credentials", registration.Name, registration.Auth)
	}
	if registration.Default {
		if registration.RequiresAuth {
			return fmt.Errorf("default service %q must not require auth", registration.Name)
		}
		if r.fallback != nil {
			return fmt.Errorf("default service already registered: %q", r.fallback.Name)
		}
		r.fallback = registration
	}
	r.byPrefix.Put(registration.Prefix, registration)
	r.ordered = append(r.ordered, registration)
	return nil
}

// Services returns every registration in registration order.
func (r *Router) Services() []*Registration {
	return r.ordered
}

// Lookup returns the registration for a prefix.
func (r *Router) Lookup(prefix string) (*Registration, bool) {
	return r.byPrefix.Get(prefix)
}

// Resolve maps a method to a service by its prefix. A method with no
// separator falls back to the default no-auth service when one is registered;
// this keeps unprefixed legacy callers working.
func (r *Router) Resolve(method string) (*Registration, string, error) {
	prefix, inner, ok := Split(method)
	if !ok {
		if r.fallback != nil {
			return r.fallback, method, nil
		}
		return nil, "", &ServiceNotFoundError{Method: method}
	}
	registration, ok := r.byPrefix.Get(prefix)
	if !ok {
		return nil, "", &ServiceNotFoundError{Method: method}
	}
	return registration, inner, nil
}

// ResolveWithAuth resolves the service and acquires the auth material its
// registration demands. OAuth tokens are fetched fresh on every call so
// upstream refresh stays transparent.
func (r *Router) ResolveWithAuth(ctx context.Context, method, userID string) (*Resolution, error) {
	registration, inner, err := r.Resolve(method)
	if err != nil {
		return nil, err
	}
	resolution := &Resolution{Service: registration, InnerMethod: inner}
	if !registration.RequiresAuth {
		return resolution, nil
	}
	switch registration.Auth {
	case AuthOAuth:
		if registration.Provider == "" {
			return nil, &ProviderNotMappedError{Service: registration.Name}
		}
		if r.tokens == nil {
			return nil, &ProviderNotMappedError{Service: registration.Name}
		}
		token, err := r.tokens.Token(ctx, userID, registration.Provider)
		if err != nil {
			return nil, &OAuthTokenError{Service: registration.Name, UserID: userID, Err: err}
		}
		resolution.Token = token
	case AuthAPIKey:
		resolution.NeedsEnv = true
	}
	return resolution, nil
}
