package router

import "fmt"

// ServiceNotFoundError indicates no registration matches the method prefix.
type ServiceNotFoundError struct {
	Method string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("no service registered for method %q", e.Method)
}

// ProviderNotMappedError is a deployment misconfiguration: an OAuth-backed
// service registered without a provider.
type ProviderNotMappedError struct {
	Service string
}

func (e *ProviderNotMappedError) Error() string {
	return fmt.Sprintf("service %q requires OAuth but has no provider configured", e.Service)
}

// OAuthTokenError wraps a token fetch failure with the service and user it
// occurred for; the user-facing remediation lives in the wrapped cause.
type OAuthTokenError struct {
	Service string
	UserID  string
	Err     error
}

func (e *OAuthTokenError) Error() string {
	return fmt.Sprintf("failed to obtain OAuth token for service %q user %q: %v", e.Service, e.UserID, e.Err)
}

func (e *OAuthTokenError) Unwrap() error {
	return e.Err
}
