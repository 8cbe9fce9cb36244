package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"

	"github.com/relayforge/relayforge/adapter"
	"github.com/relayforge/relayforge/gateway/router"
)

// ServiceConfig declares one downstream service in the registry file.
type ServiceConfig struct {
	Name         string `json:"name"`
	Prefix       string `json:"prefix,omitempty"`
	URL          string `json:"url"`
	Auth         string `json:"auth,omitempty"`
	Provider     string `json:"provider,omitempty"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
	Default      bool   `json:"default,omitempty"`
	Price        int64  `json:"price"`
	Active       *bool  `json:"active,omitempty"`
}

// Config is the service registry loaded at startup.
type Config struct {
	Services []ServiceConfig `json:"services"`
}

// LoadConfig reads a registry from any afs-addressable URL (local path, s3,
// gs, http).
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %v: %w", URL, err)
	}
	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %v: %w", URL, err)
	}
	config.Init()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Init fills derivable defaults.
func (c *Config) Init() {
	for i := range c.Services {
		service := &c.Services[i]
		if service.Prefix == "" {
			service.Prefix = service.Name
		}
		if service.Auth == "" {
			service.Auth = string(router.AuthNone)
		}
		if service.Auth != string(router.AuthNone) {
			service.RequiresAuth = true
		}
	}
}

// Validate rejects registries the router would refuse at registration time,
// so misconfiguration fails at startup rather than on first request.
func (c *Config) Validate() error {
	seen := map[string]string{}
	defaults := 0
	for i := range c.Services {
		service := &c.Services[i]
		if service.Name == "" {
			return fmt.Errorf("service %d has no name", i)
		}
		if service.URL == "" {
			return fmt.Errorf("service %q has no url", service.Name)
		}
		if prior, ok := seen[service.Prefix]; ok {
			return fmt.Errorf("services %q and %q share prefix %q", prior, service.Name, service.Prefix)
		}
		seen[service.Prefix] = service.Name
		switch router.AuthKind(service.Auth) {
		case router.AuthNone, router.AuthOAuth, router.AuthAPIKey:
		default:
			return fmt.Errorf("service %q has unknown auth kind %q", service.Name, service.Auth)
		}
		if router.AuthKind(service.Auth) == router.AuthOAuth && service.Provider == "" {
			return fmt.Errorf("service %q declares oauth but no provider", service.Name)
		}
		if service.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("more than one default service declared")
	}
	return nil
}

// IsActive reports whether the service should be priced as active; absent
// means active.
func (s *ServiceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Registration builds the router entry, fronted by an HTTP adapter.
func (s *ServiceConfig) Registration() *router.Registration {
	return &router.Registration{
		Name:         s.Name,
		Prefix:       s.Prefix,
		RequiresAuth: s.RequiresAuth,
		Auth:         router.AuthKind(s.Auth),
		Provider:     s.Provider,
		Default:      s.Default,
		Adapter:      adapter.NewHTTP(s.URL),
	}
}

// BuildRouter registers every configured service.
func (c *Config) BuildRouter(tokens router.TokenSource) (*router.Router, error) {
	serviceRouter := router.New(tokens)
	for i := range c.Services {
		if err := serviceRouter.Register(c.Services[i].Registration()); err != nil {
			return nil, err
		}
	}
	return serviceRouter, nil
}
