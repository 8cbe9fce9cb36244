package gateway

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relayforge/relayforge/gateway/router"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"services": [
			{"name": "demo", "url": "http://localhost:9001/mcp", "price": 1, "default": true},
			{"name": "calendar", "url": "http://localhost:9002/mcp", "auth": "oauth", "provider": "google", "price": 2},
			{"name": "slack", "prefix": "sl", "url": "http://localhost:9003/mcp", "auth": "api-key", "price": 1}
		]
	}`)
	config, err := LoadConfig(context.Background(), path)
	assert.NoError(t, err)
	if !assert.Len(t, config.Services, 3) {
		return
	}

	demo := config.Services[0]
	assert.Equal(t, "demo", demo.Prefix, "prefix defaults to the service name")
	assert.Equal(t, string(router.AuthNone), demo.Auth)
	assert.False(t, demo.RequiresAuth)
	assert.True(t, demo.IsActive())

	calendar := config.Services[1]
	assert.True(t, calendar.RequiresAuth, "non-none auth implies auth is required")

	assert.Equal(t, "sl", config.Services[2].Prefix)
}

func TestLoadConfigDuplicatePrefix(t *testing.T) {
	path := writeConfig(t, `{
		"services": [
			{"name": "one", "prefix": "x", "url": "http://localhost:9001/mcp"},
			{"name": "two", "prefix": "x", "url": "http://localhost:9002/mcp"}
		]
	}`)
	_, err := LoadConfig(context.Background(), path)
	assert.ErrorContains(t, err, "share prefix")
}

func TestLoadConfigOAuthNeedsProvider(t *testing.T) {
	path := writeConfig(t, `{
		"services": [{"name": "cal", "url": "http://localhost:9001/mcp", "auth": "oauth"}]
	}`)
	_, err := LoadConfig(context.Background(), path)
	assert.ErrorContains(t, err, "provider")
}

func TestLoadConfigUnknownAuth(t *testing.T) {
	path := writeConfig(t, `{
		"services": [{"name": "cal", "url": "http://localhost:9001/mcp", "auth": "magic"}]
	}`)
	_, err := LoadConfig(context.Background(), path)
	assert.ErrorContains(t, err, "unknown auth kind")
}

func TestBuildRouter(t *testing.T) {
	path := writeConfig(t, `{
		"services": [
			{"name": "demo", "url": "http://localhost:9001/mcp", "default": true},
			{"name": "slack", "url": "http://localhost:9002/mcp", "auth": "api-key"}
		]
	}`)
	config, err := LoadConfig(context.Background(), path)
	assert.NoError(t, err)

	serviceRouter, err := config.BuildRouter(nil)
	assert.NoError(t, err)
	assert.Len(t, serviceRouter.Services(), 2)

	registration, _, err := serviceRouter.Resolve("slack_tools/call")
	assert.NoError(t, err)
	assert.Equal(t, "slack", registration.Name)
}
