package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/viant/jsonrpc"
	proto "github.com/viant/mcp-protocol/schema"

	"github.com/relayforge/relayforge/gateway/router"
	"github.com/relayforge/relayforge/schema"
	"github.com/relayforge/relayforge/store"
)

const (
	testSlug  = "happy-dolphin-42"
	testToken = "rf-secret-token"
)

type serverFixture struct {
	store  *store.SQLite
	user   *store.User
	demo   *testAdapter
	slack  *testAdapter
	server *Server
	ts     *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	backing, err := store.NewSQLite(db)
	if err != nil {
		t.Fatalf("init schema: %v", err)
	}

	ctx := context.Background()
	user := &store.User{ID: uuid.NewString(), Email: "u@example.com", Credits: 10, Slug: testSlug}
	assert.NoError(t, backing.UpsertUser(ctx, user))
	assert.NoError(t, backing.InsertToken(ctx, &store.Token{ID: "tok-1", Value: testToken, UserID: user.ID}))
	assert.NoError(t, backing.SetPricing(ctx, &store.Pricing{Service: "demo", Price: 1, Active: true}))
	assert.NoError(t, backing.SetPricing(ctx, &store.Pricing{Service: "slack", Price: 1, Active: true}))

	f := &serverFixture{store: backing, user: user, demo: &testAdapter{}, slack: &testAdapter{}}
	serviceRouter := router.New(nil)
	assert.NoError(t, serviceRouter.Register(&router.Registration{
		Name: "demo", Prefix: "demo", Default: true, Adapter: f.demo,
	}))
	assert.NoError(t, serviceRouter.Register(&router.Registration{
		Name: "slack", Prefix: "slack", RequiresAuth: true, Auth: router.AuthAPIKey, Adapter: f.slack,
	}))

	server, err := New(
		WithStore(backing),
		WithRouter(serviceRouter),
		WithImplementation("relayforge", "test"),
	)
	if err != nil {
		t.Fatalf("assemble server: %v", err)
	}
	f.server = server
	f.ts = httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		backing.Close()
	})
	return f
}

func (f *serverFixture) post(t *testing.T, path, body string, headers map[string]string) (int, []byte) {
	t.Helper()
	request, err := http.NewRequest(http.MethodPost, f.ts.URL+path, strings.NewReader(body))
	assert.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	response, err := f.ts.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	assert.NoError(t, err)
	return response.StatusCode, data
}

func authHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testToken}
}

func mcpPath(slug string) string {
	return "/mcp/u/" + slug
}

func decodeResponse(t *testing.T, data []byte) *jsonrpcEnvelope {
	t.Helper()
	envelope := &jsonrpcEnvelope{}
	assert.NoError(t, json.Unmarshal(data, envelope))
	return envelope
}

type jsonrpcEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func TestHTTPMissingToken(t *testing.T) {
	f := newServerFixture(t)
	status, data := f.post(t, mcpPath(testSlug), `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	envelope := decodeResponse(t, data)
	if assert.NotNil(t, envelope.Error) {
		assert.Equal(t, schema.CodeUnauthorized, envelope.Error.Code)
	}
	assert.Nil(t, envelope.Id)
}

func TestHTTPSlugMismatch(t *testing.T) {
	f := newServerFixture(t)
	status, _ := f.post(t, mcpPath("brave-eagle-7"), `{"jsonrpc":"2.0","id":1,"method":"ping"}`, authHeader())
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHTTPToolCallChargesOnSuccess(t *testing.T) {
	f := newServerFixture(t)
	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"demo_echo","arguments":{}}}`
	status, data := f.post(t, mcpPath(testSlug), body, authHeader())
	assert.Equal(t, http.StatusOK, status)

	envelope := decodeResponse(t, data)
	assert.Nil(t, envelope.Error)
	assert.Equal(t, float64(7), envelope.Id)

	credits, err := f.store.Credits(context.Background(), f.user.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), credits)

	usage, err := f.store.ListUsage(context.Background(), f.user.ID, 10)
	assert.NoError(t, err)
	if assert.Len(t, usage, 1) {
		assert.True(t, usage[0].Success)
		assert.Equal(t, int64(1), usage[0].Credits)
		assert.Equal(t, "tok-1", usage[0].Identifier)
	}
}

func TestHTTPClientDisconnectDoesNotAbortCall(t *testing.T) {
	f := newServerFixture(t)
	finished := make(chan error, 1)
	f.demo.respondCtx = func(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
		time.Sleep(150 * time.Millisecond)
		finished <- ctx.Err()
		return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: request.Id, Result: json.RawMessage(`{"ok":true}`)}, nil
	}

	// The caller gives up long before the downstream call completes.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"demo_echo","arguments":{}}}`
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, f.ts.URL+mcpPath(testSlug), strings.NewReader(body))
	assert.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+testToken)
	_, err = f.ts.Client().Do(request)
	assert.Error(t, err, "the client should time out first")

	select {
	case ctxErr := <-finished:
		assert.NoError(t, ctxErr, "the adapter call must outlive the client connection")
	case <-time.After(2 * time.Second):
		t.Fatal("adapter call never completed")
	}

	// The completed call is charged and tracked despite the disconnect.
	assert.Eventually(t, func() bool {
		credits, err := f.store.Credits(context.Background(), f.user.ID)
		return err == nil && credits == 9
	}, 2*time.Second, 20*time.Millisecond, "completed work is charged")
	assert.Eventually(t, func() bool {
		usage, err := f.store.ListUsage(context.Background(), f.user.ID, 10)
		return err == nil && len(usage) == 1 && usage[0].Success && usage[0].Credits == 1
	}, 2*time.Second, 20*time.Millisecond, "completed work is tracked as a success")
}

func TestHTTPInsufficientCredits(t *testing.T) {
	f := newServerFixture(t)
	// Drain the balance to zero first.
	charged, err := f.store.ChargeCredits(context.Background(), f.user.ID, 10)
	assert.NoError(t, err)
	assert.True(t, charged)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"demo_echo","arguments":{}}}`
	status, data := f.post(t, mcpPath(testSlug), body, authHeader())
	assert.Equal(t, http.StatusPaymentRequired, status)

	envelope := decodeResponse(t, data)
	if assert.NotNil(t, envelope.Error) {
		assert.Equal(t, schema.CodeInsufficientCredits, envelope.Error.Code)
		var detail schema.InsufficientCreditsData
		assert.NoError(t, json.Unmarshal(envelope.Error.Data, &detail))
		assert.Equal(t, int64(1), detail.ShortBy)
	}
}

func TestHTTPUnknownServiceIs404(t *testing.T) {
	f := newServerFixture(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nosuch_tool","arguments":{}}}`
	status, _ := f.post(t, mcpPath(testSlug), body, authHeader())
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPMalformedBody(t *testing.T) {
	f := newServerFixture(t)
	status, data := f.post(t, mcpPath(testSlug), `{not json`, authHeader())
	assert.Equal(t, http.StatusBadRequest, status)
	envelope := decodeResponse(t, data)
	if assert.NotNil(t, envelope.Error) {
		assert.Equal(t, schema.CodeParseError, envelope.Error.Code)
	}
}

func TestHTTPEnvHeaderHarvest(t *testing.T) {
	f := newServerFixture(t)
	headers := authHeader()
	headers["X-Env-Slack-Api-Key"] = "xoxb-1"
	headers["X-Env-Demo-Unrelated"] = "nope"
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slack_postMessage","arguments":{}}}`
	status, _ := f.post(t, mcpPath(testSlug), body, headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]string{"SLACK_API_KEY": "xoxb-1"}, f.slack.env,
		"only the target service's namespace is injected")
}

func TestHTTPInitialize(t *testing.T) {
	f := newServerFixture(t)
	status, data := f.post(t, mcpPath(testSlug), `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, authHeader())
	assert.Equal(t, http.StatusOK, status)
	envelope := decodeResponse(t, data)
	var result proto.InitializeResult
	assert.NoError(t, json.Unmarshal(envelope.Result, &result))
	assert.Equal(t, "relayforge", result.ServerInfo.Name)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)
	response, err := f.ts.Client().Get(f.ts.URL + "/healthz")
	assert.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestAPIServices(t *testing.T) {
	f := newServerFixture(t)
	request, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/services", nil)
	assert.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+testToken)
	response, err := f.ts.Client().Do(request)
	assert.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)

	var reply servicesReply
	assert.NoError(t, json.NewDecoder(response.Body).Decode(&reply))
	assert.Equal(t, "u@example.com", reply.Account.Email)
	assert.Equal(t, int64(10), reply.Account.Credits)
	if assert.Len(t, reply.Services, 2) {
		assert.Equal(t, "demo", reply.Services[0].Name)
		assert.Equal(t, int64(1), reply.Services[0].Price)
		assert.True(t, reply.Services[0].Active)
	}
}

func TestAPIRevokeToken(t *testing.T) {
	f := newServerFixture(t)

	// Warm the credential cache so revocation has something to evict.
	status, _ := f.post(t, mcpPath(testSlug), `{"jsonrpc":"2.0","id":1,"method":"ping"}`, authHeader())
	assert.Equal(t, http.StatusOK, status)

	status, data := f.post(t, "/api/tokens/revoke", `{"tokenId":"tok-1"}`, authHeader())
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "true")

	status, _ = f.post(t, mcpPath(testSlug), `{"jsonrpc":"2.0","id":2,"method":"ping"}`, authHeader())
	assert.Equal(t, http.StatusUnauthorized, status, "revoked token must fail inside the cache TTL window")
}

func TestAPIRevokeUnknownToken(t *testing.T) {
	f := newServerFixture(t)
	status, _ := f.post(t, "/api/tokens/revoke", `{"tokenId":"nope"}`, authHeader())
	assert.Equal(t, http.StatusNotFound, status)
}
