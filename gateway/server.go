package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	proto "github.com/viant/mcp-protocol/schema"

	"github.com/relayforge/relayforge/billing"
	"github.com/relayforge/relayforge/gateway/authgate"
	"github.com/relayforge/relayforge/gateway/oauthtoken"
	"github.com/relayforge/relayforge/gateway/router"
	"github.com/relayforge/relayforge/store"
)

// Server ties the gateway pipeline to its HTTP surface: the per-user MCP
// endpoints, the management API and the health probe.
type Server struct {
	store      store.Store
	router     *router.Router
	gate       *authgate.Gate
	billing    *billing.Gate
	dispatcher *Dispatcher
	oauth      *oauthtoken.Client
	tokens     router.TokenSource

	logger       *slog.Logger
	info         proto.Implementation
	instructions *string
	upgrader     websocket.Upgrader
}

// Option configures the server.
type Option func(s *Server) error

// WithStore sets the persistence backend; required.
func WithStore(backing store.Store) Option {
	return func(s *Server) error {
		s.store = backing
		return nil
	}
}

// WithRouter sets the service router; required.
func WithRouter(serviceRouter *router.Router) Option {
	return func(s *Server) error {
		s.router = serviceRouter
		return nil
	}
}

// WithAuthGate overrides the credential gate built from the store.
func WithAuthGate(gate *authgate.Gate) Option {
	return func(s *Server) error {
		s.gate = gate
		return nil
	}
}

// WithBilling overrides the billing gate built from the store.
func WithBilling(gate *billing.Gate) Option {
	return func(s *Server) error {
		s.billing = gate
		return nil
	}
}

// WithOAuthClient wires the companion OAuth token service, used both as the
// router's token source and for health and connection reporting.
func WithOAuthClient(client *oauthtoken.Client) Option {
	return func(s *Server) error {
		s.oauth = client
		if s.tokens == nil && client != nil {
			s.tokens = client
		}
		return nil
	}
}

// WithTokenSource overrides the token source used for connection reporting.
func WithTokenSource(tokens router.TokenSource) Option {
	return func(s *Server) error {
		s.tokens = tokens
		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithImplementation sets the identity reported by initialize.
func WithImplementation(name, version string) Option {
	return func(s *Server) error {
		s.info = proto.Implementation{Name: name, Version: version}
		return nil
	}
}

// WithInstructions sets the instructions text reported by initialize.
func WithInstructions(text string) Option {
	return func(s *Server) error {
		s.instructions = &text
		return nil
	}
}

// New assembles a server. Store and router are required; the auth and billing
// gates default to store-backed instances.
func New(options ...Option) (*Server, error) {
	s := &Server{
		logger: slog.Default(),
		info:   proto.Implementation{Name: "relayforge", Version: "dev"},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// MCP agents are not browsers; origin enforcement adds nothing
			// when every request must already carry a bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		return nil, fmt.Errorf("gateway: store is required")
	}
	if s.router == nil {
		return nil, fmt.Errorf("gateway: router is required")
	}
	if s.gate == nil {
		s.gate = authgate.New(s.store, authgate.WithLogger(s.logger))
	}
	if s.billing == nil {
		s.billing = billing.New(s.store, s.logger)
	}
	s.dispatcher = NewDispatcher(s.router, s.billing, s.logger, s.info)
	s.dispatcher.instructions = s.instructions
	return s, nil
}

// AuthGate exposes the credential gate, e.g. to start its sweeper.
func (s *Server) AuthGate() *authgate.Gate {
	return s.gate
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/u/{slug}", s.handleMCP)
	mux.HandleFunc("GET /mcp/u/{slug}/ws", s.handleWS)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("POST /api/tokens/revoke", s.handleRevokeToken)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// HTTPServer wraps the handler in a configured http.Server.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
