package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/relayforge/relayforge/gateway/authgate"
	"github.com/relayforge/relayforge/gateway/router"
	"github.com/relayforge/relayforge/schema"
	"github.com/relayforge/relayforge/store"
)

type serviceStatus struct {
	Name      string        `json:"name"`
	Prefix    string        `json:"prefix"`
	Auth      string        `json:"auth"`
	Provider  string        `json:"provider,omitempty"`
	Price     int64         `json:"price"`
	Active    bool          `json:"active"`
	Connected *bool         `json:"connected,omitempty"`
	LastUsed  *time.Time    `json:"lastUsed,omitempty"`
	Tools     []schema.Tool `json:"tools"`
}

type accountStatus struct {
	Email        string   `json:"email"`
	Slug         string   `json:"slug"`
	Credits      int64    `json:"credits"`
	LinkedEmails []string `json:"linkedEmails"`
}

type servicesReply struct {
	Account  accountStatus   `json:"account"`
	Services []serviceStatus `json:"services"`
}

// apiAuthenticate validates the bearer token for the REST surface. No slug is
// involved here; the token alone identifies the account.
func (s *Server) apiAuthenticate(w http.ResponseWriter, r *http.Request) (*authgate.Context, bool) {
	caller, err := s.gate.ValidateToken(r.Context(), bearerToken(r), "")
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing bearer token"})
		return nil, false
	}
	return caller, true
}

// handleServices answers GET /api/services: the caller's account summary plus
// per-service pricing, connection state, last successful use and tool catalog.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.apiAuthenticate(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	user, err := s.store.User(ctx, caller.UserID)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "account lookup failed"})
		return
	}
	linked, err := s.store.LinkedEmails(ctx, caller.UserID)
	if err != nil {
		linked = nil
	}
	reply := &servicesReply{
		Account: accountStatus{
			Email:        user.Email,
			Slug:         user.Slug,
			Credits:      user.Credits,
			LinkedEmails: linked,
		},
		Services: []serviceStatus{},
	}
	for _, registration := range s.router.Services() {
		reply.Services = append(reply.Services, s.describeService(r, caller, registration))
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) describeService(r *http.Request, caller *authgate.Context, registration *router.Registration) serviceStatus {
	ctx := r.Context()
	status := serviceStatus{
		Name:     registration.Name,
		Prefix:   registration.Prefix,
		Auth:     string(registration.Auth),
		Provider: registration.Provider,
		Tools:    []schema.Tool{},
	}
	if pricing, err := s.store.Pricing(ctx, registration.Name); err == nil {
		status.Price = pricing.Price
		status.Active = pricing.Active
	}
	if registration.Auth == router.AuthOAuth && s.tokens != nil {
		_, err := s.tokens.Token(ctx, caller.UserID, registration.Provider)
		connected := err == nil
		status.Connected = &connected
	}
	if lastUsed, err := s.store.LastSuccessfulUse(ctx, caller.UserID, registration.Name); err == nil && lastUsed != nil {
		status.LastUsed = lastUsed
	}
	if tools, err := s.dispatcher.ServiceTools(ctx, registration); err == nil {
		status.Tools = tools
	} else {
		s.logger.Warn("tool catalog unavailable", "service", registration.Name, "error", err)
	}
	return status
}

// handleRevokeToken answers POST /api/tokens/revoke. Only the token's owner
// may revoke it; the cache entry is evicted synchronously so no request
// carrying the revoked value succeeds afterwards.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.apiAuthenticate(w, r)
	if !ok {
		return
	}
	var body struct {
		TokenID string `json:"tokenId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body.TokenID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tokenId is required"})
		return
	}
	ctx := r.Context()
	token, err := s.store.TokenByID(ctx, body.TokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "token not found"})
			return
		}
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token lookup failed"})
		return
	}
	if token.UserID != caller.UserID {
		s.writeJSON(w, http.StatusForbidden, map[string]string{"error": "token belongs to another account"})
		return
	}
	if err := s.store.DeleteToken(ctx, token.ID); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token deletion failed"})
		return
	}
	s.gate.RevokeToken(token.Value)
	s.logger.Info("token revoked", "tokenId", token.ID, "user", caller.UserID)
	s.writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// handleHealth answers GET /healthz without authentication.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reply := map[string]interface{}{"status": "ok"}
	if s.oauth != nil {
		reply["oauth"] = s.oauth.Health(r.Context())
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
