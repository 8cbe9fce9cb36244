package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/viant/jsonrpc"

	"github.com/relayforge/relayforge/gateway/authgate"
	"github.com/relayforge/relayforge/schema"
)

const (
	bearerPrefix    = "Bearer "
	envHeaderPrefix = "X-Env-"
	maxBodyBytes    = 1 << 20
)

// handleMCP serves one JSON-RPC envelope per POST on /mcp/u/{slug}.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r, r.PathValue("slug"))
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, jsonrpc.NewParsingError(err.Error(), nil))
		return
	}
	request, err := parseRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, jsonrpc.NewParsingError(err.Error(), body))
		return
	}
	// The dispatch context is detached from the client connection: a caller
	// that disconnects mid-call must not cancel upstream work that will
	// complete, be charged and be tracked regardless.
	response := s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), caller, request, harvestEnv(r.Header))
	s.writeResponse(w, statusFor(response), response)
}

// authenticate validates the bearer token and, when slug is non-empty, its
// binding to the URL. Failures are answered with a JSON-RPC error envelope
// carrying a null id since no request was parsed yet.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, slug string) (*authgate.Context, bool) {
	caller, err := s.gate.ValidateToken(r.Context(), bearerToken(r), slug)
	if err != nil {
		status := http.StatusUnauthorized
		message := "invalid or missing bearer token"
		if errors.Is(err, authgate.ErrSlugMismatch) {
			status = http.StatusForbidden
			message = "token is not valid for this URL"
		}
		s.writeError(w, status, schema.NewUnauthorized(message, nil))
		return nil, false
	}
	return caller, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

// harvestEnv collects caller-supplied environment from X-Env-{Service}-{Var}
// headers into {SERVICE}_{VAR} keys. The gateway never stores these values;
// they live for the duration of one request.
func harvestEnv(header http.Header) map[string]string {
	env := map[string]string{}
	for key, values := range header {
		if !strings.HasPrefix(key, envHeaderPrefix) || len(values) == 0 {
			continue
		}
		name := strings.ToUpper(strings.ReplaceAll(key[len(envHeaderPrefix):], "-", "_"))
		if name == "" {
			continue
		}
		env[name] = values[0]
	}
	return env
}

func parseRequest(data []byte) (*jsonrpc.Request, error) {
	type wireRequest jsonrpc.Request
	request := &wireRequest{}
	if err := json.Unmarshal(data, request); err != nil {
		return nil, err
	}
	return (*jsonrpc.Request)(request), nil
}

// statusFor maps a dispatched response's JSON-RPC error onto the HTTP status
// line so plain HTTP clients can branch without parsing the body.
func statusFor(response *jsonrpc.Response) int {
	if response.Error == nil {
		return http.StatusOK
	}
	switch response.Error.Code {
	case schema.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case schema.CodeUnauthorized:
		return http.StatusUnauthorized
	case schema.CodeMethodNotFound:
		return http.StatusNotFound
	case schema.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case schema.CodeParseError, schema.CodeInvalidRequest, schema.CodeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, response *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, jsonErr *jsonrpc.Error) {
	s.writeResponse(w, status, &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: jsonErr})
}
