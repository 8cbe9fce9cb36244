package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/viant/jsonrpc"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsConn serializes writes to one socket. Frames dispatch concurrently, so
// replies may interleave in any order; each write holds the mutex for the
// duration of the frame.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(value)
}

// handleWS upgrades GET /mcp/u/{slug}/ws after the same credential checks as
// the HTTP transport; a bad token or slug is refused before the upgrade.
// Environment headers are harvested once at handshake and reused for every
// frame on the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.authenticate(w, r, r.PathValue("slug"))
	if !ok {
		return
	}
	env := harvestEnv(r.Header)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	session := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.pingLoop(ctx, session)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// In-flight dispatches finish even after the peer disconnects, so a
	// completed upstream call is still charged and tracked.
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		request, parseErr := parseRequest(data)
		if parseErr != nil {
			// Malformed frame: answer with a null id, keep the socket open.
			reply := &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: jsonrpc.NewParsingError(parseErr.Error(), data)}
			if err := session.writeJSON(reply); err != nil {
				return
			}
			continue
		}
		inflight.Add(1)
		go func(request *jsonrpc.Request) {
			defer inflight.Done()
			// Detached context: a closed socket or failed write must not
			// cancel this frame's upstream call or any other in-flight frame.
			response := s.dispatcher.Dispatch(context.WithoutCancel(ctx), caller, request, env)
			if request.Id == nil {
				// Notification frames get no reply.
				return
			}
			if err := session.writeJSON(response); err != nil {
				s.logger.Debug("dropping reply, socket gone", "error", err)
			}
		}(request)
	}
}

func (s *Server) pingLoop(ctx context.Context, session *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session.mu.Lock()
			err := session.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			session.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
