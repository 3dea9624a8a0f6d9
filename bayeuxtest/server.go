// Package bayeuxtest provides a minimal fake Bayeux server for
// exercising the client against real WebSocket frames instead of
// mocks, the way the teacher's client_test.go exercises its client
// against a gobayeuxtest.Server fixture.
package bayeuxtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler is invoked once per inbound message and returns the messages
// to write back. Tests supply one per meta channel they care about.
type Handler func(msg map[string]interface{}) []map[string]interface{}

// Server is an httptest-backed WebSocket endpoint speaking just enough
// Bayeux to drive the transport and session tests.
type Server struct {
	t        *testing.T
	httpSrv  *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	handlers map[string]Handler
	pushes   chan map[string]interface{}
}

// NewServer starts a test server that accepts WebSocket upgrades on
// any path.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		handlers: make(map[string]Handler),
		pushes:   make(chan map[string]interface{}, 16),
	}
	s.httpSrv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the server's http:// base address, suitable for passing
// to bayeux.NewClientSession (it rewrites http to ws itself).
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Handle registers the reply/replies produced for every message sent
// on channel.
func (s *Server) Handle(channel string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = h
}

// Push queues a server-initiated message, written to the connected
// client by a dedicated writer goroutine independently of any client
// request.
func (s *Server) Push(channel string, data interface{}) {
	s.pushes <- map[string]interface{}{
		"channel": channel,
		"data":    data,
		"id":      uuid.NewString(),
	}
}

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() {
	s.httpSrv.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Logf("bayeuxtest: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case push := <-s.pushes:
				if err := conn.WriteJSON([]map[string]interface{}{push}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var batch []map[string]interface{}
		if err := json.Unmarshal(raw, &batch); err != nil {
			continue
		}
		var replies []map[string]interface{}
		for _, m := range batch {
			replies = append(replies, s.reply(m)...)
		}
		if len(replies) > 0 {
			if err := conn.WriteJSON(replies); err != nil {
				return
			}
		}
	}
}

func (s *Server) reply(msg map[string]interface{}) []map[string]interface{} {
	channel, _ := msg["channel"].(string)

	s.mu.Lock()
	h, ok := s.handlers[channel]
	s.mu.Unlock()
	if !ok {
		return []map[string]interface{}{defaultReply(msg)}
	}
	return h(msg)
}

// defaultReply acknowledges any message without a registered Handler
// as successful, echoing its id and clientId.
func defaultReply(msg map[string]interface{}) map[string]interface{} {
	reply := map[string]interface{}{
		"channel":    msg["channel"],
		"successful": true,
	}
	if id, ok := msg["id"]; ok {
		reply["id"] = id
	}
	if clientID, ok := msg["clientId"]; ok {
		reply["clientId"] = clientID
	}
	if sub, ok := msg["subscription"]; ok {
		reply["subscription"] = sub
	}
	return reply
}

// HandshakeReply is a convenience Handler for /meta/handshake that
// assigns clientID and advertises websocket support.
func HandshakeReply(clientID string) Handler {
	return func(msg map[string]interface{}) []map[string]interface{} {
		return []map[string]interface{}{{
			"channel":                  "/meta/handshake",
			"id":                       msg["id"],
			"successful":               true,
			"clientId":                 clientID,
			"version":                  "1.0",
			"supportedConnectionTypes": []string{"websocket", "long-polling"},
		}}
	}
}

// ConnectReply is a convenience Handler for /meta/connect that always
// succeeds with the given reconnect advice.
func ConnectReply(reconnect string, intervalMS int64) Handler {
	return func(msg map[string]interface{}) []map[string]interface{} {
		return []map[string]interface{}{{
			"channel":    "/meta/connect",
			"id":         msg["id"],
			"successful": true,
			"advice": map[string]interface{}{
				"reconnect": reconnect,
				"interval":  intervalMS,
			},
		}}
	}
}
