package bankd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/selhaddad/paystream/internal/models"
)

var errNoStream = errors.New("no stream for identity")

// streamConn serializes writes to one connection. gorilla connections do
// not support concurrent writers, and holding a per-connection lock keeps a
// slow client from stalling pushes to other identities.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Hub tracks one live event-stream connection per identity. A new
// connection for an identity replaces the previous one (mirrors a single
// device holding the session).
type Hub struct {
	mu       sync.Mutex
	conns    map[string]*streamConn
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub builds an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*streamConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With("component", "hub"),
	}
}

// HandleStream upgrades the request, runs the auth handshake and registers
// the connection. The first client frame must be {type:"auth", identity};
// the server acknowledges with auth_ok before any notification is pushed.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", "error", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var frame models.AuthFrame
	if err := conn.ReadJSON(&frame); err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	if frame.Type != models.FrameAuth || !validIdentity(frame.Identity) {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		conn.WriteJSON(models.Envelope{Type: models.FrameAuthError, Message: "authentication failed"})
		conn.Close()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(models.Envelope{Type: models.FrameAuthOK}); err != nil {
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Time{})

	sc := h.register(frame.Identity, conn)
	h.log.Info("stream authenticated", "identity", frame.Identity)

	// Drain client frames to detect the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(frame.Identity, sc)
				return
			}
		}
	}()
}

// validIdentity accepts only canonical identities; the client normalizes
// before the handshake.
func validIdentity(identity string) bool {
	return strings.HasPrefix(identity, "+") && len(identity) > 4
}

func (h *Hub) register(identity string, conn *websocket.Conn) *streamConn {
	sc := &streamConn{conn: conn}
	h.mu.Lock()
	prev := h.conns[identity]
	h.conns[identity] = sc
	h.mu.Unlock()
	if prev != nil {
		prev.conn.Close()
	}
	return sc
}

func (h *Hub) drop(identity string, sc *streamConn) {
	h.mu.Lock()
	if h.conns[identity] == sc {
		delete(h.conns, identity)
	}
	h.mu.Unlock()
	sc.conn.Close()
}

// Push sends a notification envelope to the identity's stream, best
// effort. The hub lock is held only for the map lookup; the write itself is
// serialized per connection so identities stay independent.
func (h *Hub) Push(identity, title, message string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := models.Envelope{
		Type:    models.FrameNotification,
		Title:   title,
		Message: message,
		Data:    raw,
	}

	h.mu.Lock()
	sc := h.conns[identity]
	h.mu.Unlock()
	if sc == nil {
		return errNoStream
	}

	sc.mu.Lock()
	sc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = sc.conn.WriteJSON(env)
	sc.mu.Unlock()

	if err != nil {
		h.drop(identity, sc)
		return err
	}
	return nil
}

// Close tears down all live streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for identity, sc := range h.conns {
		sc.conn.Close()
		delete(h.conns, identity)
	}
}
