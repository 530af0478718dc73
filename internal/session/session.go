// Package session owns the long-lived event-stream connection to the bank
// backend. One Session serves one authenticated identity: it dials the
// websocket endpoint, performs the auth handshake, delivers inbound events in
// receipt order on a single channel, and reconnects with bounded backoff when
// the transport drops. Authentication does not survive a drop; every
// reconnect re-runs the handshake.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/selhaddad/paystream/internal/models"
)

var (
	ErrClosed     = errors.New("session closed")
	ErrAuthDenied = errors.New("authentication rejected")
)

var (
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_session_reconnects_total",
		Help: "Successful stream authentications, including the first connect",
	})
	transportErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_session_transport_errors_total",
		Help: "Dial, handshake and read failures absorbed by the retry loop",
	})
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// RawEvent is an inbound frame as received, stamped at receipt time.
type RawEvent struct {
	Payload    []byte
	ReceivedAt time.Time
}

// Config controls transport behavior.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	WriteTimeout time.Duration
	EventBuffer  int
}

// DefaultConfig returns the transport defaults: 1s..5s backoff, unbounded
// retries.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  10 * time.Second,
		BackoffMin:   1 * time.Second,
		BackoffMax:   5 * time.Second,
		WriteTimeout: 5 * time.Second,
		EventBuffer:  64,
	}
}

// Session is an explicit, single-identity connection object. It is created
// when the authenticated user becomes known and closed for good on logout;
// an identity change means a new Session.
type Session struct {
	cfg      Config
	identity string
	log      *slog.Logger

	state  atomic.Int32
	events chan RawEvent

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Session for the given raw identity, normalizing it before it
// ever reaches a handshake.
func New(cfg Config, rawIdentity string, log *slog.Logger) (*Session, error) {
	identity, err := NormalizeIdentity(rawIdentity)
	if err != nil {
		return nil, fmt.Errorf("session identity: %w", err)
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	return &Session{
		cfg:      cfg,
		identity: identity,
		log:      log.With("component", "session", "identity", identity),
		events:   make(chan RawEvent, cfg.EventBuffer),
	}, nil
}

// Identity returns the normalized identity this session authenticates as.
func (s *Session) Identity() string { return s.identity }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsReady reports whether the stream is authenticated and able to deliver
// OTP notifications. Payment flows must consult this before requesting an
// OTP: a code pushed while the stream is down is lost for good.
func (s *Session) IsReady() bool { return s.State() == Authenticated }

// Events returns the inbound event channel. There is exactly one consumer
// per session; events are delivered in receipt order.
func (s *Session) Events() <-chan RawEvent { return s.events }

// Connect starts the connection loop. It is idempotent: calling it on a
// session that is already running is a no-op. It returns ErrClosed after
// Disconnect. Canceling ctx stops the loop without closing the session; a
// later Connect with a live context restarts it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

// Disconnect tears the transport down and closes the session permanently.
// Safe to call multiple times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	close(s.events)
	s.state.Store(int32(Disconnected))
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("state change", "from", prev.String(), "to", st.String())
	}
}

// run is the reconnect loop: dial, authenticate, read until the transport
// drops, back off, repeat. Only context cancellation stops it.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		// Mark the loop stopped so a later Connect can restart it.
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	backoff := s.cfg.BackoffMin

	for {
		s.setState(Connecting)
		conn, err := s.dial(ctx)
		if err == nil {
			s.setState(Connected)
			err = s.authenticate(conn)
		}
		if err != nil {
			if conn != nil {
				conn.Close()
			}
			if ctx.Err() != nil {
				s.setState(Disconnected)
				return
			}
			transportErrorsTotal.Inc()
			s.log.Warn("stream connect failed", "error", err, "retry_in", backoff)
			s.setState(Degraded)
			select {
			case <-ctx.Done():
				s.setState(Disconnected)
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.cfg.BackoffMax)
			continue
		}

		s.setState(Authenticated)
		reconnectsTotal.Inc()
		backoff = s.cfg.BackoffMin
		s.log.Info("stream authenticated")

		err = s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		transportErrorsTotal.Inc()
		s.log.Warn("stream dropped", "error", err)
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

// authenticate sends the auth frame and waits for the server ack. It runs on
// every (re)connect: auth state does not survive a transport drop.
func (s *Session) authenticate(conn *websocket.Conn) error {
	frame := models.AuthFrame{Type: models.FrameAuth, Identity: s.identity}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("auth write: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.DialTimeout))
	var ack models.Envelope
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("auth read: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if ack.Type != models.FrameAuthOK {
		return fmt.Errorf("%w: %s", ErrAuthDenied, ack.Message)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev := RawEvent{Payload: data, ReceivedAt: time.Now()}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
