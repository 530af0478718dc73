package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/selhaddad/paystream/internal/session"
)

var (
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paystream_notifications_total",
		Help: "Inbound notifications routed, labeled by kind",
	}, []string{"kind"})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_notifications_duplicate_total",
		Help: "Notifications dropped by the recently-seen set",
	})

	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_notifications_malformed_total",
		Help: "Frames dropped because they could not be parsed",
	})
)

// LedgerSink receives OtpIssued and PaymentCommitted notifications for
// correlation. Implemented by the reconciliation ledger.
type LedgerSink interface {
	MatchOtp(intentID, code string, expiresAt, receivedAt time.Time) bool
	ApplyCommit(transactionID string, newBalanceMinor int64) bool
}

// AlertSink is the local user-facing notification surface. Delivery is best
// effort; a sink failure never affects ledger correlation.
type AlertSink interface {
	Alert(n Notification) error
}

// AlertFunc adapts a function to the AlertSink interface.
type AlertFunc func(n Notification) error

func (f AlertFunc) Alert(n Notification) error { return f(n) }

// Router consumes raw events from one session, in receipt order, and
// dispatches typed notifications. Repeat deliveries (server retry, reconnect
// replay) reach the ledger at most once.
type Router struct {
	ledger LedgerSink
	alerts AlertSink
	seen   *seenSet
	log    *slog.Logger
}

// NewRouter builds a Router. alerts may be nil when no local surface exists.
func NewRouter(ledger LedgerSink, alerts AlertSink, log *slog.Logger) *Router {
	return &Router{
		ledger: ledger,
		alerts: alerts,
		seen:   newSeenSet(256),
		log:    log.With("component", "router"),
	}
}

// Run consumes events until the channel closes or ctx is canceled. It is the
// single consumer of the session's event channel.
func (r *Router) Run(ctx context.Context, events <-chan session.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ev.Payload, ev.ReceivedAt)
		}
	}
}

// Handle routes one raw frame. Malformed input is logged and dropped; it
// never takes the session down.
func (r *Router) Handle(payload []byte, receivedAt time.Time) {
	n, err := Route(payload, receivedAt)
	if err != nil {
		malformedTotal.Inc()
		r.log.Warn("dropping unparseable frame", "error", err)
		return
	}
	r.Dispatch(n)
}

// Dispatch delivers a typed notification: correlation kinds go to the
// ledger, everything goes to the alert surface.
func (r *Router) Dispatch(n Notification) {
	notificationsTotal.WithLabelValues(string(n.Kind)).Inc()

	if corr := n.CorrelationID(); corr != "" {
		if !r.seen.add(string(n.Kind) + "|" + corr) {
			duplicatesTotal.Inc()
			r.log.Debug("duplicate notification ignored", "kind", n.Kind, "correlation_id", corr)
			return
		}
	}

	switch n.Kind {
	case KindOtpIssued:
		if !r.ledger.MatchOtp(n.IntentID, n.OtpCode, n.ExpiresAt, n.ReceivedAt) {
			// Stale or abandoned intent; expected after cancellation.
			r.log.Info("otp with no waiting intent", "intent_id", n.IntentID)
		}
	case KindPaymentCommitted:
		if !r.ledger.ApplyCommit(n.TransactionID, n.NewBalanceMinor) {
			r.log.Debug("commit already applied", "transaction_id", n.TransactionID)
		}
	}

	if r.alerts != nil {
		if err := r.alerts.Alert(n); err != nil {
			r.log.Warn("alert surface failed", "error", err)
		}
	}
}

// seenSet is a bounded recently-seen set with FIFO eviction.
type seenSet struct {
	limit int
	keys  map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, keys: make(map[string]struct{}, limit)}
}

// add returns false if the key was already present.
func (s *seenSet) add(key string) bool {
	if _, dup := s.keys[key]; dup {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
	return true
}
