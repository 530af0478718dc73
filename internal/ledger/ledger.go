// Package ledger is the client-side source of truth for pending payment
// intents, the OTPs that belong to them, and the authoritative account
// balance after commit. ApplyCommit is the sole writer of the balance and
// applies each transaction id exactly once, regardless of whether the
// confirmation arrives via the synchronous pay response, the asynchronous
// push notification, or both.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_ledger_commits_applied_total",
		Help: "Balance updates applied",
	})
	commitsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_ledger_commits_duplicate_total",
		Help: "Commit confirmations ignored by the transaction-id guard",
	})
	otpUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paystream_ledger_otp_unmatched_total",
		Help: "OTP deliveries with no waiting intent",
	})
)

// appliedLimit bounds the in-memory applied-transaction set.
const appliedLimit = 512

// BalanceView is the client's view of one account.
type BalanceView struct {
	AccountID                string
	BalanceMinor             int64
	LastAppliedTransactionID string
}

// OtpDelivery is one code handed to a waiting intent.
type OtpDelivery struct {
	IntentID   string
	Code       string
	ExpiresAt  time.Time
	ReceivedAt time.Time
}

// Ledger correlates asynchronously delivered notifications with pending
// intents and applies balance updates exactly once.
type Ledger struct {
	mu           sync.Mutex
	view         BalanceView
	applied      map[string]struct{}
	appliedOrder []string
	waiters      map[string]chan OtpDelivery
	store        Store
	log          *slog.Logger
}

// New builds a Ledger for one account, seeding the balance view and the
// applied set from the store. store may be nil for a purely in-memory
// ledger.
func New(accountID string, store Store, log *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		view:    BalanceView{AccountID: accountID},
		applied: make(map[string]struct{}),
		waiters: make(map[string]chan OtpDelivery),
		store:   store,
		log:     log.With("component", "ledger", "account_id", accountID),
	}
	if store != nil {
		view, ok, err := store.LoadView(accountID)
		if err != nil {
			return nil, err
		}
		if ok {
			l.view = view
		}
		recent, err := store.RecentCommits(appliedLimit)
		if err != nil {
			return nil, err
		}
		for _, tx := range recent {
			l.applied[tx] = struct{}{}
			l.appliedOrder = append(l.appliedOrder, tx)
		}
	}
	return l, nil
}

// Register adds a waiting intent and returns its OTP delivery channel. The
// channel holds at most one code; a newer code for the same intent replaces
// an unconsumed older one (latest wins, the server invalidates earlier
// codes on reissue).
func (l *Ledger) Register(intentID string) <-chan OtpDelivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.waiters[intentID]
	if !ok {
		ch = make(chan OtpDelivery, 1)
		l.waiters[intentID] = ch
	}
	return ch
}

// Deregister removes a waiting intent. Late notifications for it will dead-
// end in MatchOtp, which is not an error.
func (l *Ledger) Deregister(intentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.waiters, intentID)
}

// MatchOtp delivers a code to the intent waiting on it. Returns false when
// no intent is registered for intentID; stale and duplicate deliveries land
// here and are simply dropped.
func (l *Ledger) MatchOtp(intentID, code string, expiresAt, receivedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.waiters[intentID]
	if !ok {
		otpUnmatchedTotal.Inc()
		return false
	}
	d := OtpDelivery{IntentID: intentID, Code: code, ExpiresAt: expiresAt, ReceivedAt: receivedAt}
	select {
	case ch <- d:
	default:
		// An unconsumed older code is pending; replace it.
		select {
		case <-ch:
		default:
		}
		ch <- d
	}
	return true
}

// ApplyCommit applies the authoritative post-commit balance iff
// transactionID has not been applied before. Returns false on a duplicate.
// This is the sole writer of the balance view.
func (l *Ledger) ApplyCommit(transactionID string, newBalanceMinor int64) bool {
	if transactionID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if transactionID == l.view.LastAppliedTransactionID {
		commitsDuplicateTotal.Inc()
		return false
	}
	if _, dup := l.applied[transactionID]; dup {
		commitsDuplicateTotal.Inc()
		return false
	}

	l.applied[transactionID] = struct{}{}
	l.appliedOrder = append(l.appliedOrder, transactionID)
	if len(l.appliedOrder) > appliedLimit {
		oldest := l.appliedOrder[0]
		l.appliedOrder = l.appliedOrder[1:]
		delete(l.applied, oldest)
	}

	l.view.BalanceMinor = newBalanceMinor
	l.view.LastAppliedTransactionID = transactionID
	commitsAppliedTotal.Inc()

	if l.store != nil {
		if err := l.store.SaveCommit(transactionID, l.view); err != nil {
			// The in-memory guard stays authoritative for this run.
			l.log.Warn("persisting commit failed", "transaction_id", transactionID, "error", err)
		}
	}
	l.log.Info("balance applied", "transaction_id", transactionID, "balance_minor", newBalanceMinor)
	return true
}

// Balance returns the current authoritative balance in minor units.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view.BalanceMinor
}

// View returns a copy of the current balance view.
func (l *Ledger) View() BalanceView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}
