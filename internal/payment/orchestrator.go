// Package payment implements the OTP-gated state machine for money-movement
// intents: create the invoice draft, request a challenge, wait for the code
// to arrive on the event stream, submit it, and hand the committed balance
// to the reconciliation ledger.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/selhaddad/paystream/internal/backend"
	"github.com/selhaddad/paystream/internal/ledger"
	"github.com/selhaddad/paystream/internal/models"
)

// Failure reasons surfaced to the user. Each Failed intent distinguishes
// "fix your input", "try again later" and "restart the payment".
const (
	reasonNotReady   = "connection not ready"
	reasonOtpTimeout = "otp not received"
	reasonCanceled   = "payment canceled"
)

var (
	// ErrNotReady gates the OTP request on stream readiness: a code pushed
	// while the stream is down can never be delivered.
	ErrNotReady = errors.New(reasonNotReady)
)

var intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paystream_payment_intents_total",
	Help: "Payment intents by terminal state",
}, []string{"result"})

// Backend is the subset of the bank API the orchestrator drives.
// Implemented by backend.Client.
type Backend interface {
	CreateInvoice(ctx context.Context, amountMinor int64, currency, counterpartyRef, billReference string) (string, error)
	RequestOTP(ctx context.Context, intentID string) error
	Pay(ctx context.Context, intentID, otp string) (models.PayResponse, error)
}

// Readiness is the synchronous session gate. Implemented by
// session.Session.
type Readiness interface {
	IsReady() bool
}

// Config controls orchestrator behavior.
type Config struct {
	// OtpWait bounds the event-driven wait for the code (default 90s).
	OtpWait time.Duration
	// Currency applied when a request leaves it empty.
	Currency string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{OtpWait: 90 * time.Second, Currency: "MAD"}
}

// Orchestrator drives payment intents through their lifecycle. Intents are
// independent of each other; a failing intent never affects the session or
// other intents.
type Orchestrator struct {
	backend Backend
	session Readiness
	ledger  *ledger.Ledger
	cfg     Config
	log     *slog.Logger
}

// New builds an Orchestrator.
func New(b Backend, s Readiness, l *ledger.Ledger, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.OtpWait <= 0 {
		cfg.OtpWait = 90 * time.Second
	}
	return &Orchestrator{
		backend: b,
		session: s,
		ledger:  l,
		cfg:     cfg,
		log:     log.With("component", "payment"),
	}
}

// SubmitIntent validates the request and, if it is well formed, starts an
// intent and returns its state stream. The stream receives a snapshot per
// transition and is closed once the intent reaches Committed or Failed.
// Validation failures are returned synchronously, before any network call.
func (o *Orchestrator) SubmitIntent(ctx context.Context, req Request) (<-chan Intent, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	amountMinor, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = o.cfg.Currency
	}
	intent := Intent{
		State:           StateDraft,
		AmountMinor:     amountMinor,
		Currency:        currency,
		CounterpartyRef: req.CounterpartyRef,
		BillReference:   req.BillReference,
	}

	updates := make(chan Intent, 8)
	go o.drive(ctx, intent, updates)
	return updates, nil
}

// drive walks one intent through the state machine. It suspends at four
// points: invoice creation, OTP request, OTP arrival (event-driven) and the
// commit call.
func (o *Orchestrator) drive(ctx context.Context, intent Intent, updates chan<- Intent) {
	defer close(updates)

	emit := func() {
		snapshot := intent
		snapshot.otp = ""
		select {
		case updates <- snapshot:
		default:
			// A slow reader misses intermediate snapshots, never the
			// terminal one: the buffer outsizes the transition count.
		}
	}
	fail := func(reason string) {
		intent.State = StateFailed
		intent.FailureReason = reason
		intent.otp = ""
		intentsTotal.WithLabelValues("failed").Inc()
		o.log.Warn("intent failed", "intent_id", intent.ID, "reason", reason)
		emit()
	}

	emit() // Draft

	id, err := o.backend.CreateInvoice(ctx, intent.AmountMinor, intent.Currency, intent.CounterpartyRef, intent.BillReference)
	if err != nil {
		fail(failureMessage(err))
		return
	}
	intent.ID = id
	intent.State = StateInvoiceCreated
	emit()

	// The OTP arrives only over the stream; requesting one while the
	// stream is down loses it for good. Check readiness synchronously and
	// refuse rather than silently proceeding.
	if !o.session.IsReady() {
		fail(reasonNotReady)
		return
	}

	// Register before requesting so a fast server cannot deliver into a
	// gap.
	otpCh := o.ledger.Register(intent.ID)
	defer o.ledger.Deregister(intent.ID)

	if err := o.backend.RequestOTP(ctx, intent.ID); err != nil {
		fail(failureMessage(err))
		return
	}
	intent.State = StateOtpRequested
	emit()

	timer := time.NewTimer(o.cfg.OtpWait)
	defer timer.Stop()
	var delivery ledger.OtpDelivery
	select {
	case delivery = <-otpCh:
	case <-timer.C:
		fail(reasonOtpTimeout)
		return
	case <-ctx.Done():
		fail(reasonCanceled)
		return
	}
	intent.otp = delivery.Code
	intent.State = StateOtpReceived
	emit()

	// The server invalidates earlier codes on reissue; if a fresh one
	// arrived while we were transitioning, submit that instead.
	select {
	case delivery = <-otpCh:
		intent.otp = delivery.Code
	default:
	}

	intent.State = StateOtpSubmitted
	emit()
	resp, err := o.backend.Pay(ctx, intent.ID, intent.otp)
	intent.otp = ""
	if err != nil {
		fail(failureMessage(err))
		return
	}

	o.ledger.ApplyCommit(resp.TransactionID, resp.UpdatedAccount.BalanceMinor)
	intent.TransactionID = resp.TransactionID
	intent.State = StateCommitted
	intentsTotal.WithLabelValues("committed").Inc()
	o.log.Info("intent committed", "intent_id", intent.ID, "transaction_id", resp.TransactionID)
	emit()
}

// failureMessage maps an error to the user-visible failure reason. Server
// rejections surface verbatim; everything else reads as a connectivity
// problem worth retrying.
func failureMessage(err error) string {
	var serverErr *backend.ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return reasonCanceled
	}
	return "service unavailable, try again later"
}
