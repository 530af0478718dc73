package payment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/selhaddad/paystream/internal/backend"
	"github.com/selhaddad/paystream/internal/ledger"
	"github.com/selhaddad/paystream/internal/models"
)

type mockBackend struct {
	mu          sync.Mutex
	createCalls int
	otpCalls    int
	payCalls    int
	paidOtp     string

	intentID  string
	createErr error
	otpErr    error
	payErr    error
	payResp   models.PayResponse

	// onRequestOTP imitates the out-of-band delivery channel.
	onRequestOTP func(intentID string)
}

func (m *mockBackend) CreateInvoice(ctx context.Context, amountMinor int64, currency, counterpartyRef, billReference string) (string, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	return m.intentID, nil
}

func (m *mockBackend) RequestOTP(ctx context.Context, intentID string) error {
	m.mu.Lock()
	m.otpCalls++
	hook := m.onRequestOTP
	m.mu.Unlock()
	if m.otpErr != nil {
		return m.otpErr
	}
	if hook != nil {
		hook(intentID)
	}
	return nil
}

func (m *mockBackend) Pay(ctx context.Context, intentID, otp string) (models.PayResponse, error) {
	m.mu.Lock()
	m.payCalls++
	m.paidOtp = otp
	m.mu.Unlock()
	if m.payErr != nil {
		return models.PayResponse{}, m.payErr
	}
	return m.payResp, nil
}

func (m *mockBackend) counts() (create, otp, pay int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, m.otpCalls, m.payCalls
}

type readiness bool

func (r readiness) IsReady() bool { return bool(r) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New("acc-1", nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func validRequest() Request {
	return Request{Amount: "150.00", CounterpartyRef: "RIB45678", BillReference: "12345678901"}
}

func collect(t *testing.T, updates <-chan Intent) []Intent {
	t.Helper()
	var out []Intent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case intent, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, intent)
		case <-deadline:
			t.Fatalf("intent stream did not terminate; got %v", states(out))
			return nil
		}
	}
}

func states(intents []Intent) []State {
	out := make([]State, len(intents))
	for i, intent := range intents {
		out[i] = intent.State
	}
	return out
}

// assertForwardOnly verifies the walk never goes backward and never skips a
// required predecessor, terminating in Committed or Failed.
func assertForwardOnly(t *testing.T, seq []State) {
	t.Helper()
	if len(seq) == 0 {
		t.Fatal("empty state sequence")
	}
	if last := seq[len(seq)-1]; !last.Terminal() {
		t.Fatalf("sequence %v does not terminate", seq)
	}
	for i := 1; i < len(seq); i++ {
		if seq[i] == StateFailed {
			if i != len(seq)-1 {
				t.Fatalf("Failed is terminal but sequence continues: %v", seq)
			}
			continue
		}
		if seq[i].Rank() != seq[i-1].Rank()+1 {
			t.Fatalf("transition %s -> %s skips or regresses (sequence %v)", seq[i-1], seq[i], seq)
		}
	}
}

func TestHappyPathEndToEnd(t *testing.T) {
	led := newTestLedger(t)
	mock := &mockBackend{
		intentID: "inv-1",
		payResp: models.PayResponse{
			TransactionID:  "T1",
			UpdatedAccount: models.UpdatedAccount{AccountID: "acc-1", BalanceMinor: 85000},
		},
	}
	mock.onRequestOTP = func(intentID string) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			led.MatchOtp(intentID, "482913", time.Now().Add(time.Minute), time.Now())
		}()
	}

	orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())
	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)

	want := []State{StateDraft, StateInvoiceCreated, StateOtpRequested, StateOtpReceived, StateOtpSubmitted, StateCommitted}
	got := states(intents)
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
	assertForwardOnly(t, got)

	final := intents[len(intents)-1]
	if final.TransactionID != "T1" {
		t.Errorf("TransactionID = %q, want T1", final.TransactionID)
	}
	if final.AmountMinor != 15000 {
		t.Errorf("AmountMinor = %d, want 15000", final.AmountMinor)
	}
	if mock.paidOtp != "482913" {
		t.Errorf("submitted otp = %q, want 482913", mock.paidOtp)
	}
	if got := led.Balance(); got != 85000 {
		t.Errorf("Balance() = %d, want 85000", got)
	}

	// The push notification for the same commit arrives afterward; the
	// ledger must not apply it twice.
	if led.ApplyCommit("T1", 85000) {
		t.Error("duplicate commit applied")
	}
	if got := led.Balance(); got != 85000 {
		t.Errorf("Balance() after duplicate = %d, want 85000", got)
	}
}

func TestValidationRejectsBeforeAnyNetworkCall(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"bill ref below floor", Request{Amount: "150.00", CounterpartyRef: "RIB45678", BillReference: "12345"}},
		{"bill ref above ceiling", Request{Amount: "150.00", CounterpartyRef: "RIB45678", BillReference: "1234567890123456"}},
		{"counterparty too short", Request{Amount: "150.00", CounterpartyRef: "RIB4"}},
		{"amount not a number", Request{Amount: "abc", CounterpartyRef: "RIB45678"}},
		{"amount negative", Request{Amount: "-5", CounterpartyRef: "RIB45678"}},
		{"amount zero", Request{Amount: "0.00", CounterpartyRef: "RIB45678"}},
		{"amount overflows minor units", Request{Amount: "368934881474191033", CounterpartyRef: "RIB45678"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockBackend{intentID: "inv-1"}
			orch := New(mock, readiness(true), newTestLedger(t), DefaultConfig(), testLogger())

			_, err := orch.SubmitIntent(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("SubmitIntent() error = %v, want ValidationError", err)
			}
			if create, otp, pay := mock.counts(); create+otp+pay != 0 {
				t.Errorf("network calls made for invalid input: %d/%d/%d", create, otp, pay)
			}
		})
	}
}

func TestNoOtpRequestWhileSessionNotReady(t *testing.T) {
	mock := &mockBackend{intentID: "inv-1"}
	orch := New(mock, readiness(false), newTestLedger(t), DefaultConfig(), testLogger())

	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.State != StateFailed {
		t.Fatalf("final state = %s, want failed", final.State)
	}
	if final.FailureReason != "connection not ready" {
		t.Errorf("FailureReason = %q, want %q", final.FailureReason, "connection not ready")
	}
	if _, otp, _ := mock.counts(); otp != 0 {
		t.Errorf("RequestOTP called %d times while not ready, want 0", otp)
	}
	assertForwardOnly(t, states(intents))
}

func TestOtpTimeoutFailsIntent(t *testing.T) {
	mock := &mockBackend{intentID: "inv-1"} // never delivers a code
	cfg := DefaultConfig()
	cfg.OtpWait = 30 * time.Millisecond
	orch := New(mock, readiness(true), newTestLedger(t), cfg, testLogger())

	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.State != StateFailed {
		t.Fatalf("final state = %s, want failed", final.State)
	}
	if final.FailureReason != "otp not received" {
		t.Errorf("FailureReason = %q, want %q", final.FailureReason, "otp not received")
	}
	if _, _, pay := mock.counts(); pay != 0 {
		t.Error("Pay called despite otp timeout")
	}
	assertForwardOnly(t, states(intents))
}

func TestStaleOtpReplacedByReissue(t *testing.T) {
	led := newTestLedger(t)
	mock := &mockBackend{
		intentID: "inv-1",
		payResp: models.PayResponse{
			TransactionID:  "T1",
			UpdatedAccount: models.UpdatedAccount{AccountID: "acc-1", BalanceMinor: 85000},
		},
	}
	// Both codes land before the orchestrator consumes either: the server
	// invalidated the first on reissue, so only the second may be
	// submitted.
	mock.onRequestOTP = func(intentID string) {
		led.MatchOtp(intentID, "111111", time.Now().Add(time.Minute), time.Now())
		led.MatchOtp(intentID, "222222", time.Now().Add(time.Minute), time.Now())
	}

	orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())
	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)

	if final := intents[len(intents)-1]; final.State != StateCommitted {
		t.Fatalf("final state = %s (%s), want committed", final.State, final.FailureReason)
	}
	if mock.paidOtp != "222222" {
		t.Errorf("submitted otp = %q, want the reissued 222222", mock.paidOtp)
	}
}

func TestCommitRejectionSurfacesServerMessage(t *testing.T) {
	led := newTestLedger(t)
	mock := &mockBackend{
		intentID: "inv-1",
		payErr:   &backend.ServerError{StatusCode: 422, Message: "Invalid or expired OTP"},
	}
	mock.onRequestOTP = func(intentID string) {
		led.MatchOtp(intentID, "482913", time.Now().Add(time.Minute), time.Now())
	}

	orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())
	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.State != StateFailed {
		t.Fatalf("final state = %s, want failed", final.State)
	}
	if final.FailureReason != "Invalid or expired OTP" {
		t.Errorf("FailureReason = %q, want the server message verbatim", final.FailureReason)
	}
	if got := led.Balance(); got != 0 {
		t.Errorf("Balance() = %d after rejected commit, want 0", got)
	}
	assertForwardOnly(t, states(intents))
}

func TestInvoiceCreationFailureSurfacesServerMessage(t *testing.T) {
	mock := &mockBackend{
		createErr: &backend.ServerError{StatusCode: 422, Message: "Insufficient funds"},
	}
	orch := New(mock, readiness(true), newTestLedger(t), DefaultConfig(), testLogger())

	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.State != StateFailed || final.FailureReason != "Insufficient funds" {
		t.Errorf("final = %s/%q, want failed/Insufficient funds", final.State, final.FailureReason)
	}
}

func TestTransportFailureReadsAsRetryable(t *testing.T) {
	mock := &mockBackend{createErr: errors.New("dial tcp: connection refused")}
	orch := New(mock, readiness(true), newTestLedger(t), DefaultConfig(), testLogger())

	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.FailureReason != "service unavailable, try again later" {
		t.Errorf("FailureReason = %q, want a retryable message", final.FailureReason)
	}
}

func TestCancellationDeregistersCorrelation(t *testing.T) {
	led := newTestLedger(t)
	mock := &mockBackend{intentID: "inv-1"} // never delivers
	orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := orch.SubmitIntent(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	// Let the intent reach the OTP wait, then abandon it.
	time.Sleep(20 * time.Millisecond)
	cancel()
	intents := collect(t, updates)
	final := intents[len(intents)-1]

	if final.State != StateFailed {
		t.Fatalf("final state = %s, want failed", final.State)
	}
	// The late notification dead-ends: no intent is waiting anymore.
	if led.MatchOtp("inv-1", "482913", time.Now().Add(time.Minute), time.Now()) {
		t.Error("abandoned intent still registered for otp delivery")
	}
}

func TestConcurrentIntentsStayIndependent(t *testing.T) {
	led := newTestLedger(t)

	run := func(id, tx string, balance int64) []Intent {
		mock := &mockBackend{
			intentID: id,
			payResp: models.PayResponse{
				TransactionID:  tx,
				UpdatedAccount: models.UpdatedAccount{AccountID: "acc-1", BalanceMinor: balance},
			},
		}
		mock.onRequestOTP = func(intentID string) {
			go func() {
				time.Sleep(5 * time.Millisecond)
				led.MatchOtp(intentID, "111111", time.Now().Add(time.Minute), time.Now())
			}()
		}
		orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())
		updates, err := orch.SubmitIntent(context.Background(), validRequest())
		if err != nil {
			t.Fatal(err)
		}
		return collect(t, updates)
	}

	type result struct{ intents []Intent }
	results := make(chan result, 2)
	go func() { results <- result{run("inv-a", "TA", 70000)} }()
	go func() { results <- result{run("inv-b", "TB", 55000)} }()

	for i := 0; i < 2; i++ {
		r := <-results
		final := r.intents[len(r.intents)-1]
		if final.State != StateCommitted {
			t.Errorf("intent %s = %s (%s), want committed", final.ID, final.State, final.FailureReason)
		}
		assertForwardOnly(t, states(r.intents))
	}
}

func TestOtpNeverLeaksInSnapshots(t *testing.T) {
	led := newTestLedger(t)
	mock := &mockBackend{
		intentID: "inv-1",
		payResp: models.PayResponse{
			TransactionID:  "T1",
			UpdatedAccount: models.UpdatedAccount{AccountID: "acc-1", BalanceMinor: 85000},
		},
	}
	mock.onRequestOTP = func(intentID string) {
		led.MatchOtp(intentID, "482913", time.Now().Add(time.Minute), time.Now())
	}

	orch := New(mock, readiness(true), led, DefaultConfig(), testLogger())
	updates, err := orch.SubmitIntent(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	for _, intent := range collect(t, updates) {
		if intent.otp != "" {
			t.Fatalf("snapshot in state %s carries the otp", intent.State)
		}
	}
}

func TestFailureReasonsDistinguishCategories(t *testing.T) {
	// "fix your input" / "try again later" / "restart the payment" must
	// remain distinguishable strings.
	reasons := map[string]string{
		"input":        (&ValidationError{Field: "amount", Reason: "must be a positive number"}).Error(),
		"connectivity": "service unavailable, try again later",
		"restart":      "otp not received",
	}
	seen := map[string]bool{}
	for k, msg := range reasons {
		if msg == "" {
			t.Fatalf("%s reason is empty", k)
		}
		if seen[msg] {
			t.Fatalf("reason %q used for two categories", msg)
		}
		seen[msg] = true
	}
}
