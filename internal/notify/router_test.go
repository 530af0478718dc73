package notify

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

type recordingLedger struct {
	otps    []string // intentID:code
	commits []string // transactionID
	matched bool
}

func (r *recordingLedger) MatchOtp(intentID, code string, expiresAt, receivedAt time.Time) bool {
	r.otps = append(r.otps, intentID+":"+code)
	return r.matched
}

func (r *recordingLedger) ApplyCommit(transactionID string, newBalanceMinor int64) bool {
	r.commits = append(r.commits, transactionID)
	return true
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func otpNotification(intentID, code string) Notification {
	return Notification{Kind: KindOtpIssued, IntentID: intentID, OtpCode: code, ReceivedAt: time.Now()}
}

func commitNotification(txID string, balance int64) Notification {
	return Notification{Kind: KindPaymentCommitted, TransactionID: txID, NewBalanceMinor: balance, ReceivedAt: time.Now()}
}

func TestRouterDispatchesToLedger(t *testing.T) {
	led := &recordingLedger{matched: true}
	r := NewRouter(led, nil, discardLogger())

	r.Dispatch(otpNotification("inv-1", "482913"))
	r.Dispatch(commitNotification("T1", 85000))

	if len(led.otps) != 1 || led.otps[0] != "inv-1:482913" {
		t.Errorf("otps = %v", led.otps)
	}
	if len(led.commits) != 1 || led.commits[0] != "T1" {
		t.Errorf("commits = %v", led.commits)
	}
}

func TestRouterDeduplicatesRepeatDeliveries(t *testing.T) {
	led := &recordingLedger{matched: true}
	r := NewRouter(led, nil, discardLogger())

	// Server retry / reconnect replay: identical deliveries.
	for i := 0; i < 3; i++ {
		r.Dispatch(otpNotification("inv-1", "482913"))
		r.Dispatch(commitNotification("T1", 85000))
	}

	if len(led.otps) != 1 {
		t.Errorf("otp dispatched %d times, want 1", len(led.otps))
	}
	if len(led.commits) != 1 {
		t.Errorf("commit dispatched %d times, want 1", len(led.commits))
	}
}

func TestRouterPassesReissuedOtpThrough(t *testing.T) {
	led := &recordingLedger{matched: true}
	r := NewRouter(led, nil, discardLogger())

	// A reissue carries a fresh code for the same intent; the stale code
	// must be replaceable, so this is not a duplicate.
	r.Dispatch(otpNotification("inv-1", "111111"))
	r.Dispatch(otpNotification("inv-1", "222222"))

	if len(led.otps) != 2 {
		t.Fatalf("otp dispatched %d times, want 2", len(led.otps))
	}
	if led.otps[1] != "inv-1:222222" {
		t.Errorf("second dispatch = %s, want the reissued code", led.otps[1])
	}
}

func TestRouterAlertFailureDoesNotAffectLedger(t *testing.T) {
	led := &recordingLedger{matched: true}
	r := NewRouter(led, AlertFunc(func(Notification) error {
		return errors.New("display broken")
	}), discardLogger())

	r.Dispatch(commitNotification("T1", 85000))

	if len(led.commits) != 1 {
		t.Errorf("ledger missed the commit: %v", led.commits)
	}
}

func TestRouterAlertsAllKinds(t *testing.T) {
	var kinds []Kind
	led := &recordingLedger{matched: true}
	r := NewRouter(led, AlertFunc(func(n Notification) error {
		kinds = append(kinds, n.Kind)
		return nil
	}), discardLogger())

	r.Dispatch(otpNotification("inv-1", "482913"))
	r.Dispatch(commitNotification("T1", 85000))
	r.Dispatch(Notification{Kind: KindGeneric, Title: "maintenance"})

	want := []Kind{KindOtpIssued, KindPaymentCommitted, KindGeneric}
	if len(kinds) != len(want) {
		t.Fatalf("alerted kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("alert %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestRouterHandleDropsMalformedFrames(t *testing.T) {
	led := &recordingLedger{matched: true}
	r := NewRouter(led, nil, discardLogger())

	r.Handle([]byte(`garbage`), time.Now())
	r.Handle([]byte(`{"type":"auth_ok"}`), time.Now())

	if len(led.otps)+len(led.commits) != 0 {
		t.Error("malformed frames reached the ledger")
	}
}

func TestSeenSetEviction(t *testing.T) {
	s := newSeenSet(2)
	if !s.add("a") || !s.add("b") {
		t.Fatal("fresh keys rejected")
	}
	if s.add("a") {
		t.Error("duplicate accepted")
	}
	s.add("c") // evicts "a"
	if !s.add("a") {
		t.Error("evicted key still treated as duplicate")
	}
}
