// Package notify demultiplexes raw event-stream frames into typed
// notifications and fans them out to the reconciliation ledger and the local
// alert surface. Parsing and rejection happen here, at the boundary: nothing
// past the router ever sees an unvalidated payload.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/selhaddad/paystream/internal/models"
)

// Kind tags the notification variant.
type Kind string

const (
	KindOtpIssued        Kind = "otp_issued"
	KindPaymentCommitted Kind = "payment_committed"
	KindGeneric          Kind = "generic"
)

var errNotNotification = errors.New("frame is not a notification")

// Notification is the validated, typed form of an inbound event. Fields are
// populated according to Kind; Generic carries only title/message.
type Notification struct {
	Kind    Kind
	Title   string
	Message string

	// OtpIssued fields.
	IntentID  string
	OtpCode   string
	ExpiresAt time.Time

	// PaymentCommitted fields.
	TransactionID   string
	AmountMinor     int64
	CounterpartyRef string
	NewBalanceMinor int64

	ReceivedAt time.Time
}

// CorrelationID returns the dedupe key component for this notification, or
// "" when the kind carries none. For OtpIssued the code is part of the key:
// a replayed delivery of the same code is a duplicate, but a fresh code for
// the same intent is a reissue and must pass through so the stale code can
// be replaced.
func (n Notification) CorrelationID() string {
	switch n.Kind {
	case KindOtpIssued:
		return n.IntentID + ":" + n.OtpCode
	case KindPaymentCommitted:
		return n.TransactionID
	default:
		return ""
	}
}

// Route parses a raw stream frame into a typed Notification. Unknown or
// malformed data payloads degrade to Generic rather than erroring; only
// frames that are not notifications at all are rejected.
func Route(payload []byte, receivedAt time.Time) (Notification, error) {
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Notification{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type != models.FrameNotification {
		return Notification{}, fmt.Errorf("%w: type %q", errNotNotification, env.Type)
	}

	n := Notification{
		Kind:       KindGeneric,
		Title:      env.Title,
		Message:    env.Message,
		ReceivedAt: receivedAt,
	}
	if len(env.Data) == 0 {
		return n, nil
	}

	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return n, nil
	}

	switch probe.Kind {
	case models.DataKindOtpIssued:
		var d models.OtpIssuedData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.IntentID == "" || d.OtpCode == "" {
			return n, nil
		}
		n.Kind = KindOtpIssued
		n.IntentID = d.IntentID
		n.OtpCode = d.OtpCode
		n.ExpiresAt = d.ExpiresAt
	case models.DataKindPaymentCommitted:
		var d models.PaymentCommittedData
		if err := json.Unmarshal(env.Data, &d); err != nil || d.TransactionID == "" {
			return n, nil
		}
		n.Kind = KindPaymentCommitted
		n.TransactionID = d.TransactionID
		n.AmountMinor = d.AmountMinor
		n.CounterpartyRef = d.CounterpartyRef
		n.NewBalanceMinor = d.NewBalanceMinor
	}
	return n, nil
}
