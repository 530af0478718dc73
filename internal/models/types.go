package models

import (
	"encoding/json"
	"time"
)

// Wire DTOs shared between the client pipeline and the bankd simulator.

// CreateInvoiceRequest is the payload for POST /api/v1/invoices.
// AccountID and Identity tell the simulator which account to debit and
// which event stream receives the resulting notifications; a production
// backend would derive both from the authenticated channel.
type CreateInvoiceRequest struct {
	AccountID       string `json:"account_id"`
	Identity        string `json:"identity"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	CounterpartyRef string `json:"counterparty_ref"`
	BillReference   string `json:"bill_reference,omitempty"`
}

// CreateInvoiceResponse carries the server-assigned correlation key.
type CreateInvoiceResponse struct {
	IntentID string `json:"intent_id"`
}

// PayRequest is the payload for POST /api/v1/invoices/{id}/pay.
type PayRequest struct {
	OTP string `json:"otp"`
}

// UpdatedAccount is the authoritative post-commit account view.
type UpdatedAccount struct {
	AccountID    string `json:"account_id"`
	BalanceMinor int64  `json:"balance_minor"`
}

// PayResponse is the synchronous commit confirmation.
type PayResponse struct {
	TransactionID  string         `json:"transaction_id"`
	UpdatedAccount UpdatedAccount `json:"updated_account"`
}

// Account represents a bank account with a minor-unit balance.
type Account struct {
	ID           string `json:"id"`
	BalanceMinor int64  `json:"balance_minor"`
}

// Frame types used on the websocket event stream.
const (
	FrameAuth         = "auth"
	FrameAuthOK       = "auth_ok"
	FrameAuthError    = "auth_error"
	FrameNotification = "notification"
)

// Envelope is the framing for every message on the event stream.
type Envelope struct {
	Type    string          `json:"type"`
	Title   string          `json:"title,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AuthFrame is the first client frame on a new stream connection.
type AuthFrame struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// Notification data kinds carried in Envelope.Data.
const (
	DataKindOtpIssued        = "otp_issued"
	DataKindPaymentCommitted = "payment_committed"
)

// OtpIssuedData is the payload of an otp_issued notification.
type OtpIssuedData struct {
	Kind      string    `json:"kind"`
	IntentID  string    `json:"intent_id"`
	OtpCode   string    `json:"otp_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PaymentCommittedData is the payload of a payment_committed notification.
type PaymentCommittedData struct {
	Kind            string `json:"kind"`
	TransactionID   string `json:"transaction_id"`
	AmountMinor     int64  `json:"amount_minor"`
	CounterpartyRef string `json:"counterparty_ref"`
	NewBalanceMinor int64  `json:"new_balance_minor"`
}
