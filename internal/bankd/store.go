// Package bankd is the backend simulator: the HTTP API and websocket push
// channel that realize the bank contract the client pipeline is written
// against. It exists so the pipeline can be exercised end to end without
// the production backend.
package bankd

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOTP        = errors.New("invalid or expired otp")
	ErrAlreadyCommitted  = errors.New("invoice already committed")
)

// Invoice is a server-side money-movement draft awaiting OTP confirmation.
type Invoice struct {
	ID              string
	AccountID       string
	Identity        string
	AmountMinor     int64
	Currency        string
	CounterpartyRef string
	BillReference   string
	OTP             string
	OTPExpiresAt    time.Time
	Status          string // pending | committed
	TransactionID   string
	CreatedAt       time.Time
}

// Account is a bank account row.
type Account struct {
	ID           string
	BalanceMinor int64
}

// Store is the persistence contract for the simulator. The memory
// implementation backs tests and demos; the Postgres one backs deployment.
type Store interface {
	CreateAccount(ctx context.Context, balanceMinor int64) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	// SetOTP records a newly issued code, invalidating any previous one.
	SetOTP(ctx context.Context, invoiceID, code string, expiresAt time.Time) error
	// CommitInvoice verifies the code, debits the account and marks the
	// invoice committed with transactionID, all atomically. Committing an
	// already-committed invoice returns ErrAlreadyCommitted.
	CommitInvoice(ctx context.Context, invoiceID, otp, transactionID string, now time.Time) (Account, error)
	Close()
}
