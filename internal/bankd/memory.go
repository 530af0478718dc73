package bankd

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store used by tests and local demos.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	invoices map[string]Invoice
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
		invoices: make(map[string]Invoice),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, balanceMinor int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := Account{ID: uuid.NewString(), BalanceMinor: balanceMinor}
	m.accounts[acc.ID] = acc
	return acc, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[inv.AccountID]; !ok {
		return ErrAccountNotFound
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *MemoryStore) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (m *MemoryStore) SetOTP(ctx context.Context, invoiceID, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status == "committed" {
		return ErrAlreadyCommitted
	}
	inv.OTP = code
	inv.OTPExpiresAt = expiresAt
	m.invoices[invoiceID] = inv
	return nil
}

func (m *MemoryStore) CommitInvoice(ctx context.Context, invoiceID, otp, transactionID string, now time.Time) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return Account{}, ErrInvoiceNotFound
	}
	if inv.Status == "committed" {
		return Account{}, ErrAlreadyCommitted
	}
	if inv.OTP == "" || otp != inv.OTP || now.After(inv.OTPExpiresAt) {
		return Account{}, ErrInvalidOTP
	}
	acc, ok := m.accounts[inv.AccountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if acc.BalanceMinor < inv.AmountMinor {
		return Account{}, ErrInsufficientFunds
	}

	acc.BalanceMinor -= inv.AmountMinor
	m.accounts[acc.ID] = acc

	inv.Status = "committed"
	inv.TransactionID = transactionID
	inv.OTP = ""
	m.invoices[invoiceID] = inv
	return acc, nil
}

func (m *MemoryStore) Close() {}
