package bankd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the simulator with Postgres for deployments that need
// durable accounts and invoices.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore opens a pool against connString and verifies
// connectivity.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) CreateAccount(ctx context.Context, balanceMinor int64) (Account, error) {
	acc := Account{ID: uuid.NewString(), BalanceMinor: balanceMinor}
	_, err := s.db.Exec(ctx,
		"INSERT INTO accounts (id, balance_minor) VALUES ($1, $2)",
		acc.ID, acc.BalanceMinor)
	if err != nil {
		return Account{}, fmt.Errorf("account insert failed: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	var acc Account
	err := s.db.QueryRow(ctx,
		"SELECT id, balance_minor FROM accounts WHERE id = $1", id,
	).Scan(&acc.ID, &acc.BalanceMinor)
	if err == pgx.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv Invoice) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO invoices (id, account_id, identity, amount_minor, currency, counterparty_ref, bill_reference, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)`,
		inv.ID, inv.AccountID, inv.Identity, inv.AmountMinor, inv.Currency,
		inv.CounterpartyRef, inv.BillReference, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("invoice insert failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := s.db.QueryRow(ctx,
		`SELECT id, account_id, identity, amount_minor, currency, counterparty_ref, bill_reference,
		        COALESCE(otp, ''), COALESCE(otp_expires_at, 'epoch'::timestamptz), status, COALESCE(transaction_id, '')
		 FROM invoices WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.AccountID, &inv.Identity, &inv.AmountMinor, &inv.Currency,
		&inv.CounterpartyRef, &inv.BillReference, &inv.OTP, &inv.OTPExpiresAt,
		&inv.Status, &inv.TransactionID)
	if err == pgx.ErrNoRows {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (s *PostgresStore) SetOTP(ctx context.Context, invoiceID, code string, expiresAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE invoices SET otp = $1, otp_expires_at = $2 WHERE id = $3 AND status = 'pending'",
		code, expiresAt, invoiceID)
	if err != nil {
		return fmt.Errorf("otp update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// CommitInvoice executes the debit within a transaction with row locks held
// in invoice-then-account order.
func (s *PostgresStore) CommitInvoice(ctx context.Context, invoiceID, otp, transactionID string, now time.Time) (Account, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Account{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var inv Invoice
	err = tx.QueryRow(ctx,
		`SELECT account_id, amount_minor, COALESCE(otp, ''), COALESCE(otp_expires_at, 'epoch'::timestamptz), status
		 FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID,
	).Scan(&inv.AccountID, &inv.AmountMinor, &inv.OTP, &inv.OTPExpiresAt, &inv.Status)
	if err == pgx.ErrNoRows {
		return Account{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("invoice lock failed: %w", err)
	}

	if inv.Status == "committed" {
		return Account{}, ErrAlreadyCommitted
	}
	if inv.OTP == "" || otp != inv.OTP || now.After(inv.OTPExpiresAt) {
		return Account{}, ErrInvalidOTP
	}

	var balance int64
	err = tx.QueryRow(ctx,
		"SELECT balance_minor FROM accounts WHERE id = $1 FOR UPDATE", inv.AccountID,
	).Scan(&balance)
	if err == pgx.ErrNoRows {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("account lock failed: %w", err)
	}

	if balance < inv.AmountMinor {
		return Account{}, ErrInsufficientFunds
	}

	newBalance := balance - inv.AmountMinor
	if _, err := tx.Exec(ctx,
		"UPDATE accounts SET balance_minor = $1 WHERE id = $2", newBalance, inv.AccountID); err != nil {
		return Account{}, err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = 'committed', transaction_id = $1, otp = NULL WHERE id = $2",
		transactionID, invoiceID); err != nil {
		return Account{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("tx commit failed: %w", err)
	}

	return Account{ID: inv.AccountID, BalanceMinor: newBalance}, nil
}
