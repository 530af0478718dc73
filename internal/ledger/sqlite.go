package ledger

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists ledger state in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// migrations returns the schema statements. Each string is a single SQL
// statement (SQLite executes one at a time).
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS balance_view (
			account_id    TEXT PRIMARY KEY,
			balance_minor INTEGER NOT NULL DEFAULT 0,
			last_tx_id    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS applied_commits (
			tx_id         TEXT PRIMARY KEY,
			balance_minor INTEGER NOT NULL,
			applied_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_applied_at ON applied_commits(applied_at)`,
	}
}

// OpenSQLite opens (creating if needed) the ledger database in dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	path := filepath.Join(dir, "ledger.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}
	// A single writer; serialize access at the pool level.
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating ledger db: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadView(accountID string) (BalanceView, bool, error) {
	var v BalanceView
	err := s.db.QueryRow(
		"SELECT account_id, balance_minor, last_tx_id FROM balance_view WHERE account_id = ?",
		accountID,
	).Scan(&v.AccountID, &v.BalanceMinor, &v.LastAppliedTransactionID)
	if err == sql.ErrNoRows {
		return BalanceView{}, false, nil
	}
	if err != nil {
		return BalanceView{}, false, err
	}
	return v, true, nil
}

func (s *SQLiteStore) RecentCommits(limit int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT tx_id FROM applied_commits ORDER BY applied_at DESC, tx_id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tx string
		if err := rows.Scan(&tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCommit(transactionID string, view BalanceView) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO applied_commits (tx_id, balance_minor) VALUES (?, ?)",
		transactionID, view.BalanceMinor,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO balance_view (account_id, balance_minor, last_tx_id) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET balance_minor = excluded.balance_minor, last_tx_id = excluded.last_tx_id`,
		view.AccountID, view.BalanceMinor, view.LastAppliedTransactionID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
