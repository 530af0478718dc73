package ledger

import "sync"

// Store persists the balance view and the applied-commit set so a restart
// cannot double-apply a confirmation delivered again on reconnect.
type Store interface {
	LoadView(accountID string) (BalanceView, bool, error)
	RecentCommits(limit int) ([]string, error)
	SaveCommit(transactionID string, view BalanceView) error
	Close() error
}

// MemoryStore is a non-persistent Store for tests and for running without a
// state directory.
type MemoryStore struct {
	mu      sync.Mutex
	views   map[string]BalanceView
	commits []string
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: make(map[string]BalanceView)}
}

func (m *MemoryStore) LoadView(accountID string) (BalanceView, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[accountID]
	return v, ok, nil
}

func (m *MemoryStore) RecentCommits(limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if len(m.commits) > limit {
		start = len(m.commits) - limit
	}
	out := make([]string, len(m.commits)-start)
	copy(out, m.commits[start:])
	return out, nil
}

func (m *MemoryStore) SaveCommit(transactionID string, view BalanceView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, transactionID)
	m.views[view.AccountID] = view
	return nil
}

func (m *MemoryStore) Close() error { return nil }
