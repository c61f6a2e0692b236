package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a concurrency-safe in-memory implementation of Store. One
// mutex covers every posting, so all wallet mutations of a transaction apply
// together or not at all.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]Wallet
	txs     map[string]Transaction
	byKey   map[string]string
	order   []string
}

// NewMemoryStore builds an empty in-memory store, useful for unit tests and
// development mode.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]Wallet),
		txs:     make(map[string]Transaction),
		byKey:   make(map[string]string),
	}
}

// CreateWallet implements Store.
func (s *MemoryStore) CreateWallet(_ context.Context, wallet Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[wallet.ID]; exists {
		return fmt.Errorf("wallet %s already exists", wallet.ID)
	}
	s.wallets[wallet.ID] = wallet
	return nil
}

// GetWallet implements Store.
func (s *MemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	return w, nil
}

// Post implements Store.
func (s *MemoryStore) Post(_ context.Context, tx Transaction) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byKey[tx.IdempotencyKey]; ok {
		return s.txs[existingID], ErrDuplicateTransaction
	}

	// Validate every wallet leg before touching any balance.
	for _, p := range tx.Postings {
		if p.AccountType != AccountWallet {
			continue
		}
		w, ok := s.wallets[p.AccountID]
		if !ok {
			return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotFound, p.AccountID)
		}
		if w.Status != WalletActive {
			return Transaction{}, fmt.Errorf("%w: %s", ErrWalletNotActive, p.AccountID)
		}
		if p.Direction == Debit && w.Balance < p.Value && !w.AllowOverdraft {
			return Transaction{}, fmt.Errorf("%w: wallet %s", ErrInsufficientFunds, p.AccountID)
		}
	}

	tx.Snapshots = tx.Snapshots[:0]
	for _, p := range tx.Postings {
		if p.AccountType != AccountWallet {
			continue
		}
		w := s.wallets[p.AccountID]
		if p.Direction == Debit {
			w.Balance -= p.Value
		} else {
			w.Balance += p.Value
		}
		w.Sequence++
		s.wallets[p.AccountID] = w
		tx.Snapshots = append(tx.Snapshots, Snapshot{WalletID: w.ID, Balance: w.Balance, Sequence: w.Sequence})
	}

	tx.Status = TxPosted
	s.txs[tx.ID] = tx
	s.byKey[tx.IdempotencyKey] = tx.ID
	s.order = append(s.order, tx.ID)
	return tx, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx, nil
}

// ByIdempotencyKey implements Store.
func (s *MemoryStore) ByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: key %s", ErrTransactionNotFound, key)
	}
	return s.txs[id], nil
}

// List implements Store. Results are in posting order; after is an exclusive
// transaction-id cursor.
func (s *MemoryStore) List(_ context.Context, walletID string, limit int, after string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	skipping := after != ""
	out := make([]Transaction, 0, limit)
	for _, id := range s.order {
		if skipping {
			if id == after {
				skipping = false
			}
			continue
		}
		tx := s.txs[id]
		if walletID != "" && !touchesWallet(tx, walletID) {
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkReversed implements Store.
func (s *MemoryStore) MarkReversed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	tx.Status = TxReversed
	s.txs[id] = tx
	return nil
}

func touchesWallet(tx Transaction, walletID string) bool {
	for _, s := range tx.Snapshots {
		if s.WalletID == walletID {
			return true
		}
	}
	return false
}
