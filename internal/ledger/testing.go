package ledger

// SeedBalance is a test helper that overwrites a wallet's balance when using
// the in-memory store.
func SeedBalance(s Store, walletID string, balance int64) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.Balance = balance
		mem.wallets[walletID] = w
	}
}
