package ledger

import "context"

// Store persists wallets and transactions. Post applies all of a transaction's
// wallet mutations, the transaction record and its snapshots as one atomic
// unit: either every posting lands or none do.
type Store interface {
	CreateWallet(ctx context.Context, wallet Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)

	// Post applies the transaction's postings to wallet balances, fills in
	// snapshots, and persists the record with status posted. If a transaction
	// already exists for the idempotency key, the stored transaction is
	// returned together with ErrDuplicateTransaction.
	Post(ctx context.Context, tx Transaction) (Transaction, error)

	Get(ctx context.Context, id string) (Transaction, error)
	ByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	List(ctx context.Context, walletID string, limit int, after string) ([]Transaction, error)

	// MarkReversed transitions a posted transaction's status to reversed.
	MarkReversed(ctx context.Context, id string) error
}
