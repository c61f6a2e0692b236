package idempotency

import (
	"context"
	"time"
)

// Store maps a client-supplied idempotency key to the transaction it created.
// Records are retained for a bounded window; concurrent writers for the same
// key must race to a single winner.
type Store interface {
	// Lookup returns the transaction id recorded for key, if any.
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Remember records key -> txID for ttl. It returns false when another
	// writer already owns the key, in which case the stored mapping wins.
	Remember(ctx context.Context, key, txID string, ttl time.Duration) (bool, error)
}
