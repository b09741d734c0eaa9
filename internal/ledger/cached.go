package ledger

import (
	"context"

	"github.com/router-for-me/QuotaLedger/internal/cache"
)

// CachedReader answers balance reads from the cache when it holds a live snapshot.
// Consume never goes through it.
type CachedReader struct {
	ledger *Ledger
}

// NewCachedReader wraps l's cache around its Check.
func NewCachedReader(l *Ledger) *CachedReader {
	return &CachedReader{ledger: l}
}

// Remaining returns the account's remaining credits and the end of its cycle.
func (r *CachedReader) Remaining(ctx context.Context, accountID uint64) (cache.Snapshot, error) {
	if snap, ok := r.ledger.cache.Get(ctx, cache.AccountKey(accountID)); ok {
		return snap, nil
	}
	snap, errCheck := r.ledger.Check(ctx, accountID)
	if errCheck != nil {
		return cache.Snapshot{}, errCheck
	}
	return cache.Snapshot{Remaining: snap.CreditsRemaining, PeriodEnd: snap.PeriodEnd}, nil
}
