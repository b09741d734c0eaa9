// Package cache holds short-lived copies of per-account balances for read paths.
// It is strictly read-through: nothing authoritative ever reads from it, and losing
// every entry only costs a database round trip.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is the cached view of an account's credit balance.
type Snapshot struct {
	Remaining int64     `json:"remaining"`
	PeriodEnd time.Time `json:"period_end"`
}

// Store is a key/value backend for snapshots.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (Snapshot, bool, error)
	Set(ctx context.Context, key string, snap Snapshot, ttl time.Duration, now time.Time) error
	Delete(ctx context.Context, key string) error
}

// AccountKey builds the cache key of an account balance.
func AccountKey(accountID uint64) string {
	if accountID == 0 {
		return ""
	}
	return fmt.Sprintf("acct:%d", accountID)
}
