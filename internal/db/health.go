package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const healthPingTimeout = 2 * time.Second

// Health is the readiness of the store.
type Health struct {
	Dialect string   `json:"dialect"`
	Pending []string `json:"pending_migrations,omitempty"`
	Missing []string `json:"missing_tables,omitempty"`
}

// Ready reports whether the store can serve requests.
func (h Health) Ready() bool {
	return len(h.Pending) == 0 && len(h.Missing) == 0
}

// CheckHealth pings the database and reports pending migrations and missing tables.
func CheckHealth(ctx context.Context, conn *gorm.DB) (Health, error) {
	if conn == nil {
		return Health{}, fmt.Errorf("db: nil connection")
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return Health{}, fmt.Errorf("db: handle: %w", errDB)
	}
	ctxPing, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	if errPing := sqlDB.PingContext(ctxPing); errPing != nil {
		return Health{}, fmt.Errorf("db: ping: %w", errPing)
	}

	health := Health{Dialect: DialectName(conn)}
	pending, errPending := Pending(conn)
	if errPending != nil {
		return Health{}, errPending
	}
	health.Pending = pending
	migrator := conn.WithContext(ctx).Migrator()
	for _, table := range RequiredTables {
		if !migrator.HasTable(table) {
			health.Missing = append(health.Missing, table)
		}
	}
	return health, nil
}
