package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageEvent is the write-once outcome of one metered attempt, keyed by the
// caller's idempotency token.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID string `gorm:"type:varchar(191);not null;uniqueIndex"` // Idempotency token.
	AccountID uint64 `gorm:"not null;index"`                         // Consuming account.
	Feature   string `gorm:"type:varchar(64);not null"`              // Metered feature.
	Units     int64  `gorm:"not null"`                               // Units requested.

	Allowed          bool   `gorm:"not null"`                  // Whether the attempt was allowed.
	CreditsRemaining int64  `gorm:"not null"`                  // Remaining balance after the attempt.
	Reason           string `gorm:"type:varchar(64);not null"` // Denial reason, empty when allowed.

	Metadata datatypes.JSON `gorm:"type:json"` // Outcome payload for downstream readers.

	CreatedAt time.Time `gorm:"not null;index"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (UsageEvent) TableName() string { return "usage_events" }

// UsageCounter is a named per-account allowance counter with its own window marker.
type UsageCounter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;uniqueIndex:idx_usage_counters_account_name"`                  // Owning account.
	Name      string `gorm:"type:varchar(64);not null;uniqueIndex:idx_usage_counters_account_name"` // Counter name.

	Count       int64     `gorm:"not null;default:0"`        // Count within the current window.
	WindowKey   string    `gorm:"type:varchar(16);not null"` // Calendar marker of the window.
	WindowStart time.Time `gorm:"not null"`                  // Window start.
	WindowEnd   time.Time `gorm:"not null"`                  // Window end (exclusive).

	UpdatedAt time.Time `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (UsageCounter) TableName() string { return "usage_counters" }
