package models

import "time"

// Wallet holds the single pass expiry of an account.
type Wallet struct {
	AccountID uint64     `gorm:"primaryKey;autoIncrement:false"` // Owning account.
	PassUntil *time.Time // Pass expiry, nil when no pass.
	UpdatedAt time.Time  `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (Wallet) TableName() string { return "wallets" }

// TicketBalance counts unused tickets of one tier. Never negative.
type TicketBalance struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;uniqueIndex:idx_ticket_balances_account_tier"`                  // Owning account.
	Tier      string `gorm:"type:varchar(32);not null;uniqueIndex:idx_ticket_balances_account_tier"` // Ticket tier.
	Balance   int64  `gorm:"not null;default:0"`                                                     // Unused tickets.

	UpdatedAt time.Time `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (TicketBalance) TableName() string { return "ticket_balances" }

// CapabilityFlag records an add-on capability switched on by a purchase.
type CapabilityFlag struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;uniqueIndex:idx_capability_flags_account_flag"`                  // Owning account.
	Flag      string `gorm:"type:varchar(32);not null;uniqueIndex:idx_capability_flags_account_flag"` // Capability name.
	Enabled   bool   `gorm:"not null;default:false"`                                                  // Current state.

	UpdatedAt time.Time `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (CapabilityFlag) TableName() string { return "capability_flags" }
