package models

import "time"

// Account is the internal identity that owns provider identities, the entitlement
// cycle and purchased balances. Accounts are never deleted.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Lang            string     `gorm:"type:varchar(8);not null;default:'ja'"` // Preferred language.
	TermsAcceptedAt *time.Time // First terms acceptance time.

	CreatedAt time.Time `gorm:"not null"` // First-seen timestamp.
	UpdatedAt time.Time `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (Account) TableName() string { return "accounts" }

// Identity binds one external (provider, provider user id) pair to an account.
type Identity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID      uint64 `gorm:"not null;index"`                                                      // Owning account.
	Provider       string `gorm:"type:varchar(32);not null;uniqueIndex:idx_identities_provider_user"`  // External provider name.
	ProviderUserID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_identities_provider_user"` // Provider-specific user id.

	CreatedAt time.Time `gorm:"not null"` // Creation timestamp.
	LastSeen  time.Time `gorm:"not null"` // Last resolution time.
}

// TableName pins the table name used by migrations.
func (Identity) TableName() string { return "identities" }
