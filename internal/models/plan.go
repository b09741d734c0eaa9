package models

import "time"

// DefaultPlanCode is the plan every account starts on.
const DefaultPlanCode = "free"

// Plan is a static quota policy: credits granted per renewal period.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code        string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable plan code.
	CreditQuota int64  `gorm:"not null;default:0"`                    // Credits per period.
	PeriodDays  int    `gorm:"not null;default:30"`                   // Period length in days.

	CreatedAt time.Time `gorm:"not null"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (Plan) TableName() string { return "plans" }

// Entitlement is an account's live credit-consumption cycle. It is reset in place on
// rollover; credits_used is bounded by the plan quota at consumption time.
type Entitlement struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;uniqueIndex"` // Owning account, one live row each.
	PlanID    uint64 `gorm:"not null;index"`       // Bound plan.

	CreditsUsed int64     `gorm:"not null;default:0"` // Credits consumed this cycle.
	ActiveFrom  time.Time `gorm:"not null"`           // Cycle start.
	PeriodEnd   time.Time `gorm:"not null"`           // Cycle end (exclusive).

	UpdatedAt time.Time `gorm:"not null"` // Last update timestamp.
}

// TableName pins the table name used by migrations.
func (Entitlement) TableName() string { return "entitlements" }
