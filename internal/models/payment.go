package models

import "time"

// PaymentStatus is the lifecycle state of a recorded charge.
type PaymentStatus string

// PaymentStatus constants define the allowed transitions paid -> refunded.
const (
	// PaymentStatusPaid marks a captured charge.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded marks a refunded charge.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment records one external charge. ExternalChargeID is unique when present.
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;index"`            // Paying account.
	SKU       string `gorm:"type:varchar(64);not null"` // Purchased product.
	Amount    int64  `gorm:"not null;default:0"`        // Charged amount in minor units.
	Currency  string `gorm:"type:varchar(8);not null"`  // Currency code (XTR for stars).

	ExternalChargeID *string `gorm:"type:varchar(191)"` // Payment platform charge id.
	ProviderChargeID *string `gorm:"type:varchar(191)"` // Upstream provider charge id.

	Status     PaymentStatus `gorm:"type:varchar(16);not null"` // Current status.
	RefundID   *string       `gorm:"type:varchar(191)"`         // Refund reference.
	RefundedAt *time.Time    // Refund timestamp.

	CreatedAt time.Time `gorm:"not null;index"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (Payment) TableName() string { return "payments" }

// Refunded reports whether the payment has been refunded.
func (p Payment) Refunded() bool { return p.Status == PaymentStatusRefunded }
