package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEvent is one step of the purchase funnel.
type PaymentEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64         `gorm:"not null;index"`            // Subject account.
	EventType string         `gorm:"type:varchar(64);not null"` // Funnel step.
	SKU       string         `gorm:"type:varchar(64)"`          // Related product.
	Payload   datatypes.JSON `gorm:"type:json"`                 // Free-form details.

	CreatedAt time.Time `gorm:"not null"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (PaymentEvent) TableName() string { return "payment_events" }

// Audit records a privileged action and its outcome.
type Audit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Action          string         `gorm:"type:varchar(64);not null;index:idx_audits_action_created"` // Action name.
	ActorAccountID  uint64         `gorm:"not null"`                                                  // Acting account.
	TargetAccountID *uint64        // Affected account.
	Payload         datatypes.JSON `gorm:"type:json"`                 // Free-form details.
	Outcome         string         `gorm:"type:varchar(32);not null"` // success, failure, ...

	CreatedAt time.Time `gorm:"not null;index:idx_audits_action_created"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (Audit) TableName() string { return "audits" }

// AppEvent is a generic application occurrence used for analytics.
type AppEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventType string         `gorm:"type:varchar(64);not null"` // Occurrence type.
	AccountID *uint64        // Subject account, if any.
	RequestID string         `gorm:"type:varchar(191)"` // Correlating request id.
	Payload   datatypes.JSON `gorm:"type:json"`         // Free-form details.

	CreatedAt time.Time `gorm:"not null;index"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (AppEvent) TableName() string { return "app_events" }

// Feedback is free text left by an account about a reading.
type Feedback struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AccountID uint64 `gorm:"not null;index"`            // Author account.
	Mode      string `gorm:"type:varchar(32);not null"` // Feature the feedback is about.
	Text      string `gorm:"type:text;not null"`        // Feedback body.
	RequestID string `gorm:"type:varchar(191)"`         // Correlating request id.

	CreatedAt time.Time `gorm:"not null"` // Creation timestamp.
}

// TableName pins the table name used by migrations.
func (Feedback) TableName() string { return "feedback" }

// SchemaMigration marks one applied migration script.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"` // Script order.
	Name      string    `gorm:"type:varchar(128);not null"`     // Script name.
	AppliedAt time.Time `gorm:"not null"`                       // Apply time.
}

// TableName pins the table name used by migrations.
func (SchemaMigration) TableName() string { return "schema_migrations" }
