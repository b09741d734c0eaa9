// Package payments records external charges exactly once and tracks refunds.
package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/QuotaLedger/internal/clock"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	"github.com/router-for-me/QuotaLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCurrency is recorded when the caller does not name one.
const DefaultCurrency = "XTR"

// PaymentInput describes a captured charge.
type PaymentInput struct {
	AccountID        uint64
	SKU              string
	Amount           int64
	Currency         string
	ExternalChargeID string
	ProviderChargeID string
}

// Store persists payment records.
type Store struct {
	db      *gorm.DB
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New constructs a Store.
func New(conn *gorm.DB, clk clock.Clock, m *metrics.Metrics) *Store {
	return &Store{db: conn, clock: clock.OrReal(clk), metrics: m}
}

// LogPayment records a paid charge. A charge id seen before returns the stored
// record with created=false and changes nothing.
func (s *Store) LogPayment(ctx context.Context, in PaymentInput) (models.Payment, bool, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.ExternalChargeID = strings.TrimSpace(in.ExternalChargeID)
	in.ProviderChargeID = strings.TrimSpace(in.ProviderChargeID)
	switch {
	case in.AccountID == 0:
		return models.Payment{}, false, errs.Validation("account_id", "must be positive")
	case in.SKU == "":
		return models.Payment{}, false, errs.Validation("sku", "must not be empty")
	case in.Amount < 0:
		return models.Payment{}, false, errs.Validation("amount", "must not be negative")
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	record := models.Payment{
		AccountID:        in.AccountID,
		SKU:              in.SKU,
		Amount:           in.Amount,
		Currency:         in.Currency,
		ExternalChargeID: optional(in.ExternalChargeID),
		ProviderChargeID: optional(in.ProviderChargeID),
		Status:           models.PaymentStatusPaid,
		CreatedAt:        s.clock.Now(),
	}

	created := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if errAccount := tx.Select("id").Where("id = ?", in.AccountID).Take(&account).Error; errAccount != nil {
			if dbutil.IsNotFound(errAccount) {
				return errs.Validation("account_id", fmt.Sprintf("account %d does not exist", in.AccountID))
			}
			return fmt.Errorf("load account: %w", errAccount)
		}

		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_charge_id"}},
			TargetWhere: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "external_charge_id IS NOT NULL"},
			}},
			DoNothing: true,
		}).Create(&record)
		if res.Error != nil {
			if !dbutil.IsDuplicateKey(res.Error) {
				return fmt.Errorf("insert payment: %w", res.Error)
			}
		} else if res.RowsAffected == 1 {
			created = true
			return nil
		}

		existing, found, errFind := byChargeID(tx, in.ExternalChargeID)
		if errFind != nil {
			return errFind
		}
		if !found {
			return fmt.Errorf("payment %q conflicted but is missing", in.ExternalChargeID)
		}
		record = existing
		return nil
	})
	if errTx != nil {
		return models.Payment{}, false, errs.Persistence("payments: log", errTx)
	}

	if created {
		s.metrics.ObservePayment("created")
		log.WithFields(log.Fields{
			"account_id": record.AccountID,
			"sku":        record.SKU,
			"amount":     record.Amount,
			"charge_id":  in.ExternalChargeID,
		}).Info("payments: charge recorded")
	} else {
		s.metrics.ObservePayment("duplicate")
		log.WithField("charge_id", in.ExternalChargeID).Info("payments: duplicate charge ignored")
	}
	return record, created, nil
}

// Refund marks the charge refunded and reports whether this call changed it.
// Refunding twice returns the record unchanged with changed=false.
func (s *Store) Refund(ctx context.Context, externalChargeID, refundID string) (models.Payment, bool, error) {
	externalChargeID = strings.TrimSpace(externalChargeID)
	if externalChargeID == "" {
		return models.Payment{}, false, errs.Validation("charge_id", "must not be empty")
	}
	refundID = strings.TrimSpace(refundID)

	var record models.Payment
	changed := false
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var errFind error
		var found bool
		record, found, errFind = byChargeID(dbutil.ForUpdate(tx), externalChargeID)
		if errFind != nil {
			return errFind
		}
		if !found {
			return errs.Validation("charge_id", fmt.Sprintf("unknown charge %q", externalChargeID))
		}
		if record.Refunded() {
			return nil
		}

		now := s.clock.Now()
		updates := map[string]any{
			"status":      models.PaymentStatusRefunded,
			"refunded_at": now,
		}
		if refundID != "" {
			updates["refund_id"] = refundID
			record.RefundID = &refundID
		}
		if errUpdate := tx.Model(&models.Payment{}).Where("id = ?", record.ID).Updates(updates).Error; errUpdate != nil {
			return fmt.Errorf("mark refunded: %w", errUpdate)
		}
		record.Status = models.PaymentStatusRefunded
		record.RefundedAt = &now
		changed = true
		return nil
	})
	if errTx != nil {
		return models.Payment{}, false, errs.Persistence("payments: refund", errTx)
	}
	if changed {
		s.metrics.ObservePayment("refunded")
		log.WithFields(log.Fields{
			"account_id": record.AccountID,
			"charge_id":  externalChargeID,
			"refund_id":  refundID,
		}).Info("payments: charge refunded")
	}
	return record, changed, nil
}

// ByChargeID returns the record of an external charge id.
func (s *Store) ByChargeID(ctx context.Context, externalChargeID string) (models.Payment, bool, error) {
	record, found, errFind := byChargeID(s.db.WithContext(ctx), strings.TrimSpace(externalChargeID))
	if errFind != nil {
		return models.Payment{}, false, errs.Persistence("payments: by charge id", errFind)
	}
	return record, found, nil
}

// LatestForAccount returns the account's most recent payment.
func (s *Store) LatestForAccount(ctx context.Context, accountID uint64) (models.Payment, bool, error) {
	var record models.Payment
	errTake := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&record).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Payment{}, false, nil
		}
		return models.Payment{}, false, errs.Persistence("payments: latest", errTake)
	}
	return record, true, nil
}

func byChargeID(tx *gorm.DB, externalChargeID string) (models.Payment, bool, error) {
	if externalChargeID == "" {
		return models.Payment{}, false, nil
	}
	var record models.Payment
	errTake := tx.Where("external_charge_id = ?", externalChargeID).Take(&record).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Payment{}, false, nil
		}
		return models.Payment{}, false, fmt.Errorf("load payment: %w", errTake)
	}
	return record, true, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
