// Package ledger tracks per-account credit entitlements and named allowance
// counters. Every cycle rolls over lazily on the first touch after it ends.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/cache"
	"github.com/router-for-me/QuotaLedger/internal/clock"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"github.com/router-for-me/QuotaLedger/internal/window"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options configures a Ledger. Zero values select the defaults.
type Options struct {
	DefaultPlanCode string
	Cache           *cache.Manager
	Metrics         *metrics.Metrics
}

// Ledger owns the entitlement and allowance counter tables.
type Ledger struct {
	db          *gorm.DB
	clock       clock.Clock
	defaultPlan string
	cache       *cache.Manager
	metrics     *metrics.Metrics
}

// Snapshot is the state of an account's current entitlement cycle.
type Snapshot struct {
	Entitlement      models.Entitlement
	Plan             models.Plan
	CreditsRemaining int64
	PeriodEnd        time.Time
}

// ConsumeRequest asks to spend Units credits on Feature, at most once per RequestID.
type ConsumeRequest struct {
	AccountID uint64
	Feature   string
	Units     int64
	RequestID string
}

// New constructs a Ledger.
func New(conn *gorm.DB, clk clock.Clock, opts Options) *Ledger {
	planCode := strings.TrimSpace(opts.DefaultPlanCode)
	if planCode == "" {
		planCode = models.DefaultPlanCode
	}
	return &Ledger{
		db:          conn,
		clock:       clock.OrReal(clk),
		defaultPlan: planCode,
		cache:       opts.Cache,
		metrics:     opts.Metrics,
	}
}

// Check returns the account's current cycle, creating it against the default plan
// or rolling it over when needed.
func (l *Ledger) Check(ctx context.Context, accountID uint64) (Snapshot, error) {
	if accountID == 0 {
		return Snapshot{}, errs.Validation("account_id", "must be positive")
	}
	key := cache.AccountKey(accountID)
	stamp := l.cache.Begin(key)
	var snap Snapshot
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ent, plan, errLoad := l.loadEntitlement(tx, accountID, l.clock.Now())
		if errLoad != nil {
			return errLoad
		}
		snap = snapshotOf(ent, plan)
		return nil
	})
	if errTx != nil {
		return Snapshot{}, errs.Persistence("ledger: check", errTx)
	}
	// Skipped when a consume invalidated key after the read began.
	l.cache.SetIfCurrent(ctx, key, stamp, cache.Snapshot{
		Remaining: snap.CreditsRemaining,
		PeriodEnd: snap.PeriodEnd,
	})
	return snap, nil
}

// Consume spends credits. A denial records the attempt without touching the balance;
// a repeated request id returns the first outcome unchanged.
func (l *Ledger) Consume(ctx context.Context, req ConsumeRequest) (usage.Outcome, error) {
	feature := strings.TrimSpace(req.Feature)
	switch {
	case req.AccountID == 0:
		return usage.Outcome{}, errs.Validation("account_id", "must be positive")
	case feature == "":
		return usage.Outcome{}, errs.Validation("feature", "must not be empty")
	case len(feature) > usage.MaxFeatureLength:
		return usage.Outcome{}, errs.Validation("feature", fmt.Sprintf("must be at most %d characters", usage.MaxFeatureLength))
	case req.Units < 1:
		return usage.Outcome{}, errs.Validation("units", "must be at least 1")
	}

	out, errRun := usage.Run(ctx, l.db, req.RequestID, func(tx *gorm.DB) (models.UsageEvent, error) {
		now := l.clock.Now()
		ent, plan, errLoad := l.loadEntitlement(tx, req.AccountID, now)
		if errLoad != nil {
			return models.UsageEvent{}, errLoad
		}
		remaining := remainingOf(ent, plan)
		event := models.UsageEvent{
			AccountID: req.AccountID,
			Feature:   feature,
			Units:     req.Units,
			CreatedAt: now,
		}
		if remaining < req.Units {
			event.CreditsRemaining = remaining
			event.Reason = usage.ReasonInsufficientCredits
			return event, nil
		}
		if errUpdate := tx.Model(&models.Entitlement{}).
			Where("id = ?", ent.ID).
			Updates(map[string]any{
				"credits_used": gorm.Expr("credits_used + ?", req.Units),
				"updated_at":   now,
			}).Error; errUpdate != nil {
			return models.UsageEvent{}, fmt.Errorf("spend credits: %w", errUpdate)
		}
		event.Allowed = true
		event.CreditsRemaining = remaining - req.Units
		return event, nil
	})
	if errRun != nil {
		return usage.Outcome{}, errRun
	}

	l.metrics.ObserveConsume("credits", out.Allowed, out.Replayed)
	if !out.Replayed {
		l.cache.Invalidate(ctx, cache.AccountKey(req.AccountID))
		log.WithFields(log.Fields{
			"account_id": req.AccountID,
			"feature":    feature,
			"units":      req.Units,
			"allowed":    out.Allowed,
			"remaining":  out.CreditsRemaining,
		}).Debug("ledger: consume")
	}
	return out, nil
}

// loadEntitlement locks and returns the account's entitlement, creating or rolling
// it over as of now. It must run inside a transaction.
func (l *Ledger) loadEntitlement(tx *gorm.DB, accountID uint64, now time.Time) (models.Entitlement, models.Plan, error) {
	ent, found, errTake := takeEntitlement(tx, accountID)
	if errTake != nil {
		return models.Entitlement{}, models.Plan{}, errTake
	}
	if !found {
		if errCreate := l.createEntitlement(tx, accountID, now); errCreate != nil {
			return models.Entitlement{}, models.Plan{}, errCreate
		}
		ent, found, errTake = takeEntitlement(tx, accountID)
		if errTake != nil {
			return models.Entitlement{}, models.Plan{}, errTake
		}
		if !found {
			return models.Entitlement{}, models.Plan{}, errors.New("entitlement missing after create")
		}
	}

	var plan models.Plan
	if errPlan := tx.Where("id = ?", ent.PlanID).Take(&plan).Error; errPlan != nil {
		if dbutil.IsNotFound(errPlan) {
			return models.Entitlement{}, models.Plan{}, errs.Configuration("plans", fmt.Sprintf("plan %d bound to account %d is missing", ent.PlanID, accountID))
		}
		return models.Entitlement{}, models.Plan{}, fmt.Errorf("load plan: %w", errPlan)
	}
	if plan.PeriodDays < 1 {
		return models.Entitlement{}, models.Plan{}, errs.Configuration("plans", fmt.Sprintf("plan %q has no period", plan.Code))
	}

	counter := window.Counter{Used: ent.CreditsUsed, Start: ent.ActiveFrom, End: ent.PeriodEnd}
	if counter.Rollover(window.Days(plan.PeriodDays), now) {
		if errUpdate := tx.Model(&models.Entitlement{}).
			Where("id = ?", ent.ID).
			Updates(map[string]any{
				"credits_used": 0,
				"active_from":  counter.Start,
				"period_end":   counter.End,
				"updated_at":   now,
			}).Error; errUpdate != nil {
			return models.Entitlement{}, models.Plan{}, fmt.Errorf("roll over entitlement: %w", errUpdate)
		}
		ent.CreditsUsed = counter.Used
		ent.ActiveFrom = counter.Start
		ent.PeriodEnd = counter.End
		ent.UpdatedAt = now
	}
	return ent, plan, nil
}

func (l *Ledger) createEntitlement(tx *gorm.DB, accountID uint64, now time.Time) error {
	if errAccount := requireAccount(tx, accountID); errAccount != nil {
		return errAccount
	}

	var plan models.Plan
	if errPlan := tx.Where("code = ?", l.defaultPlan).Take(&plan).Error; errPlan != nil {
		if dbutil.IsNotFound(errPlan) {
			return errs.Configuration("default_plan", fmt.Sprintf("plan %q is not in the catalog", l.defaultPlan))
		}
		return fmt.Errorf("load default plan: %w", errPlan)
	}
	if plan.PeriodDays < 1 {
		return errs.Configuration("default_plan", fmt.Sprintf("plan %q has no period", plan.Code))
	}

	cycle := window.Days(plan.PeriodDays).Next(now)
	ent := models.Entitlement{
		AccountID:  accountID,
		PlanID:     plan.ID,
		ActiveFrom: cycle.Start,
		PeriodEnd:  cycle.End,
		UpdatedAt:  now,
	}
	if errCreate := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(&ent).Error; errCreate != nil {
		return fmt.Errorf("create entitlement: %w", errCreate)
	}
	return nil
}

// requireAccount rejects ids that were never resolved to an account.
func requireAccount(tx *gorm.DB, accountID uint64) error {
	var account models.Account
	if errAccount := tx.Select("id").Where("id = ?", accountID).Take(&account).Error; errAccount != nil {
		if dbutil.IsNotFound(errAccount) {
			return errs.Validation("account_id", fmt.Sprintf("account %d does not exist", accountID))
		}
		return fmt.Errorf("load account: %w", errAccount)
	}
	return nil
}

func takeEntitlement(tx *gorm.DB, accountID uint64) (models.Entitlement, bool, error) {
	var ent models.Entitlement
	errTake := dbutil.ForUpdate(tx).Where("account_id = ?", accountID).Take(&ent).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Entitlement{}, false, nil
		}
		return models.Entitlement{}, false, fmt.Errorf("load entitlement: %w", errTake)
	}
	return ent, true, nil
}

func remainingOf(ent models.Entitlement, plan models.Plan) int64 {
	return window.Counter{Used: ent.CreditsUsed}.Remaining(plan.CreditQuota)
}

func snapshotOf(ent models.Entitlement, plan models.Plan) Snapshot {
	return Snapshot{
		Entitlement:      ent,
		Plan:             plan,
		CreditsRemaining: remainingOf(ent, plan),
		PeriodEnd:        ent.PeriodEnd,
	}
}
