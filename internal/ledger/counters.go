package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"github.com/router-for-me/QuotaLedger/internal/window"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReasonAllowanceExhausted marks a denial caused by a spent allowance.
const ReasonAllowanceExhausted = "allowance_exhausted"

// allowanceFeaturePrefix tags usage events recorded for allowance counters.
const allowanceFeaturePrefix = "allowance:"

// MaxCounterNameLength keeps "allowance:<name>" within the usage event feature column.
const MaxCounterNameLength = usage.MaxFeatureLength - len(allowanceFeaturePrefix)

// AllowanceRequest asks to take one unit of a named allowance.
type AllowanceRequest struct {
	AccountID uint64
	Name      string
	Limit     int64
	Window    window.Window
	RequestID string
}

// Counters returns the account's counters named in windows as of now, rolling
// each one with its own window. Counters without a window in the map are left
// untouched and omitted.
func (l *Ledger) Counters(ctx context.Context, accountID uint64, windows map[string]window.Window) (map[string]int64, error) {
	if accountID == 0 {
		return nil, errs.Validation("account_id", "must be positive")
	}
	if len(windows) == 0 {
		return nil, errs.Validation("windows", "must not be empty")
	}
	for name, w := range windows {
		if w == nil {
			return nil, errs.Validation("windows", fmt.Sprintf("window for %q must be set", name))
		}
	}
	counts := make(map[string]int64)
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()
		var rows []models.UsageCounter
		if errFind := dbutil.ForUpdate(tx).
			Where("account_id = ?", accountID).
			Order("name ASC").
			Find(&rows).Error; errFind != nil {
			return fmt.Errorf("load counters: %w", errFind)
		}
		for i := range rows {
			row := &rows[i]
			w, known := windows[row.Name]
			if !known {
				continue
			}
			if errRoll := rollCounter(tx, row, w, now); errRoll != nil {
				return errRoll
			}
			counts[row.Name] = row.Count
		}
		return nil
	})
	if errTx != nil {
		return nil, errs.Persistence("ledger: counters", errTx)
	}
	return counts, nil
}

// Counter reads the named counter as of now without creating or resetting it.
func (l *Ledger) Counter(ctx context.Context, accountID uint64, name string, w window.Window) (int64, error) {
	name = strings.TrimSpace(name)
	if errValidate := validateCounter(accountID, name, w); errValidate != nil {
		return 0, errValidate
	}
	var row models.UsageCounter
	errTake := l.db.WithContext(ctx).
		Where("account_id = ? AND name = ?", accountID, name).
		Take(&row).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return 0, nil
		}
		return 0, errs.Persistence("ledger: counter", errTake)
	}
	counter := window.Counter{Used: row.Count, Start: row.WindowStart, End: row.WindowEnd, Key: row.WindowKey}
	counter.Rollover(w, l.clock.Now())
	return counter.Used, nil
}

// Increment adds one to the named counter and returns the new count.
func (l *Ledger) Increment(ctx context.Context, accountID uint64, name string, w window.Window) (int64, error) {
	name = strings.TrimSpace(name)
	if errValidate := validateCounter(accountID, name, w); errValidate != nil {
		return 0, errValidate
	}
	var count int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.clock.Now()
		if errAccount := requireAccount(tx, accountID); errAccount != nil {
			return errAccount
		}
		row, errLoad := loadCounter(tx, accountID, name, w, now)
		if errLoad != nil {
			return errLoad
		}
		if errBump := bumpCounter(tx, row.ID, now); errBump != nil {
			return errBump
		}
		count = row.Count + 1
		return nil
	})
	if errTx != nil {
		return 0, errs.Persistence("ledger: increment", errTx)
	}
	return count, nil
}

// ConsumeAllowance takes one unit of the named allowance when the window has room.
// The outcome's CreditsRemaining is the allowance left in the window.
func (l *Ledger) ConsumeAllowance(ctx context.Context, req AllowanceRequest) (usage.Outcome, error) {
	name := strings.TrimSpace(req.Name)
	if errValidate := validateCounter(req.AccountID, name, req.Window); errValidate != nil {
		return usage.Outcome{}, errValidate
	}
	if req.Limit < 0 {
		return usage.Outcome{}, errs.Validation("limit", "must not be negative")
	}

	out, errRun := usage.Run(ctx, l.db, req.RequestID, func(tx *gorm.DB) (models.UsageEvent, error) {
		now := l.clock.Now()
		if errAccount := requireAccount(tx, req.AccountID); errAccount != nil {
			return models.UsageEvent{}, errAccount
		}
		row, errLoad := loadCounter(tx, req.AccountID, name, req.Window, now)
		if errLoad != nil {
			return models.UsageEvent{}, errLoad
		}
		remaining := window.Counter{Used: row.Count}.Remaining(req.Limit)
		event := models.UsageEvent{
			AccountID: req.AccountID,
			Feature:   allowanceFeaturePrefix + name,
			Units:     1,
			CreatedAt: now,
		}
		if remaining < 1 {
			event.Reason = ReasonAllowanceExhausted
			return event, nil
		}
		if errBump := bumpCounter(tx, row.ID, now); errBump != nil {
			return models.UsageEvent{}, errBump
		}
		event.Allowed = true
		event.CreditsRemaining = remaining - 1
		return event, nil
	})
	if errRun != nil {
		return usage.Outcome{}, errRun
	}
	l.metrics.ObserveConsume("allowance", out.Allowed, out.Replayed)
	return out, nil
}

func validateCounter(accountID uint64, name string, w window.Window) error {
	switch {
	case accountID == 0:
		return errs.Validation("account_id", "must be positive")
	case name == "":
		return errs.Validation("name", "must not be empty")
	case len(name) > MaxCounterNameLength:
		return errs.Validation("name", fmt.Sprintf("must be at most %d characters", MaxCounterNameLength))
	case w == nil:
		return errs.Validation("window", "must be set")
	}
	return nil
}

// loadCounter locks the named counter, creating it for the current window when it
// does not exist yet and resetting it when its window has ended.
func loadCounter(tx *gorm.DB, accountID uint64, name string, w window.Window, now time.Time) (models.UsageCounter, error) {
	var row models.UsageCounter
	errTake := dbutil.ForUpdate(tx).
		Where("account_id = ? AND name = ?", accountID, name).
		Take(&row).Error
	if errTake == nil {
		if errRoll := rollCounter(tx, &row, w, now); errRoll != nil {
			return models.UsageCounter{}, errRoll
		}
		return row, nil
	}
	if !dbutil.IsNotFound(errTake) {
		return models.UsageCounter{}, fmt.Errorf("load counter %s: %w", name, errTake)
	}

	cycle := w.Next(now)
	row = models.UsageCounter{
		AccountID:   accountID,
		Name:        name,
		WindowKey:   cycle.Key,
		WindowStart: cycle.Start,
		WindowEnd:   cycle.End,
		UpdatedAt:   now,
	}
	if errCreate := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(&row).Error; errCreate != nil {
		return models.UsageCounter{}, fmt.Errorf("create counter %s: %w", name, errCreate)
	}
	row = models.UsageCounter{}
	if errRetake := dbutil.ForUpdate(tx).
		Where("account_id = ? AND name = ?", accountID, name).
		Take(&row).Error; errRetake != nil {
		return models.UsageCounter{}, fmt.Errorf("load counter %s: %w", name, errRetake)
	}
	if errRoll := rollCounter(tx, &row, w, now); errRoll != nil {
		return models.UsageCounter{}, errRoll
	}
	return row, nil
}

func rollCounter(tx *gorm.DB, row *models.UsageCounter, w window.Window, now time.Time) error {
	counter := window.Counter{
		Used:  row.Count,
		Start: row.WindowStart,
		End:   row.WindowEnd,
		Key:   row.WindowKey,
	}
	if !counter.Rollover(w, now) {
		return nil
	}
	if errUpdate := tx.Model(&models.UsageCounter{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"count":        0,
			"window_key":   counter.Key,
			"window_start": counter.Start,
			"window_end":   counter.End,
			"updated_at":   now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("reset counter %s: %w", row.Name, errUpdate)
	}
	row.Count = counter.Used
	row.WindowKey = counter.Key
	row.WindowStart = counter.Start
	row.WindowEnd = counter.End
	row.UpdatedAt = now
	return nil
}

func bumpCounter(tx *gorm.DB, id uint64, now time.Time) error {
	if errUpdate := tx.Model(&models.UsageCounter{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"count":      gorm.Expr("count + ?", 1),
			"updated_at": now,
		}).Error; errUpdate != nil {
		return fmt.Errorf("increment counter: %w", errUpdate)
	}
	return nil
}
