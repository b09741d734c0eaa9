package grants

import (
	"context"
	"fmt"
	"strings"

	"github.com/router-for-me/QuotaLedger/internal/catalog"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/router-for-me/QuotaLedger/internal/usage"
	"gorm.io/gorm"
)

// ReasonNoTickets marks a denied ticket spend.
const ReasonNoTickets = "no_tickets"

// ConsumeTicket spends one ticket of tier when the balance is positive. With a
// request id the spend is recorded and replayed like any metered attempt.
func (e *Engine) ConsumeTicket(ctx context.Context, accountID uint64, tier, requestID string) (bool, error) {
	tier = strings.TrimSpace(tier)
	if accountID == 0 {
		return false, errs.Validation("account_id", "must be positive")
	}
	if !e.knownTier(tier) {
		return false, errs.Validation("tier", fmt.Sprintf("unknown ticket tier %q", tier))
	}

	if strings.TrimSpace(requestID) == "" {
		var spent bool
		errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.TicketBalance{}).
				Where("account_id = ? AND tier = ? AND balance > 0", accountID, tier).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance - ?", 1),
					"updated_at": e.clock.Now(),
				})
			if res.Error != nil {
				return fmt.Errorf("spend ticket: %w", res.Error)
			}
			spent = res.RowsAffected == 1
			return nil
		})
		if errTx != nil {
			return false, errs.Persistence("grants: consume ticket", errTx)
		}
		e.metrics.ObserveConsume("ticket", spent, false)
		return spent, nil
	}

	out, errRun := usage.Run(ctx, e.db, requestID, func(tx *gorm.DB) (models.UsageEvent, error) {
		now := e.clock.Now()
		if errAccount := requireAccount(tx, accountID); errAccount != nil {
			return models.UsageEvent{}, errAccount
		}
		event := models.UsageEvent{
			AccountID: accountID,
			Feature:   "ticket:" + tier,
			Units:     1,
			CreatedAt: now,
		}
		var row models.TicketBalance
		errTake := dbutil.ForUpdate(tx).
			Where("account_id = ? AND tier = ?", accountID, tier).
			Take(&row).Error
		if errTake != nil && !dbutil.IsNotFound(errTake) {
			return models.UsageEvent{}, fmt.Errorf("load ticket balance: %w", errTake)
		}
		if errTake != nil || row.Balance < 1 {
			event.Reason = ReasonNoTickets
			return event, nil
		}
		if errUpdate := tx.Model(&models.TicketBalance{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance - ?", 1),
				"updated_at": now,
			}).Error; errUpdate != nil {
			return models.UsageEvent{}, fmt.Errorf("spend ticket: %w", errUpdate)
		}
		event.Allowed = true
		event.CreditsRemaining = row.Balance - 1
		return event, nil
	})
	if errRun != nil {
		return false, errRun
	}
	e.metrics.ObserveConsume("ticket", out.Allowed, out.Replayed)
	return out.Allowed, nil
}

func (e *Engine) knownTier(tier string) bool {
	for _, known := range catalog.Tiers(e.catalog) {
		if known == tier {
			return true
		}
	}
	return false
}
