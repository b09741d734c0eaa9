// Package usage implements the request-id guard shared by every metered operation:
// a stored outcome is replayed verbatim, otherwise the attempt runs and its outcome
// is recorded in the same transaction.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReasonInsufficientCredits marks a denial caused by an exhausted balance.
const ReasonInsufficientCredits = "insufficient_credits"

// Column widths of usage_events.
const (
	MaxRequestIDLength = 191
	MaxFeatureLength   = 64
)

// Outcome is the result of a metered attempt as seen by the caller.
type Outcome struct {
	Allowed          bool   `json:"allowed"`
	CreditsRemaining int64  `json:"credits_remaining"`
	Reason           string `json:"reason,omitempty"`
	Replayed         bool   `json:"-"`
}

// Attempt performs the business decision inside the guard transaction and returns
// the event to record. It must not mutate balances when it denies.
type Attempt func(tx *gorm.DB) (models.UsageEvent, error)

// errRaced signals that another transaction recorded the same request id first.
var errRaced = errors.New("usage: request id recorded concurrently")

// Run executes attempt at most once per request id.
func Run(ctx context.Context, conn *gorm.DB, requestID string, attempt Attempt) (Outcome, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Outcome{}, errs.Validation("request_id", "must not be empty")
	}
	if len(requestID) > MaxRequestIDLength {
		return Outcome{}, errs.Validation("request_id", fmt.Sprintf("must be at most %d characters", MaxRequestIDLength))
	}
	if conn == nil {
		return Outcome{}, errs.Persistence("usage: run", errors.New("nil db"))
	}

	var out Outcome
	errTx := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, found, errLookup := lookup(tx, requestID)
		if errLookup != nil {
			return errLookup
		}
		if found {
			out = stored
			return nil
		}

		event, errAttempt := attempt(tx)
		if errAttempt != nil {
			return errAttempt
		}
		if len(event.Feature) > MaxFeatureLength {
			return errs.Validation("feature", fmt.Sprintf("must be at most %d characters", MaxFeatureLength))
		}
		event.RequestID = requestID
		event.Metadata = metadataFor(event)

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoNothing: true,
		}).Create(&event)
		if res.Error != nil {
			if dbutil.IsDuplicateKey(res.Error) {
				return errRaced
			}
			return fmt.Errorf("record usage event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errRaced
		}
		out = outcomeOf(event)
		return nil
	})
	if errors.Is(errTx, errRaced) {
		stored, found, errLookup := lookup(conn.WithContext(ctx), requestID)
		if errLookup != nil {
			return Outcome{}, errs.Persistence("usage: replay", errLookup)
		}
		if !found {
			return Outcome{}, errs.Persistence("usage: replay", errors.New("conflicting usage event vanished"))
		}
		return stored, nil
	}
	if errTx != nil {
		return Outcome{}, errs.Persistence("usage: run", errTx)
	}
	return out, nil
}

// Lookup returns the stored outcome for requestID, if any.
func Lookup(ctx context.Context, conn *gorm.DB, requestID string) (Outcome, bool, error) {
	out, found, err := lookup(conn.WithContext(ctx), strings.TrimSpace(requestID))
	if err != nil {
		return Outcome{}, false, errs.Persistence("usage: lookup", err)
	}
	return out, found, nil
}

func lookup(tx *gorm.DB, requestID string) (Outcome, bool, error) {
	var event models.UsageEvent
	errTake := tx.Where("request_id = ?", requestID).Take(&event).Error
	if errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("lookup usage event: %w", errTake)
	}
	out := outcomeOf(event)
	out.Replayed = true
	return out, true, nil
}

func outcomeOf(event models.UsageEvent) Outcome {
	return Outcome{
		Allowed:          event.Allowed,
		CreditsRemaining: event.CreditsRemaining,
		Reason:           event.Reason,
	}
}

func metadataFor(event models.UsageEvent) datatypes.JSON {
	payload := map[string]any{
		"allowed":           event.Allowed,
		"credits_remaining": event.CreditsRemaining,
	}
	if event.Allowed {
		payload["feature"] = event.Feature
		payload["units"] = event.Units
	} else {
		payload["reason"] = event.Reason
	}
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
