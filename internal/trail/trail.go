// Package trail writes the append-only audit, funnel, app-event and feedback logs.
// Writes never fail the caller: errors are logged and counted, then dropped.
package trail

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/router-for-me/QuotaLedger/internal/clock"
	dbutil "github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	"github.com/router-for-me/QuotaLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder appends trail rows.
type Recorder struct {
	db      *gorm.DB
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New constructs a Recorder.
func New(conn *gorm.DB, clk clock.Clock, m *metrics.Metrics) *Recorder {
	return &Recorder{db: conn, clock: clock.OrReal(clk), metrics: m}
}

// LogPaymentEvent appends a purchase funnel step.
func (r *Recorder) LogPaymentEvent(ctx context.Context, accountID uint64, eventType, sku string, payload any) {
	row := models.PaymentEvent{
		AccountID: accountID,
		EventType: strings.TrimSpace(eventType),
		SKU:       strings.TrimSpace(sku),
		Payload:   encode(payload),
		CreatedAt: r.clock.Now(),
	}
	r.write(ctx, "payment_event", &row)
}

// LogAudit appends a privileged action. target may be zero when there is none.
func (r *Recorder) LogAudit(ctx context.Context, action string, actorID, targetID uint64, payload any, outcome string) {
	row := models.Audit{
		Action:         strings.TrimSpace(action),
		ActorAccountID: actorID,
		Payload:        encode(payload),
		Outcome:        strings.TrimSpace(outcome),
		CreatedAt:      r.clock.Now(),
	}
	if targetID != 0 {
		row.TargetAccountID = &targetID
	}
	r.write(ctx, "audit", &row)
}

// LogAppEvent appends an application event used by the analytics rollup.
func (r *Recorder) LogAppEvent(ctx context.Context, eventType string, accountID uint64, requestID string, payload any) {
	row := models.AppEvent{
		EventType: strings.TrimSpace(eventType),
		RequestID: strings.TrimSpace(requestID),
		Payload:   encode(payload),
		CreatedAt: r.clock.Now(),
	}
	if accountID != 0 {
		row.AccountID = &accountID
	}
	r.write(ctx, "app_event", &row)
}

// LogFeedback appends free-text feedback.
func (r *Recorder) LogFeedback(ctx context.Context, accountID uint64, mode, text, requestID string) {
	row := models.Feedback{
		AccountID: accountID,
		Mode:      strings.TrimSpace(mode),
		Text:      strings.TrimSpace(text),
		RequestID: strings.TrimSpace(requestID),
		CreatedAt: r.clock.Now(),
	}
	r.write(ctx, "feedback", &row)
}

// LatestAudit returns the newest audit row, optionally filtered by action.
func (r *Recorder) LatestAudit(ctx context.Context, action string) (models.Audit, bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Audit{})
	if action = strings.TrimSpace(action); action != "" {
		query = query.Where("action = ?", action)
	}
	var row models.Audit
	if errTake := query.Order("id DESC").Take(&row).Error; errTake != nil {
		if dbutil.IsNotFound(errTake) {
			return models.Audit{}, false, nil
		}
		return models.Audit{}, false, errs.Persistence("trail: latest audit", errTake)
	}
	return row, true, nil
}

// RecentFeedback returns up to limit feedback rows, newest first.
func (r *Recorder) RecentFeedback(ctx context.Context, limit int) ([]models.Feedback, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	var rows []models.Feedback
	if errFind := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, errs.Persistence("trail: recent feedback", errFind)
	}
	return rows, nil
}

func (r *Recorder) write(ctx context.Context, logName string, row any) {
	if r == nil || r.db == nil {
		return
	}
	if errCreate := r.db.WithContext(ctx).Create(row).Error; errCreate != nil {
		r.metrics.TrailWriteFailed(logName)
		log.WithError(errCreate).WithField("log", logName).Warn("trail: write failed")
	}
}

func encode(payload any) datatypes.JSON {
	switch v := payload.(type) {
	case nil:
		return nil
	case datatypes.JSON:
		return v
	case json.RawMessage:
		return datatypes.JSON(v)
	case string:
		if v == "" {
			return nil
		}
		if json.Valid([]byte(v)) {
			return datatypes.JSON(v)
		}
		raw, _ := json.Marshal(v)
		return datatypes.JSON(raw)
	}
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		log.WithError(errMarshal).Warn("trail: payload not encodable")
		return nil
	}
	return datatypes.JSON(raw)
}
