// Package analytics rolls app events and payments up into per-usage-day stats.
package analytics

import (
	"context"
	"time"

	"github.com/router-for-me/QuotaLedger/internal/clock"
	"github.com/router-for-me/QuotaLedger/internal/errs"
	"github.com/router-for-me/QuotaLedger/internal/models"
	"github.com/router-for-me/QuotaLedger/internal/window"
	"gorm.io/gorm"
)

const (
	minDays = 1
	maxDays = 14
)

// Options selects which app event types are counted.
type Options struct {
	// UsageTypes are the event types that count as a use and towards DAU.
	UsageTypes []string
	// ErrorType is the event type counted as an error.
	ErrorType string
	// Location is the usage timezone days are bucketed in.
	Location *time.Location
}

// DefaultOptions returns the event types the service emits.
func DefaultOptions() Options {
	return Options{
		UsageTypes: []string{"consult", "tarot"},
		ErrorType:  "error",
		Location:   window.DefaultLocation,
	}
}

// DayStats is the rollup of one usage day.
type DayStats struct {
	Date     string           `json:"date"`
	Counts   map[string]int64 `json:"counts"`
	Uses     int64            `json:"uses"`
	DAU      int64            `json:"dau"`
	Errors   int64            `json:"errors"`
	Payments int64            `json:"payments"`
	Sales    int64            `json:"sales"`
}

// Rollup computes daily stats.
type Rollup struct {
	db    *gorm.DB
	clock clock.Clock
	opts  Options
}

// New constructs a Rollup. Empty option fields take their defaults.
func New(conn *gorm.DB, clk clock.Clock, opts Options) *Rollup {
	defaults := DefaultOptions()
	if len(opts.UsageTypes) == 0 {
		opts.UsageTypes = defaults.UsageTypes
	}
	if opts.ErrorType == "" {
		opts.ErrorType = defaults.ErrorType
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}
	return &Rollup{db: conn, clock: clock.OrReal(clk), opts: opts}
}

// DailyStats returns one row per usage day for the last days days (clamped to
// 1..14), newest first. Days without activity are included with zero counts.
func (r *Rollup) DailyStats(ctx context.Context, days int) ([]DayStats, error) {
	days = clampDays(days)
	now := r.clock.Now()
	end := window.DayStart(now, r.opts.Location).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	stats := make([]DayStats, days)
	index := make(map[string]*DayStats, days)
	for i := 0; i < days; i++ {
		day := window.UsageDay(end.AddDate(0, 0, -(i+1)), r.opts.Location)
		stats[i] = DayStats{Date: day, Counts: make(map[string]int64)}
		for _, eventType := range r.opts.UsageTypes {
			stats[i].Counts[eventType] = 0
		}
		stats[i].Counts[r.opts.ErrorType] = 0
		index[day] = &stats[i]
	}

	usageTypes := make(map[string]struct{}, len(r.opts.UsageTypes))
	for _, eventType := range r.opts.UsageTypes {
		usageTypes[eventType] = struct{}{}
	}
	eventTypes := append(append([]string{}, r.opts.UsageTypes...), r.opts.ErrorType)

	var events []models.AppEvent
	if errFind := r.db.WithContext(ctx).
		Select("event_type", "account_id", "created_at").
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Where("event_type IN ?", eventTypes).
		Find(&events).Error; errFind != nil {
		return nil, errs.Persistence("analytics: app events", errFind)
	}

	active := make(map[string]map[uint64]struct{}, days)
	for _, event := range events {
		day := window.UsageDay(event.CreatedAt, r.opts.Location)
		row, ok := index[day]
		if !ok {
			continue
		}
		row.Counts[event.EventType]++
		if event.EventType == r.opts.ErrorType {
			row.Errors++
			continue
		}
		if _, isUsage := usageTypes[event.EventType]; !isUsage {
			continue
		}
		row.Uses++
		if event.AccountID == nil {
			continue
		}
		if active[day] == nil {
			active[day] = make(map[uint64]struct{})
		}
		active[day][*event.AccountID] = struct{}{}
	}
	for day, accounts := range active {
		index[day].DAU = int64(len(accounts))
	}

	var payments []models.Payment
	if errFind := r.db.WithContext(ctx).
		Select("amount", "created_at").
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Where("status = ? AND refunded_at IS NULL", models.PaymentStatusPaid).
		Find(&payments).Error; errFind != nil {
		return nil, errs.Persistence("analytics: payments", errFind)
	}
	for _, payment := range payments {
		row, ok := index[window.UsageDay(payment.CreatedAt, r.opts.Location)]
		if !ok {
			continue
		}
		row.Payments++
		row.Sales += payment.Amount
	}

	return stats, nil
}

func clampDays(days int) int {
	if days < minDays {
		return minDays
	}
	if days > maxDays {
		return maxDays
	}
	return days
}
