package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/analytics"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// StatsHandler serves the admin read models.
type StatsHandler struct {
	rollup *analytics.Rollup
	trail  *trail.Recorder
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(rollup *analytics.Rollup, recorder *trail.Recorder) *StatsHandler {
	return &StatsHandler{rollup: rollup, trail: recorder}
}

type statsQuery struct {
	Days int `form:"days,default=7"`
}

// Daily returns per-day usage, DAU, error and sales counts, newest first.
func (h *StatsHandler) Daily(c *gin.Context) {
	var q statsQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		response.BadRequest(c, "invalid query")
		return
	}
	stats, errStats := h.rollup.DailyStats(c.Request.Context(), q.Days)
	if errStats != nil {
		response.Error(c, errStats)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": stats})
}

type feedbackQuery struct {
	Limit int `form:"limit,default=10"`
}

// Feedback lists the newest feedback entries.
func (h *StatsHandler) Feedback(c *gin.Context) {
	var q feedbackQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		response.BadRequest(c, "invalid query")
		return
	}
	rows, errFind := h.trail.RecentFeedback(c.Request.Context(), q.Limit)
	if errFind != nil {
		response.Error(c, errFind)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"account_id": row.AccountID,
			"mode":       row.Mode,
			"text":       row.Text,
			"request_id": row.RequestID,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feedback": out})
}

// LatestAudit returns the newest audit row, optionally filtered by ?action=.
func (h *StatsHandler) LatestAudit(c *gin.Context) {
	row, found, errFind := h.trail.LatestAudit(c.Request.Context(), c.Query("action"))
	if errFind != nil {
		response.Error(c, errFind)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no audit entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                row.ID,
		"action":            row.Action,
		"actor_account_id":  row.ActorAccountID,
		"target_account_id": row.TargetAccountID,
		"payload":           row.Payload,
		"outcome":           row.Outcome,
		"created_at":        row.CreatedAt,
	})
}
