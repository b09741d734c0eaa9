package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/ledger"
	"github.com/router-for-me/QuotaLedger/internal/ratelimit"
)

// EntitlementHandler serves credit checks and consumption.
type EntitlementHandler struct {
	ledger   *ledger.Ledger
	reader   *ledger.CachedReader
	throttle *ratelimit.Manager
}

// NewEntitlementHandler constructs an EntitlementHandler.
func NewEntitlementHandler(l *ledger.Ledger, throttle *ratelimit.Manager) *EntitlementHandler {
	return &EntitlementHandler{ledger: l, reader: ledger.NewCachedReader(l), throttle: throttle}
}

type checkRequest struct {
	AccountID uint64 `json:"account_id"`
}

// Check returns the current cycle, creating or rolling it over as needed.
func (h *EntitlementHandler) Check(c *gin.Context) {
	var req checkRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	snap, errCheck := h.ledger.Check(c.Request.Context(), req.AccountID)
	if errCheck != nil {
		response.Error(c, errCheck)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":        req.AccountID,
		"plan_key":          snap.Plan.Code,
		"credits_remaining": snap.CreditsRemaining,
		"allowed":           snap.CreditsRemaining > 0,
		"period_end":        snap.PeriodEnd,
	})
}

type consumeRequest struct {
	AccountID uint64 `json:"account_id"`
	Feature   string `json:"feature"`
	Units     *int64 `json:"units"`
	RequestID string `json:"request_id"`
}

// Consume spends credits at most once per request id.
func (h *EntitlementHandler) Consume(c *gin.Context) {
	var req consumeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	if !middleware.Throttle(c, h.throttle, req.AccountID, "consume") {
		return
	}
	units := int64(1)
	if req.Units != nil {
		units = *req.Units
	}
	out, errConsume := h.ledger.Consume(c.Request.Context(), ledger.ConsumeRequest{
		AccountID: req.AccountID,
		Feature:   req.Feature,
		Units:     units,
		RequestID: req.RequestID,
	})
	if errConsume != nil {
		response.Error(c, errConsume)
		return
	}
	body := gin.H{"allowed": out.Allowed, "credits_remaining": out.CreditsRemaining}
	if out.Reason != "" {
		body["reason"] = out.Reason
	}
	c.JSON(http.StatusOK, body)
}

// Remaining serves the balance from the read-through cache.
func (h *EntitlementHandler) Remaining(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	snap, errRead := h.reader.Remaining(c.Request.Context(), accountID)
	if errRead != nil {
		response.Error(c, errRead)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":        accountID,
		"credits_remaining": snap.Remaining,
		"period_end":        snap.PeriodEnd,
	})
}
