package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/allowance"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/ratelimit"
)

// AllowanceHandler serves the free-usage allowances.
type AllowanceHandler struct {
	allowances *allowance.Service
	throttle   *ratelimit.Manager
}

// NewAllowanceHandler constructs an AllowanceHandler.
func NewAllowanceHandler(svc *allowance.Service, throttle *ratelimit.Manager) *AllowanceHandler {
	return &AllowanceHandler{allowances: svc, throttle: throttle}
}

type allowanceConsumeRequest struct {
	AccountID uint64 `json:"account_id"`
	Name      string `json:"name"`
	RequestID string `json:"request_id"`
}

// Consume takes one unit of a named allowance.
func (h *AllowanceHandler) Consume(c *gin.Context) {
	var req allowanceConsumeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	if !middleware.Throttle(c, h.throttle, req.AccountID, "allowance") {
		return
	}
	res, errTake := h.allowances.Take(c.Request.Context(), req.AccountID, req.Name, req.RequestID)
	if errTake != nil {
		response.Error(c, errTake)
		return
	}
	body := gin.H{
		"allowed":   res.Allowed,
		"remaining": res.CreditsRemaining,
		"limit":     res.Limit,
		"unlimited": res.Bypassed,
	}
	if res.Reason != "" {
		body["reason"] = res.Reason
	}
	c.JSON(http.StatusOK, body)
}

// List reports every allowance of the account.
func (h *AllowanceHandler) List(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	statuses, errStatus := h.allowances.Statuses(c.Request.Context(), accountID)
	if errStatus != nil {
		response.Error(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "allowances": statuses})
}
