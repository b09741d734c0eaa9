package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/ratelimit"
)

// WalletHandler serves ticket, pass and capability balances.
type WalletHandler struct {
	grants   *grants.Engine
	throttle *ratelimit.Manager
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(engine *grants.Engine, throttle *ratelimit.Manager) *WalletHandler {
	return &WalletHandler{grants: engine, throttle: throttle}
}

// Balance returns everything the account holds plus its effective access.
func (h *WalletHandler) Balance(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	balance, errBalance := h.grants.Balance(ctx, accountID)
	if errBalance != nil {
		response.Error(c, errBalance)
		return
	}
	access, errAccess := h.grants.Access(ctx, accountID)
	if errAccess != nil {
		response.Error(c, errAccess)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"tickets":    balance.Tickets,
		"pass_until": balance.PassUntil,
		"flags":      balance.Flags,
		"access":     access,
	})
}

type ticketConsumeRequest struct {
	AccountID uint64 `json:"account_id"`
	Tier      string `json:"tier"`
	RequestID string `json:"request_id"`
}

// ConsumeTicket spends one ticket of a tier.
func (h *WalletHandler) ConsumeTicket(c *gin.Context) {
	var req ticketConsumeRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	if !middleware.Throttle(c, h.throttle, req.AccountID, "ticket") {
		return
	}
	spent, errSpend := h.grants.ConsumeTicket(c.Request.Context(), req.AccountID, req.Tier, req.RequestID)
	if errSpend != nil {
		response.Error(c, errSpend)
		return
	}
	body := gin.H{"allowed": spent}
	if !spent {
		body["reason"] = grants.ReasonNoTickets
	}
	c.JSON(http.StatusOK, body)
}
