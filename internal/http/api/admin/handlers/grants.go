package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// GrantHandler applies manual grants and revocations.
type GrantHandler struct {
	grants *grants.Engine
	trail  *trail.Recorder
}

// NewGrantHandler constructs a GrantHandler.
func NewGrantHandler(engine *grants.Engine, recorder *trail.Recorder) *GrantHandler {
	return &GrantHandler{grants: engine, trail: recorder}
}

type grantRequest struct {
	AccountID uint64 `json:"account_id"`
	SKU       string `json:"sku"`
	Reason    string `json:"reason"`
}

// Grant applies a product to an account without a charge.
func (h *GrantHandler) Grant(c *gin.Context) {
	h.apply(c, "admin_grant", h.grants.Grant)
}

// Revoke reverses a product on an account.
func (h *GrantHandler) Revoke(c *gin.Context) {
	h.apply(c, "admin_revoke", h.grants.Revoke)
}

func (h *GrantHandler) apply(c *gin.Context, action string, op func(context.Context, uint64, string) (grants.Balance, error)) {
	var req grantRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	ctx := c.Request.Context()
	payload := gin.H{"sku": req.SKU, "reason": req.Reason, "admin": c.GetString(AdminUsernameKey)}
	balance, errOp := op(ctx, req.AccountID, req.SKU)
	if errOp != nil {
		payload["error"] = errOp.Error()
		h.trail.LogAudit(ctx, action, 0, req.AccountID, payload, trail.OutcomeFailure)
		response.Error(c, errOp)
		return
	}
	h.trail.LogAudit(ctx, action, 0, req.AccountID, payload, trail.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
