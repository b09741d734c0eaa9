package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/payments"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// RefundHandler marks charges refunded and reverses their grants.
type RefundHandler struct {
	payments *payments.Store
	grants   *grants.Engine
	trail    *trail.Recorder
}

// NewRefundHandler constructs a RefundHandler.
func NewRefundHandler(store *payments.Store, engine *grants.Engine, recorder *trail.Recorder) *RefundHandler {
	return &RefundHandler{payments: store, grants: engine, trail: recorder}
}

type refundRequest struct {
	ExternalChargeID string `json:"external_charge_id"`
	RefundID         string `json:"refund_id"`
}

// Refund marks the charge refunded, reverses its grant once and audits the action
// under the authenticated admin.
func (h *RefundHandler) Refund(c *gin.Context) {
	var req refundRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	ctx := c.Request.Context()
	payload := gin.H{
		"charge_id": req.ExternalChargeID,
		"refund_id": req.RefundID,
		"admin":     c.GetString(AdminUsernameKey),
	}
	record, changed, errRefund := h.payments.Refund(ctx, req.ExternalChargeID, req.RefundID)
	if errRefund != nil {
		payload["error"] = errRefund.Error()
		h.trail.LogAudit(ctx, "refund", 0, 0, payload, trail.OutcomeFailure)
		response.Error(c, errRefund)
		return
	}
	if !changed {
		c.JSON(http.StatusOK, gin.H{"payment_id": record.ID, "refunded": true, "changed": false})
		return
	}
	payload["sku"] = record.SKU
	balance, errRevoke := h.grants.Revoke(ctx, record.AccountID, record.SKU)
	if errRevoke != nil {
		payload["error"] = errRevoke.Error()
		h.trail.LogAudit(ctx, "refund", 0, record.AccountID, payload, trail.OutcomeFailure)
		response.Error(c, errRevoke)
		return
	}
	h.trail.LogAudit(ctx, "refund", 0, record.AccountID, payload, trail.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"payment_id": record.ID, "refunded": true, "changed": true, "balance": balance})
}
