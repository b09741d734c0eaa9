package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/payments"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// PurchaseHandler records charges and applies their grants.
type PurchaseHandler struct {
	payments *payments.Store
	grants   *grants.Engine
	trail    *trail.Recorder
}

// NewPurchaseHandler constructs a PurchaseHandler.
func NewPurchaseHandler(store *payments.Store, engine *grants.Engine, recorder *trail.Recorder) *PurchaseHandler {
	return &PurchaseHandler{payments: store, grants: engine, trail: recorder}
}

type purchaseRequest struct {
	AccountID        uint64 `json:"account_id"`
	SKU              string `json:"sku"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ExternalChargeID string `json:"external_charge_id"`
	ProviderChargeID string `json:"provider_charge_id"`
}

// Purchase logs the charge and grants the product only when the charge is new.
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	var req purchaseRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	sku := strings.TrimSpace(req.SKU)
	if _, ok := h.grants.Catalog().Product(sku); !ok {
		response.BadRequest(c, "unknown sku")
		return
	}
	ctx := c.Request.Context()
	record, created, errLog := h.payments.LogPayment(ctx, payments.PaymentInput{
		AccountID:        req.AccountID,
		SKU:              sku,
		Amount:           req.Amount,
		Currency:         req.Currency,
		ExternalChargeID: req.ExternalChargeID,
		ProviderChargeID: req.ProviderChargeID,
	})
	if errLog != nil {
		h.trail.LogPaymentEvent(ctx, req.AccountID, "payment_failed", sku, gin.H{"error": errLog.Error()})
		response.Error(c, errLog)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"payment_id": record.ID, "created": false})
		return
	}
	balance, errGrant := h.grants.Grant(ctx, record.AccountID, record.SKU)
	if errGrant != nil {
		h.trail.LogPaymentEvent(ctx, record.AccountID, "grant_failed", record.SKU, gin.H{
			"payment_id": record.ID,
			"error":      errGrant.Error(),
		})
		response.Error(c, errGrant)
		return
	}
	h.trail.LogPaymentEvent(ctx, record.AccountID, "payment_success", record.SKU, gin.H{
		"payment_id": record.ID,
		"amount":     record.Amount,
		"currency":   record.Currency,
		"request_id": middleware.RequestIDFrom(c),
	})
	c.JSON(http.StatusCreated, gin.H{"payment_id": record.ID, "created": true, "balance": balance})
}
