package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/identity"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// IdentityHandler serves identity and profile endpoints.
type IdentityHandler struct {
	resolver *identity.Resolver
	trail    *trail.Recorder
}

// NewIdentityHandler constructs an IdentityHandler.
func NewIdentityHandler(resolver *identity.Resolver, recorder *trail.Recorder) *IdentityHandler {
	return &IdentityHandler{resolver: resolver, trail: recorder}
}

type resolveRequest struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
}

// Resolve maps a provider identity to its account, creating both on first sight.
func (h *IdentityHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	ctx := c.Request.Context()
	res, errResolve := h.resolver.Resolve(ctx, req.Provider, req.ProviderUserID)
	if errResolve != nil {
		response.Error(c, errResolve)
		return
	}
	if res.Created {
		h.trail.LogAppEvent(ctx, "account_created", res.AccountID, middleware.RequestIDFrom(c), gin.H{"provider": req.Provider})
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":  res.AccountID,
		"identity_id": res.IdentityID,
		"created":     res.Created,
	})
}

// Profile returns the account profile.
func (h *IdentityHandler) Profile(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	account, errAccount := h.resolver.Account(c.Request.Context(), accountID)
	if errAccount != nil {
		response.Error(c, errAccount)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":        account.ID,
		"lang":              account.Lang,
		"terms_accepted_at": account.TermsAcceptedAt,
		"created_at":        account.CreatedAt,
	})
}

type setLanguageRequest struct {
	Lang string `json:"lang"`
}

// SetLanguage stores the preferred language.
func (h *IdentityHandler) SetLanguage(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	var req setLanguageRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	lang, errSet := h.resolver.SetLanguage(c.Request.Context(), accountID, req.Lang)
	if errSet != nil {
		response.Error(c, errSet)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "lang": lang})
}

// AcceptTerms records terms acceptance; repeated calls keep the first timestamp.
func (h *IdentityHandler) AcceptTerms(c *gin.Context) {
	accountID, ok := response.AccountParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	account, errAccept := h.resolver.AcceptTerms(ctx, accountID)
	if errAccept != nil {
		response.Error(c, errAccept)
		return
	}
	h.trail.LogAppEvent(ctx, "terms_accepted", accountID, middleware.RequestIDFrom(c), nil)
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "terms_accepted_at": account.TermsAcceptedAt})
}
