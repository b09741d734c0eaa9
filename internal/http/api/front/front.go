package front

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/allowance"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	handlers "github.com/router-for-me/QuotaLedger/internal/http/api/front/handlers"
	"github.com/router-for-me/QuotaLedger/internal/identity"
	"github.com/router-for-me/QuotaLedger/internal/ledger"
	"github.com/router-for-me/QuotaLedger/internal/payments"
	"github.com/router-for-me/QuotaLedger/internal/ratelimit"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// Services are the components the front routes call into.
type Services struct {
	Identity   *identity.Resolver
	Ledger     *ledger.Ledger
	Allowances *allowance.Service
	Grants     *grants.Engine
	Payments   *payments.Store
	Trail      *trail.Recorder
	Throttle   *ratelimit.Manager
}

// RegisterFrontRoutes registers the caller-facing accounting routes under /api/v1.
func RegisterFrontRoutes(r *gin.Engine, svc Services) {
	if r == nil {
		return
	}
	group := r.Group("/api/v1")

	identityHandler := handlers.NewIdentityHandler(svc.Identity, svc.Trail)
	group.POST("/identities/resolve", identityHandler.Resolve)
	group.GET("/accounts/:id", identityHandler.Profile)
	group.PUT("/accounts/:id/lang", identityHandler.SetLanguage)
	group.POST("/accounts/:id/terms", identityHandler.AcceptTerms)

	entitlementHandler := handlers.NewEntitlementHandler(svc.Ledger, svc.Throttle)
	group.POST("/entitlements/check", entitlementHandler.Check)
	group.POST("/entitlements/consume", entitlementHandler.Consume)
	group.GET("/accounts/:id/credits", entitlementHandler.Remaining)

	allowanceHandler := handlers.NewAllowanceHandler(svc.Allowances, svc.Throttle)
	group.POST("/allowances/consume", allowanceHandler.Consume)
	group.GET("/accounts/:id/allowances", allowanceHandler.List)

	walletHandler := handlers.NewWalletHandler(svc.Grants, svc.Throttle)
	group.GET("/accounts/:id/balance", walletHandler.Balance)
	group.POST("/tickets/consume", walletHandler.ConsumeTicket)

	purchaseHandler := handlers.NewPurchaseHandler(svc.Payments, svc.Grants, svc.Trail)
	group.POST("/purchases", purchaseHandler.Purchase)

	feedbackHandler := handlers.NewFeedbackHandler(svc.Trail)
	group.POST("/feedback", feedbackHandler.Create)
}
