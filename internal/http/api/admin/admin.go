package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/analytics"
	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	handlers "github.com/router-for-me/QuotaLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/QuotaLedger/internal/payments"
	"github.com/router-for-me/QuotaLedger/internal/security"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

// Services are the components the admin routes call into.
type Services struct {
	Tokens    *security.TokenService
	Admin     config.AdminConfig
	Grants    *grants.Engine
	Payments  *payments.Store
	Analytics *analytics.Rollup
	Trail     *trail.Recorder
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, svc Services) {
	if r == nil || svc.Tokens == nil {
		return
	}
	adminGroup := r.Group("/api/v1/admin")

	authHandler := handlers.NewAuthHandler(svc.Tokens, svc.Admin)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(svc.Tokens))

	grantHandler := handlers.NewGrantHandler(svc.Grants, svc.Trail)
	authed.POST("/grants", grantHandler.Grant)
	authed.POST("/revokes", grantHandler.Revoke)

	refundHandler := handlers.NewRefundHandler(svc.Payments, svc.Grants, svc.Trail)
	authed.POST("/refunds", refundHandler.Refund)

	statsHandler := handlers.NewStatsHandler(svc.Analytics, svc.Trail)
	authed.GET("/stats", statsHandler.Daily)
	authed.GET("/feedback", statsHandler.Feedback)
	authed.GET("/audits/latest", statsHandler.LatestAudit)
}

// adminAuthMiddleware validates admin JWTs.
func adminAuthMiddleware(tokens *security.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := tokens.Parse(token)
		if errJWT != nil {
			msg := "invalid token"
			if errors.Is(errJWT, security.ErrExpiredToken) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(handlers.AdminUsernameKey, claims.Username)
		c.Next()
	}
}
