// Package api assembles the gin engine for the accounting facade.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/http/api/admin"
	"github.com/router-for-me/QuotaLedger/internal/http/api/front"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options wires the engine.
type Options struct {
	DB       *gorm.DB
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Front    front.Services
	Admin    admin.Services
}

// NewRouter builds the engine with health, metrics, front and admin routes.
func NewRouter(opts Options) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(), middleware.Metrics(opts.Metrics))

	engine.GET("/healthz", healthz(opts.DB))
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	front.RegisterFrontRoutes(engine, opts.Front)
	admin.RegisterAdminRoutes(engine, opts.Admin)
	return engine
}

func healthz(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		health, errHealth := db.CheckHealth(c.Request.Context(), conn)
		if errHealth != nil {
			log.WithError(errHealth).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		if !health.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db": health})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": health})
	}
}
