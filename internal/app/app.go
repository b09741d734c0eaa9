package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/router-for-me/QuotaLedger/internal/allowance"
	"github.com/router-for-me/QuotaLedger/internal/analytics"
	"github.com/router-for-me/QuotaLedger/internal/cache"
	"github.com/router-for-me/QuotaLedger/internal/catalog"
	"github.com/router-for-me/QuotaLedger/internal/clock"
	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/db"
	"github.com/router-for-me/QuotaLedger/internal/grants"
	"github.com/router-for-me/QuotaLedger/internal/http/api"
	"github.com/router-for-me/QuotaLedger/internal/http/api/admin"
	"github.com/router-for-me/QuotaLedger/internal/http/api/front"
	"github.com/router-for-me/QuotaLedger/internal/identity"
	"github.com/router-for-me/QuotaLedger/internal/ledger"
	"github.com/router-for-me/QuotaLedger/internal/metrics"
	"github.com/router-for-me/QuotaLedger/internal/payments"
	"github.com/router-for-me/QuotaLedger/internal/ratelimit"
	"github.com/router-for-me/QuotaLedger/internal/security"
	"github.com/router-for-me/QuotaLedger/internal/trail"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// Components is the wired service graph.
type Components struct {
	Config     config.Config
	DB         *gorm.DB
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Cache      *cache.Manager
	Throttle   *ratelimit.Manager
	Identity   *identity.Resolver
	Ledger     *ledger.Ledger
	Allowances *allowance.Service
	Grants     *grants.Engine
	Payments   *payments.Store
	Trail      *trail.Recorder
	Analytics  *analytics.Rollup
	Tokens     *security.TokenService
}

// Build wires every component over conn. A nil clock selects the wall clock.
func Build(conn *gorm.DB, cfg config.Config, clk clock.Clock) (*Components, error) {
	if conn == nil {
		return nil, errors.New("app: nil db")
	}
	clk = clock.OrReal(clk)
	loc, errLoc := cfg.Ledger.Location()
	if errLoc != nil {
		return nil, errLoc
	}
	rules, errRules := allowance.RulesFromConfig(cfg.Allowances, loc)
	if errRules != nil {
		return nil, errRules
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	cacheManager := cache.NewManager(cache.Settings{
		Enabled:       cfg.Cache.Enabled,
		TTL:           cfg.Cache.TTL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   prefixed(cfg.Redis.Prefix, "cache"),
	}, clk.Now, nil, m)
	throttle := ratelimit.NewManager(ratelimit.Settings{
		Limit:         cfg.RateLimit.Limit,
		RedisEnabled:  cfg.RateLimit.RedisEnabled,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   prefixed(cfg.Redis.Prefix, "rl"),
	}, clk.Now, nil)

	resolver := identity.New(conn, clk)
	l := ledger.New(conn, clk, ledger.Options{
		DefaultPlanCode: cfg.Ledger.DefaultPlan,
		Cache:           cacheManager,
		Metrics:         m,
	})
	engine := grants.New(conn, clk, catalog.Default(), grants.Policy{
		PaywallEnabled:    cfg.Access.PaywallEnabled,
		AdminAccountIDs:   cfg.Access.AdminAccountIDs,
		PremiumAccountIDs: cfg.Access.PremiumAccountIDs,
	}, m)
	rollupOpts := analytics.DefaultOptions()
	rollupOpts.Location = loc

	return &Components{
		Config:     cfg,
		DB:         conn,
		Registry:   registry,
		Metrics:    m,
		Cache:      cacheManager,
		Throttle:   throttle,
		Identity:   resolver,
		Ledger:     l,
		Allowances: allowance.New(l, resolver, engine, rules, cfg.Ledger.TrialDays),
		Grants:     engine,
		Payments:   payments.New(conn, clk, m),
		Trail:      trail.New(conn, clk, m),
		Analytics:  analytics.New(conn, clk, rollupOpts),
		Tokens:     security.NewTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, clk.Now),
	}, nil
}

// Router builds the gin engine over the components.
func (c *Components) Router() *gin.Engine {
	return api.NewRouter(api.Options{
		DB:       c.DB,
		Metrics:  c.Metrics,
		Gatherer: c.Registry,
		Front: front.Services{
			Identity:   c.Identity,
			Ledger:     c.Ledger,
			Allowances: c.Allowances,
			Grants:     c.Grants,
			Payments:   c.Payments,
			Trail:      c.Trail,
			Throttle:   c.Throttle,
		},
		Admin: admin.Services{
			Tokens:    c.Tokens,
			Admin:     c.Config.Admin,
			Grants:    c.Grants,
			Payments:  c.Payments,
			Analytics: c.Analytics,
			Trail:     c.Trail,
		},
	})
}

// Close releases the Redis clients and the database pool.
func (c *Components) Close() error {
	return errors.Join(c.Cache.Close(), c.Throttle.Close(), db.Close(c.DB))
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer serves the facade until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	full, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	applyLogLevel(full.Log.Level)

	conn, errOpen := db.Open(full.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		_ = db.Close(conn)
		return errMigrate
	}
	components, errBuild := Build(conn, full, nil)
	if errBuild != nil {
		_ = db.Close(conn)
		return errBuild
	}
	defer func() {
		if errClose := components.Close(); errClose != nil {
			log.WithError(errClose).Warn("close components")
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(full.Server.Port),
		Handler:           components.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errServe := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Infof("starting quotaledger with config=%s", configPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errServe <- err
		}
		close(errServe)
	}()

	select {
	case err := <-errServe:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(ctxShutdown); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

func applyLogLevel(raw string) {
	level, errParse := log.ParseLevel(raw)
	if errParse != nil {
		log.WithField("level", raw).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func prefixed(prefix, suffix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + ":" + suffix
}
