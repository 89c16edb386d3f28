package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	redisadapter "github.com/framecraft/server/internal/adapter/outbound/redis"
	"github.com/framecraft/server/internal/module/auth"
	"github.com/framecraft/server/internal/module/billingsync"
	"github.com/framecraft/server/internal/module/entitlement"
	sharedcache "github.com/framecraft/server/internal/shared/cache"
	"github.com/framecraft/server/internal/shared/config"
	"github.com/framecraft/server/internal/shared/database"
	"github.com/framecraft/server/internal/shared/logger"
	"github.com/framecraft/server/internal/utils/metrics"
	"github.com/framecraft/server/internal/utils/middleware"
)

// App wires the entitlement engine and its HTTP surface together.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine

	tracker *entitlement.Tracker
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	catalog := entitlement.NewTierCatalog()
	repo := entitlement.NewRepository(db, catalog, log)
	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate entitlement tables: %w", err)
	}

	// Redis is optional: without it the cache runs local-only and each
	// replica fetches for itself.
	var (
		redisClient redis.UniversalClient
		shared      entitlement.SharedCache
	)
	if cfg.Redis.Address != "" {
		redisClient, err = sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		shared = redisadapter.NewEntitlementCache(redisClient)
	} else {
		log.Warn("redis not configured, entitlement cache runs local-only")
	}

	m := metrics.New("framecraft")

	var source entitlement.RemoteSource = repo
	source = entitlement.NewBreakerSource(source, &entitlement.BreakerConfig{
		MaxFailures:         cfg.Entitlement.BreakerMaxFailures,
		Timeout:             cfg.Entitlement.BreakerTimeout,
		MaxHalfOpenRequests: cfg.Entitlement.BreakerMaxHalfOpen,
	}, log)
	if cfg.Entitlement.DevFallback {
		log.Warn("entitlement dev fallback enabled, fetch failures degrade to the free tier")
		source = entitlement.NewDevFallbackSource(source, catalog, log)
	}

	cache := entitlement.NewCache(source, shared, &entitlement.CacheConfig{
		SubscriptionTTL: cfg.Entitlement.SubscriptionTTL,
		UsageTTL:        cfg.Entitlement.UsageTTL,
	}, log, m)

	checker := entitlement.NewChecker(cache, catalog, log, m)
	tracker := entitlement.NewTracker(source, cache, log, m, &entitlement.TrackerConfig{
		BufferSize:     cfg.Entitlement.TrackerBufferSize,
		ForwardTimeout: cfg.Entitlement.RemoteFetchTimeout,
	})

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret:            cfg.Auth.JWTSecret,
		Issuer:            cfg.Auth.Issuer,
		AccessTokenExpiry: cfg.Auth.AccessTokenExpiry,
	})

	entitlementHandler := entitlement.NewHandler(checker, cache, tracker, catalog, log)
	syncer := billingsync.NewSyncer(repo, cache, log)
	webhookHandler := billingsync.NewWebhookHandler(syncer, cfg.Billing.StripeWebhookSecret, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logging(log),
		middleware.CORS(corsConfig(cfg)),
		middleware.Metrics(m),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	authed := api.Group("")
	authed.Use(middleware.RequireAuth(jwtManager))
	entitlementHandler.RegisterRoutes(api, authed)

	webhooks := router.Group("/webhooks/billing")
	webhookHandler.RegisterRoutes(webhooks)

	return &App{
		config:  cfg,
		logger:  log,
		db:      db,
		redis:   redisClient,
		router:  router,
		tracker: tracker,
	}, nil
}

// corsConfig applies the configured origin allow-list on top of the
// middleware defaults.
func corsConfig(cfg *config.Config) middleware.CORSConfig {
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSAllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORSAllowOrigins
	}
	return corsCfg
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop flushes the tracker and releases connections.
func (a *App) Stop() {
	a.tracker.Close()
	if a.redis != nil {
		if err := sharedcache.Close(a.redis); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
