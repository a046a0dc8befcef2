package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/config"
	"github.com/pricehawk/scan-service/internal/alerts"
	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/deals"
	"github.com/pricehawk/scan-service/internal/dedupe"
	"github.com/pricehawk/scan-service/internal/delta"
	"github.com/pricehawk/scan-service/internal/fetch"
	"github.com/pricehawk/scan-service/internal/handlers"
	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/httpcache"
	"github.com/pricehawk/scan-service/internal/metrics"
	"github.com/pricehawk/scan-service/internal/middleware"
	"github.com/pricehawk/scan-service/internal/parsers"
	"github.com/pricehawk/scan-service/internal/proxy"
	"github.com/pricehawk/scan-service/internal/ratelimit"
	"github.com/pricehawk/scan-service/internal/scan"
	"github.com/pricehawk/scan-service/internal/scheduler"
	"github.com/pricehawk/scan-service/internal/session"
	"github.com/pricehawk/scan-service/internal/storage"
	"github.com/pricehawk/scan-service/internal/telemetry"
	"github.com/pricehawk/scan-service/internal/types"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting scan service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()
	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer rdb.Close()

	logger.Info().Msg("Database and redis connected")

	shutdownTelemetry := telemetry.MustInit(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	defer shutdownTelemetry(context.Background())

	rec := metrics.NewRecorder()

	limiter := ratelimit.New(ratelimit.HostConfig{
		Mode:     ratelimit.ModeInterval,
		MinDelay: cfg.RateLimit.MinDelay,
		MaxDelay: cfg.RateLimit.MaxDelay,
		Jitter:   cfg.RateLimit.Jitter,
	})

	tracker := health.NewTracker(health.Config{
		Adaptive:           cfg.RateLimit.AdaptiveEnabled,
		BaseDelay:          cfg.RateLimit.AdaptiveBaseDelay,
		MaxDelay:           cfg.RateLimit.AdaptiveMaxDelay,
		ErrorRateThreshold: cfg.RateLimit.ErrorRateThreshold,
		HighLatency:        cfg.RateLimit.HighLatency,
		CooldownWindow:     cfg.RateLimit.Cooldown429,
	}, rec, *logger)

	proxies := proxy.NewPool(proxy.Config{
		MaxConsecutive403s: cfg.Proxy.MaxConsecutive403s,
		Cooldown403:        time.Duration(cfg.Proxy.CooldownMinutes) * time.Minute,
	}, database.ProxyStore{}, rec, *logger)
	if err := proxies.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load proxies, scanning direct")
	}

	var bundles *fetch.BundleWriter
	if cfg.Storage.BasePath != "" {
		bundleStore, err := storage.NewLocalStorage(cfg.Storage.BasePath)
		if err != nil {
			logger.Warn().Err(err).Msg("Debug bundles disabled")
		} else {
			bundles = fetch.NewBundleWriter(bundleStore, *logger)
		}
	}

	pipeline := fetch.NewPipeline(fetch.Options{
		Limiter:   limiter,
		Health:    tracker,
		Proxies:   proxies,
		Sessions:  session.NewStore(rdb, cfg.Cache.SessionTTL, *logger),
		Cache:     httpcache.New(rdb, cfg.Cache.HTTPCacheTTL, cfg.Cache.HTTPCacheEnabled, rec, *logger),
		Bundles:   bundles,
		MaxConns:  cfg.HTTP.MaxConnections,
		KeepAlive: cfg.HTTP.ConnectionKeepalive,
	}, rec, *logger)

	parsers.InitializeDefaultParsers()

	deltaDet := delta.New(rdb, cfg.Cache.DeltaTTL, cfg.Cache.DeltaEnabled, rec, *logger)
	dealDet := deals.NewDetector(rec, *logger)

	engine := scan.NewEngine(scan.Config{
		MaxParallelCategories:  int64(cfg.Scan.MaxParallelCategories),
		MaxPagesPerCategory:    cfg.Scan.MaxPagesPerCategory,
		MaxParallelPages:       int64(cfg.Scan.MaxParallelPages),
		AmazonMaxParallelPages: int64(cfg.Scan.AmazonMaxParallelPages),
		MinPageDelay:           cfg.Scan.MinPageDelay,
		MaxPageDelay:           cfg.Scan.MaxPageDelay,
		ProxyAttemptsPerPage:   cfg.Scan.ProxyAttemptsPerPage,
		GlobalMinDiscount:      cfg.Scan.GlobalMinDiscount,
		DBBatchUpdateSize:      cfg.Scan.DBBatchUpdateSize,
		DisableOn404:           cfg.Scan.DisableOn404,
		Filters: scan.GlobalFilters{
			MinPrice:        cfg.Filters.GlobalMinPrice,
			MinRetailPrice:  cfg.Filters.MinRetailPrice,
			KidsLowPriceMax: cfg.Filters.KidsLowPriceMax,
			KidsKeywords:    cfg.Filters.KidsKeywords,
			KidsExcludeSKUs: cfg.Filters.KidsExcludeSKUs,
		},
	}, pipeline, parsers.DefaultRegistry, deltaDet, dealDet, proxies, database.ScanStore{}, rec, *logger)

	sched := scheduler.New(scheduler.Config{
		BaseInterval:     cfg.Scheduler.BaseScanInterval,
		NoDealsPenalty:   cfg.Scheduler.NoDealsPenalty,
		SuccessRateBoost: cfg.Scheduler.SuccessRateBoost,
		ErrorCooldowns:   errorCooldowns(cfg.Scheduler.ErrorCooldowns),
	}, tracker, *logger)

	deduper := dedupe.New(rdb, cfg.Alerts.CrossSourceTTL, cfg.Alerts.Aggregators, *logger)
	alertPipe := alerts.New(rdb, alerts.Config{
		DedupeTTL:   cfg.Alerts.DedupeTTL,
		CooldownTTL: cfg.Alerts.CooldownTTL,
	}, deduper, alerts.NewLogSink(*logger), rec, *logger)

	scanHandler := handlers.NewScanHandler(engine, sched, tracker, alertPipe, rdb, *logger)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	if cfg.Scheduler.Enabled {
		go runScheduler(schedCtx, cfg.Scheduler.Interval, engine, sched, alertPipe, logger)
	}

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(cfg.Server.InternalAPIKey))
	internal.Use(middleware.RateLimitMiddleware(middleware.ConfigForRPM(cfg.Server.RateLimitRPM)))
	{
		internal.GET("/health", handlers.HealthCheck)
		internal.GET("/status", scanHandler.Status)

		categories := internal.Group("/categories")
		{
			categories.GET("", handlers.ListCategories)
			categories.POST("", handlers.CreateCategory)
			categories.GET("/:categoryId", handlers.GetCategory)
			categories.PUT("/:categoryId", handlers.UpdateCategory)
			categories.POST("/:categoryId/toggle", handlers.ToggleCategory)
			categories.DELETE("/:categoryId", handlers.DeleteCategory)
		}

		proxyRoutes := internal.Group("/proxies")
		{
			proxyRoutes.GET("", handlers.ListProxies)
			proxyRoutes.POST("", handlers.CreateProxy)
			proxyRoutes.POST("/:proxyId/toggle", handlers.ToggleProxy)
		}

		exclusions := internal.Group("/exclusions")
		{
			exclusions.GET("", handlers.ListExclusions)
			exclusions.POST("", handlers.CreateExclusion)
			exclusions.DELETE("/:exclusionId", handlers.DeleteExclusion)
		}

		scans := internal.Group("/scans")
		{
			scans.POST("", scanHandler.TriggerScan)
			scans.GET("/jobs", scanHandler.ListJobs)
			scans.GET("/jobs/:jobId", scanHandler.GetJob)
			scans.GET("/schedule", scanHandler.PreviewSchedule)
			scans.GET("/results", scanHandler.LatestResults)
		}

		internal.GET("/export/deals", scanHandler.ExportDeals)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}

// runScheduler drives the continuous scan loop: every tick, the categories
// the scheduler considers due are scanned as one job.
func runScheduler(ctx context.Context, interval time.Duration, engine *scan.Engine, sched *scheduler.Scheduler, alertPipe *alerts.Pipeline, logger *zerolog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Scheduler loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Scheduler loop stopped")
			return
		case <-ticker.C:
		}

		categories, err := database.ListCategories(ctx, true)
		if err != nil {
			logger.Error().Err(err).Msg("Scheduler failed to list categories")
			continue
		}

		due := sched.Due(categories, time.Now())
		if len(due) == 0 {
			continue
		}
		logger.Info().Int("due", len(due)).Msg("Starting scheduled scan")

		job := &types.ScanJob{Kind: types.JobScheduled}
		_, err = engine.ScanMany(ctx, job, due, func(cat *types.Category, result *types.ScanResult) {
			if len(result.Deals) == 0 {
				return
			}
			if _, alertErr := alertPipe.ProcessBatch(ctx, result.Deals); alertErr != nil {
				logger.Warn().Err(alertErr).Str("category", cat.Name).Msg("Alert batch had failures")
			}
		})
		if err != nil {
			logger.Error().Err(err).Msg("Scheduled scan failed to start")
		}
	}
}

func errorCooldowns(table map[string]int) []scheduler.ErrorCooldown {
	if len(table) == 0 {
		return nil
	}
	cooldowns := make([]scheduler.ErrorCooldown, 0, len(table))
	for substring, seconds := range table {
		cooldowns = append(cooldowns, scheduler.ErrorCooldown{
			Substring: substring,
			Cooldown:  time.Duration(seconds) * time.Second,
		})
	}
	return cooldowns
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "scan-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if path == "/health" || path == "/metrics" {
			return
		}

		event := logger.Info()
		if c.Writer.Status() >= 500 {
			event = logger.Error()
		} else if c.Writer.Status() >= 400 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request")
	})
}
