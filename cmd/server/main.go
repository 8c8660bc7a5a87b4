package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/visitor-beacon/internal/activity"
	"github.com/sdko-org/visitor-beacon/internal/config"
	"github.com/sdko-org/visitor-beacon/internal/database"
	"github.com/sdko-org/visitor-beacon/internal/dedup"
	"github.com/sdko-org/visitor-beacon/internal/enrich"
	"github.com/sdko-org/visitor-beacon/internal/handlers"
	httpserver "github.com/sdko-org/visitor-beacon/internal/http"
	"github.com/sdko-org/visitor-beacon/internal/ingest"
	"github.com/sdko-org/visitor-beacon/internal/logging"
	"github.com/sdko-org/visitor-beacon/internal/metrics"
	"github.com/sdko-org/visitor-beacon/internal/notify"
	"github.com/sdko-org/visitor-beacon/internal/realtime"
	"github.com/sdko-org/visitor-beacon/internal/sessions"
	"github.com/sdko-org/visitor-beacon/internal/storage"
	"github.com/sdko-org/visitor-beacon/internal/tasks"
	"github.com/sdko-org/visitor-beacon/internal/tenant"
	"github.com/sdko-org/visitor-beacon/internal/usage"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(ctx, logger, database.PostgresConfig{
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPassword,
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		DBName:          cfg.PostgresDatabase,
		SSLMode:         cfg.PostgresSSLMode,
		ConnectAttempts: cfg.DBConnectRetries,
		RetryDelay:      cfg.DBRetryDelay,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Fatal("Failed to access database handle")
	}
	defer sqlDB.Close()

	clock := quartz.NewReal()
	m := metrics.New()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis is not reachable yet")
		}
	}

	var dedupStore dedup.Store = dedup.NewMemoryStore(clock, cfg.DedupMaxEntries, cfg.DedupStaleAfter)
	if cfg.DedupBackend == "redis" {
		dedupStore = dedup.NewRedisStore(redisClient, clock)
	}

	var publisher realtime.Publisher = realtime.NewHub(logger, 64)
	if redisClient != nil {
		publisher = realtime.NewRedisPublisher(redisClient)
	}

	queue := tasks.NewQueue(logger, cfg.TaskWorkers, cfg.TaskQueueSize, cfg.TaskTimeout)
	queue.OnDrop(m.TaskDropped)
	defer queue.Close()

	var archive storage.Storage
	if cfg.ArchiveEnabled() {
		s3Storage, err := storage.NewS3Storage(storage.S3ConfigFrom(cfg))
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize archive storage")
		}
		archive = s3Storage
	}

	var cityReader enrich.CityReader
	mmdb, err := enrich.OpenMMDB(cfg.GeoIPDBPath)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.GeoIPDBPath).Warn("GeoIP database unavailable, continuing without it")
	} else if mmdb != nil {
		defer mmdb.Close()
		cityReader = mmdb
	}
	geoAPI := enrich.NewAPIClient(logger, clock, enrich.APIConfig{
		URL:     cfg.GeoIPAPIURL,
		Key:     cfg.GeoIPAPIKey,
		Timeout: cfg.GeoIPAPITimeout,
	})

	aggregator := usage.NewAggregator(db, &usage.FallbackIncrementer{
		Primary:  usage.NewAtomicIncrementer(db),
		Fallback: usage.NewReadWriteIncrementer(db),
		Log:      logger.WithField("component", "usage_counter"),
	}, clock, cfg.StoreTimeout)

	notifier := notify.NewService(logger, db, publisher, clock)
	alerter := &notify.Alerter{Service: notifier, Tasks: queue}

	activityLog := activity.NewLog(logger, db, queue, publisher, clock, activity.Options{
		Cap:     cfg.ActivityLogCap,
		Timeout: cfg.StoreTimeout,
		Archive: archive,
	})

	pipeline := ingest.NewPipeline(logger, ingest.Deps{
		Dedup:     dedupStore,
		Tenants:   tenant.NewResolver(db, cfg.StoreTimeout),
		Quota:     usage.NewEnforcer(aggregator, alerter),
		Usage:     aggregator,
		Enricher:  enrich.NewEnricher(logger, cityReader, geoAPI),
		Sessions:  sessions.NewRecorder(db, clock, cfg.StoreTimeout),
		Activity:  activityLog,
		Publisher: publisher,
		Tasks:     queue,
		Alerter:   alerter,
		Clock:     clock,
		Observer:  m,
	}, ingest.Options{
		BeaconTTL:   cfg.DedupBeaconTTL,
		InternalTTL: cfg.DedupInternalTTL,
	})

	reaper := sessions.NewReaper(logger, db, clock, cfg.SessionIdleTimeout)
	go reaper.Start(ctx)

	limiter := handlers.NewRateLimiter(logger, clock, cfg.RateLimit, cfg.RateLimitWindow)
	go limiter.Start(ctx)

	r := mux.NewRouter()
	r.Use(handlers.RequestIDMiddleware)
	r.Use(handlers.LoggingMiddleware(logger, m))
	handlers.RegisterRoutes(r, handlers.RouteDeps{
		Handler: handlers.NewHandler(logger, pipeline, activityLog, notifier, m, sqlDB.PingContext),
		Auth:    handlers.NewAuth(cfg.JWTSecret),
		Limiter: limiter,
		Metrics: m,
	})

	logger.WithFields(logrus.Fields{
		"http_addr":     cfg.HTTPAddr,
		"https_addr":    cfg.HTTPSAddr,
		"dedup_backend": cfg.DedupBackend,
		"redis":         redisClient != nil,
		"archive":       cfg.ArchiveEnabled(),
	}).Info("Starting visitor beacon")

	if err := httpserver.New(logger, r, cfg.HTTPAddr, cfg.HTTPSAddr).Run(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		stop()
	}
	logger.Info("Draining background tasks")
}
