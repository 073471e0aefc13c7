package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bloomline/backoffice/internal/alert"
	"github.com/bloomline/backoffice/internal/api"
	"github.com/bloomline/backoffice/internal/circuitbreaker"
	"github.com/bloomline/backoffice/internal/config"
	"github.com/bloomline/backoffice/internal/db"
	"github.com/bloomline/backoffice/internal/feed"
	"github.com/bloomline/backoffice/internal/health"
	"github.com/bloomline/backoffice/internal/metrics"
	"github.com/bloomline/backoffice/internal/notify"
	"github.com/bloomline/backoffice/internal/observ"
	"github.com/bloomline/backoffice/internal/platform"
	"github.com/bloomline/backoffice/internal/queue"
	"github.com/bloomline/backoffice/internal/redis"
	"github.com/bloomline/backoffice/internal/settings"
	"github.com/bloomline/backoffice/internal/sound"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger("alertd", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting backoffice alertd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("feed_channel", cfg.FeedChannel),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	orders := db.NewOrderStore(database, logger)
	records := db.NewNotificationStore(database, logger)

	// Redis carries the settings-changed signal and the API rate limiter.
	// The pipeline runs without it; only those two features degrade.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, settings watch and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  300,             // 300 requests
			Window: 1 * time.Minute, // per minute per client IP
		})
		defer redisClient.Close()
	}

	// Settings: load the persisted document, then serve it through the
	// lock-free provider. The watcher reloads on change signals.
	settingsStore := settings.NewStore(database, redisClient, logger)
	current, err := settingsStore.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert settings: %w", err)
	}
	provider := settings.NewProvider(current)

	// Platform surfaces. The daemon runs headless, so playback and vibration
	// log their pulses; a desktop shell swaps in real devices here.
	player := platform.NewLogPlayer(logger)
	vibrator := platform.NewLogVibrator(logger)
	perms := platform.StaticPermissions{State: platform.PermissionGranted}

	bank := sound.NewBank(provider, player, logger)

	// Popup surfaces, each behind its own circuit breaker.
	var notifiers []notify.Notifier
	if cfg.PopupPhone != "" {
		snsNotifier, err := notify.NewSNSNotifier(ctx, notify.SNSConfig{
			Region: cfg.AWSRegion,
			Phone:  cfg.PopupPhone,
		}, logger)
		if err != nil {
			logger.Warn("SMS popup surface unavailable", zap.Error(err))
		} else {
			notifiers = append(notifiers, protect(snsNotifier, logger))
		}
	}
	if cfg.PopupToEmail != "" {
		sesNotifier, err := notify.NewSESNotifier(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.PopupFromEmail,
			ToEmail:   cfg.PopupToEmail,
		}, logger)
		if err != nil {
			logger.Warn("email popup surface unavailable", zap.Error(err))
		} else {
			notifiers = append(notifiers, protect(sesNotifier, logger))
		}
	}
	if cfg.PopupWebhookURL != "" {
		webhookNotifier := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL: cfg.PopupWebhookURL,
		}, logger)
		notifiers = append(notifiers, protect(webhookNotifier, logger))
	}

	var popup alert.Popup
	if len(notifiers) > 0 {
		popup = notify.NewMultiNotifier(logger, notifiers...)
	} else {
		popup = notify.NewLogNotifier(logger)
	}

	// SQS alert event export
	var exporter alert.Exporter
	if cfg.SQSQueueURL != "" {
		producer, err := queue.NewProducer(ctx, queue.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs exporter unavailable, alert events will not be exported",
				zap.Error(err),
			)
		} else {
			exporter = producer
		}
	}

	coordinator := alert.NewCoordinator(records, bank, player, vibrator, provider, popup, exporter, logger)

	// Change feed subscription
	listener := feed.NewPGListener(database.Pool(), cfg.FeedChannel, logger)
	manager := feed.New(listener, orders, feed.Config{}, logger)
	manager.OnEvent(coordinator.OnOrderEvent)

	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	go manager.Run(feedCtx)

	// Health monitor watches subscription staleness, suspended audio and the
	// notification permission.
	monitor := health.New(manager, player, perms, health.Config{}, logger)
	go monitor.Run(feedCtx)

	// Settings watcher reloads on pub/sub change signals.
	if redisClient != nil {
		watcher := settings.NewWatcher(redisClient, settingsStore.Load, logger)
		go watcher.Run(feedCtx, func(s *settings.Settings) {
			provider.Replace(s)
			logger.Info("alert settings reloaded")
		})
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, coordinator, records, manager, bank, settingsStore, provider)
	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Routes(r)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server. No WriteTimeout: /v1/alerts/stream is a long-lived
	// SSE response.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		feedCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// protect wraps a popup surface in its own circuit breaker so one failing
// channel cannot stall the others.
func protect(n notify.Notifier, logger *zap.Logger) notify.Notifier {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                "popup-" + n.Channel(),
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}, logger)
	return notify.NewProtectedNotifier(n, breaker, logger)
}
