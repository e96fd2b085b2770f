package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/app"
	"github.com/noah-isme/backend-toko-pay/internal/common"
	"github.com/noah-isme/backend-toko-pay/internal/config"
	"github.com/noah-isme/backend-toko-pay/internal/events"
	"github.com/noah-isme/backend-toko-pay/internal/health"
	"github.com/noah-isme/backend-toko-pay/internal/lock"
	"github.com/noah-isme/backend-toko-pay/internal/migrate"
	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
	"github.com/noah-isme/backend-toko-pay/internal/ratelimit"
	"github.com/noah-isme/backend-toko-pay/internal/repo"
	"github.com/noah-isme/backend-toko-pay/internal/resilience"
	"github.com/noah-isme/backend-toko-pay/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "tokopay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.RegisterMetrics(nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-pay-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	settings := payment.Settings{
		ShopID:        cfg.YooKassaShopID,
		Secret:        cfg.YooKassaSecret,
		TaxSystemCode: cfg.YooKassaTaxSystem,
		VatCode:       cfg.YooKassaVatCode,
		Description:   cfg.YooKassaDescription,
		Homepage:      cfg.SiteHomepage,
		Locale:        cfg.YooKassaLocale,
	}
	if err := settings.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid payment settings")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		runMigrations(cfg.DatabaseURL, logger)
	}

	pool := mustInitDatabase(ctx, cfg.DatabaseURL, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg.RedisURL, metricsEnabled, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	orders := repo.Orders{DB: pool}

	notifiers := []events.Notifier{events.LogNotifier{Logger: logger}}
	if cfg.KafkaEnabled() {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		notifiers = append(notifiers, events.KafkaNotifier{Writer: writer})
	}
	bus := &events.Bus{Store: repo.Events{DB: pool}, Notifiers: notifiers}

	breaker := resilience.NewBreaker(cfg.CircuitGatewayMinReq, cfg.CircuitGatewayFailureRate, cfg.CircuitGatewayOpenFor).
		WithTarget("yookassa").
		WithLogger(logger)
	gateway := payment.NewClient(payment.ClientConfig{
		BaseURL: cfg.YooKassaBaseURL,
		ShopID:  cfg.YooKassaShopID,
		Secret:  cfg.YooKassaSecret,
		Timeout: cfg.YooKassaTimeout,
		Breaker: breaker,
		Logger:  logger.With().Str("component", "gateway").Logger(),
	})

	asynqRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	taskClient := asynq.NewClient(asynqRedis)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	guard := &payment.Guard{
		Locker: lock.Locker{
			R:            redisClient,
			Prefix:       "lock:order:",
			TTL:          cfg.SettlementLockTTL,
			RetryBackoff: cfg.LockRetryBackoff,
			Logger:       logger,
		},
		Markers:   payment.RedisMarkers{R: redisClient},
		Publisher: payment.BusPublisher{Events: bus, Logger: logger},
		Logger:    logger,
	}
	reconciler := &payment.Reconciler{
		Orders:  orders,
		Gateway: gateway,
		Guard:   guard,
		Deferrer: payment.AsynqDeferrer{
			Client:   taskClient,
			Delay:    cfg.ReconcileDelay,
			MaxRetry: cfg.ReconcileMaxRetry,
		},
		Logger: logger,
	}

	limiterStore, err := ratelimit.NewRedisStore(redisClient, "ratelimit:")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	returnLimiter, err := ratelimit.New(limiterStore, cfg.ReturnRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	router := app.NewRouter(app.Dependencies{
		Logger: logger,
		Health: health.Handler{
			Checker:      health.Deps{DB: pool, Redis: redisClient},
			DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
			RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		},
		Payments: &payment.Handler{
			Orders: orders,
			Registrar: &payment.Registrar{
				Gateway:  gateway,
				Orders:   orders,
				Settings: settings,
				Logger:   logger,
			},
			Gateway:    gateway,
			Reconciler: reconciler,
			Logger:     logger,
		},
		Webhook: payment.Webhook{
			Orders:     orders,
			Reconciler: reconciler,
			Replay:     redisClient,
			ReplayTTL:  cfg.WebhookReplayTTL,
			Logger:     logger,
		},
		Idempotency:  common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		Limiter:      returnLimiter,
		HTTPMetrics:  httpMetrics,
		Tracing:      tracingEnabled,
		ServeMetrics: metricsEnabled,
		CORSOrigins:  cfg.CORSAllowedOrigins,
		Headers: security.Headers{
			HSTS:                  cfg.AppEnv == "production",
			HSTSIncludeSubdomains: true,
		},
		MaxBodyBytes: int64(envInt("HTTP_MAX_BODY_BYTES", 1<<20)),
	})
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		router.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func runMigrations(dsn string, logger zerolog.Logger) {
	m, err := migrate.New(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrations")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrations")
		}
	}()
	if err := migrate.Up(m); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied")
}

func mustInitDatabase(ctx context.Context, dsn string, logger zerolog.Logger) *pgxpool.Pool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-pay-api"

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle("/"+name, pprof.Handler(name))
	}
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
