package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/config"
	"github.com/noah-isme/backend-toko-pay/internal/events"
	"github.com/noah-isme/backend-toko-pay/internal/lock"
	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
	"github.com/noah-isme/backend-toko-pay/internal/repo"
	"github.com/noah-isme/backend-toko-pay/internal/resilience"
)

const maxRetryDelay = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "tokopay"), nil)
	resilience.RegisterMetrics(nil)

	ctx := context.Background()
	pool := mustInitDatabase(ctx, cfg.DatabaseURL, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg.RedisURL, logger)
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

	gateway := payment.NewClient(payment.ClientConfig{
		BaseURL: cfg.YooKassaBaseURL,
		ShopID:  cfg.YooKassaShopID,
		Secret:  cfg.YooKassaSecret,
		Timeout: cfg.YooKassaTimeout,
		Breaker: resilience.NewBreaker(cfg.CircuitGatewayMinReq, cfg.CircuitGatewayFailureRate, cfg.CircuitGatewayOpenFor).
			WithTarget("yookassa").
			WithLogger(logger),
		Logger: logger.With().Str("component", "gateway").Logger(),
	})
	reconciler := &payment.Reconciler{
		Orders:  orders,
		Gateway: gateway,
		Guard: &payment.Guard{
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
		},
		Logger: logger,
	}

	asynqRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}
	srv := asynq.NewServer(asynqRedis, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return min(resilience.Backoff(cfg.ReconcileDelay, n+1, 0.2), maxRetryDelay)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			evt := logger.Warn()
			if retried >= maxRetry {
				evt = logger.Error()
			}
			evt.Err(err).Str("type", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
		Logger:   asynqLogger{logger: logger},
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(payment.TypeReconcile, payment.ReconcileTaskHandler{
		Orders:     orders,
		Reconciler: reconciler,
		Logger:     logger,
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

func mustInitDatabase(ctx context.Context, dsn string, logger zerolog.Logger) *pgxpool.Pool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, url string, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
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
