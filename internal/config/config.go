package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	SiteHomepage string

	YooKassaBaseURL     string
	YooKassaShopID      string
	YooKassaSecret      string
	YooKassaTaxSystem   int
	YooKassaVatCode     int
	YooKassaDescription string
	YooKassaLocale      string
	YooKassaTimeout     time.Duration

	CircuitGatewayMinReq      int
	CircuitGatewayFailureRate float64
	CircuitGatewayOpenFor     time.Duration

	IdempotencyTTL    time.Duration
	SettlementLockTTL time.Duration
	LockRetryBackoff  time.Duration
	WebhookReplayTTL  time.Duration
	ReturnRateLimit   string

	ReconcileDelay    time.Duration
	ReconcileMaxRetry int
	WorkerConcurrency int

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		SiteHomepage: strings.TrimSpace(k.String("SITE_HOMEPAGE")),

		YooKassaBaseURL:     valueOrDefault(k.String("YOOKASSA_BASE_URL"), "https://api.yookassa.ru/v3/"),
		YooKassaShopID:      strings.TrimSpace(k.String("YOOKASSA_SHOP_ID")),
		YooKassaSecret:      strings.TrimSpace(k.String("YOOKASSA_SECRET")),
		YooKassaTaxSystem:   parseInt(k.String("YOOKASSA_TAX_SYSTEM"), 1),
		YooKassaVatCode:     parseInt(k.String("YOOKASSA_VAT_CODE"), 1),
		YooKassaDescription: valueOrDefault(k.String("YOOKASSA_DESCRIPTION"), "Оплата заказа #{serial}"),
		YooKassaLocale:      valueOrDefault(k.String("YOOKASSA_LOCALE"), "ru_RU"),
		YooKassaTimeout:     parseDuration(k.String("YOOKASSA_TIMEOUT"), "15s"),

		CircuitGatewayMinReq:      parseInt(k.String("CIRCUIT_GATEWAY_MIN_REQ"), 10),
		CircuitGatewayFailureRate: parseFloat(k.String("CIRCUIT_GATEWAY_FAILURE_RATE"), 0.5),
		CircuitGatewayOpenFor:     parseDuration(k.String("CIRCUIT_GATEWAY_OPEN_FOR"), "30s"),

		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SettlementLockTTL: parseDuration(k.String("SETTLEMENT_LOCK_TTL"), "30s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		WebhookReplayTTL:  parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		ReturnRateLimit:   valueOrDefault(k.String("RETURN_RATE_LIMIT"), "60-M"),

		ReconcileDelay:    parseDuration(k.String("RECONCILE_DELAY"), "1m"),
		ReconcileMaxRetry: parseInt(k.String("RECONCILE_MAX_RETRY"), 20),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),

		KafkaBrokers: splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:   valueOrDefault(k.String("KAFKA_TOPIC"), "order-payment-settled"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SiteHomepage == "" {
		return nil, errors.New("SITE_HOMEPAGE is required")
	}
	if cfg.YooKassaShopID == "" || cfg.YooKassaSecret == "" {
		return nil, errors.New("YOOKASSA_SHOP_ID and YOOKASSA_SECRET are required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// KafkaEnabled reports whether settlement events should also be written to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
