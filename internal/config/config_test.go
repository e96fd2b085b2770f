package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-toko-pay/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":     "postgres://localhost/toko",
		"REDIS_URL":        "redis://localhost:6379/0",
		"SITE_HOMEPAGE":    "https://shop.example/",
		"YOOKASSA_SHOP_ID": "100500",
		"YOOKASSA_SECRET":  "test_secret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "https://api.yookassa.ru/v3/", cfg.YooKassaBaseURL)
	require.Equal(t, 15*time.Second, cfg.YooKassaTimeout)
	require.Equal(t, 1, cfg.YooKassaTaxSystem)
	require.Equal(t, 1, cfg.YooKassaVatCode)
	require.Equal(t, "Оплата заказа #{serial}", cfg.YooKassaDescription)
	require.Equal(t, "ru_RU", cfg.YooKassaLocale)
	require.Equal(t, "60-M", cfg.ReturnRateLimit)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.False(t, cfg.KafkaEnabled())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["YOOKASSA_TAX_SYSTEM"] = "3"
	env["YOOKASSA_VAT_CODE"] = "4"
	env["YOOKASSA_TIMEOUT"] = "5s"
	env["KAFKA_BROKERS"] = "kafka-1:9092, kafka-2:9092"
	env["PORT"] = ":9000"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.YooKassaTaxSystem)
	require.Equal(t, 4, cfg.YooKassaVatCode)
	require.Equal(t, 5*time.Second, cfg.YooKassaTimeout)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.Equal(t, ":9000", cfg.HTTPAddr())
}

func TestLoadRequiresGatewayCredentials(t *testing.T) {
	env := baseEnv()
	env["YOOKASSA_SECRET"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}
