package obs

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestInitTracerExporters(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "test", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	shutdown, err = InitTracer(context.Background(), TracingConfig{ServiceName: "test", Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported tracing exporter")
	require.NotNil(t, shutdown)
}

func TestSQLVerbAndClip(t *testing.T) {
	require.Equal(t, "SELECT", sqlVerb("  select uuid from orders"))
	require.Equal(t, "query", sqlVerb("   "))
	require.Equal(t, "abc", clip("abc", 3))
	require.Equal(t, "ab...", clip("abc", 2))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, ParseBucketsCSV(" "))
	require.Equal(t, []float64{5, 25.5}, ParseBucketsCSV("5, x, -1, 25.5"))
}

func TestNewHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewHTTPMetrics("tokopay", []float64{100, 10}, reg)
	second := NewHTTPMetrics("tokopay", nil, reg)
	require.Same(t, first.ReqTotal, second.ReqTotal)
	require.Same(t, first.ReqDur, second.ReqDur)
}
