package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// GatewayRequestTotal counts outbound payment gateway calls by operation and result.
	GatewayRequestTotal *prometheus.CounterVec
	// GatewayRequestDuration records gateway call latency in milliseconds.
	GatewayRequestDuration *prometheus.HistogramVec
	// PaymentRegistrationTotal counts payment registration outcomes.
	PaymentRegistrationTotal *prometheus.CounterVec
	// PaymentSettlementTotal counts reconciliation outcomes by source.
	PaymentSettlementTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway notifications by outcome.
	PaymentWebhookTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		GatewayRequestTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Count of payment gateway requests by operation and result.",
		}, []string{"operation", "result"}))
		GatewayRequestDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Latency of payment gateway requests in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"operation"}))
		PaymentRegistrationTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_registration_total",
			Help:      "Count of payment registration outcomes.",
		}, []string{"result"}))
		PaymentSettlementTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_settlement_total",
			Help:      "Count of settlement reconciliation outcomes.",
		}, []string{"source", "outcome"}))
		PaymentWebhookTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment gateway notifications by outcome.",
		}, []string{"result"}))
	})
}
