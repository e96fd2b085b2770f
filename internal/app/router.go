package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/backend-toko-pay/internal/common"
	"github.com/noah-isme/backend-toko-pay/internal/health"
	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
	"github.com/noah-isme/backend-toko-pay/internal/ratelimit"
	"github.com/noah-isme/backend-toko-pay/internal/security"
)

// Dependencies enumerates everything the HTTP surface is built from.
type Dependencies struct {
	Logger       zerolog.Logger
	Health       health.Handler
	Payments     *payment.Handler
	Webhook      payment.Webhook
	Idempotency  common.Idem
	Limiter      *limiter.Limiter
	HTTPMetrics  *obs.HTTPMetrics
	Tracing      bool
	ServeMetrics bool
	CORSOrigins  []string
	Headers      security.Headers
	MaxBodyBytes int64
}

// NewRouter wires middleware and routes.
func NewRouter(d Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(d.Headers.Middleware)

	if d.ServeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	limited := ratelimit.Handler{
		Limiter: d.Limiter,
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}.Middleware

	r.With(limited).Get(payment.ReturnPath, d.Payments.Return)
	r.With(limited).Post(payment.ReturnPath, d.Payments.Return)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins(d.CORSOrigins),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", common.IdempotencyHeader},
			MaxAge:         300,
		}))
		v.Use(security.BodyLimit{Max: d.MaxBodyBytes}.Middleware)
		v.Route("/orders/{serial}/payment", func(p chi.Router) {
			p.With(d.Idempotency.Middleware).Post("/", d.Payments.Register)
			p.With(limited).Get("/status", d.Payments.Status)
		})
		v.Post("/webhooks/yookassa", d.Webhook.Handle)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
