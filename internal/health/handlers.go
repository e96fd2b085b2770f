package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-toko-pay/internal/common"
)

var draining atomic.Bool

// SetReady flips readiness. Passing false makes Ready answer 503 while the
// server drains in-flight requests during shutdown.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps probes Postgres and Redis.
type Deps struct {
	DB    Pinger
	Redis *redis.Client
}

// PingDB implements Checker.
func (d Deps) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements Checker.
func (d Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Handler serves the liveness and readiness probes.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live answers 200 as long as the process can serve HTTP.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready answers 200 only when Postgres and Redis respond within their
// timeouts. The body lists each dependency as "ok" or the probe error.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	switch {
	case draining.Load():
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	case h.Checker == nil:
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "dependencies unavailable", nil)
		return
	}

	report := map[string]string{
		"db":    probe(h.Checker.PingDB(r.Context(), orDefault(h.DBTimeout, 500*time.Millisecond))),
		"redis": probe(h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, 300*time.Millisecond))),
	}
	status := http.StatusOK
	for _, v := range report {
		if v != "ok" {
			status = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, status, report)
}

func probe(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
