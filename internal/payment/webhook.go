package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/common"
	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/order"
	"github.com/noah-isme/backend-toko-pay/internal/security"
)

const maxWebhookBytes = 64 << 10

// Notification is the gateway push notification body.
type Notification struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}

// Webhook handles gateway push notifications. The body is not trusted: it
// only names the order, the payment status is re-read from the gateway.
type Webhook struct {
	Orders     order.Reader
	Reconciler *Reconciler
	Replay     *redis.Client
	ReplayTTL  time.Duration
	Logger     zerolog.Logger
}

// Handle processes a notification.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(result).Inc()
		}
	}()
	if h.Orders == nil || h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		result = "invalid"
		if security.TooLarge(err) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "notification too large", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil || n.Type != "notification" || n.Object.ID == "" || n.Object.Metadata.Serial == "" {
		result = "invalid"
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "unrecognised notification", nil)
		return
	}
	logger := h.Logger.With().Str("event", n.Event).Str("serial", n.Object.Metadata.Serial).Str("payment_id", n.Object.ID).Logger()

	ctx := r.Context()
	replayKey := ""
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		replayKey = "wh:yookassa:" + common.Fingerprint(string(body))
		ok, err := h.Replay.SetNX(ctx, replayKey, "1", ttl).Result()
		if err != nil {
			logger.Error().Err(err).Msg("webhook replay store")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !ok {
			result = "replay"
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate notification", nil)
			return
		}
	}
	release := func() {
		if replayKey != "" {
			_ = h.Replay.Del(context.Background(), replayKey).Err()
		}
	}

	o, err := h.Orders.Read(ctx, n.Object.Metadata.Serial)
	if err != nil {
		release()
		if errors.Is(err, order.ErrNotFound) {
			result = "unknown_order"
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		logger.Error().Err(err).Msg("read order for notification")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if strings.TrimSpace(o.System) != n.Object.ID {
		release()
		result = "mismatch"
		logger.Warn().Str("order_system", o.System).Msg("notification does not match order payment")
		common.JSONError(w, http.StatusBadRequest, "PAYMENT_MISMATCH", "payment does not belong to order", nil)
		return
	}

	outcome, err := h.Reconciler.Reconcile(WithSource(ctx, SourceWebhook), o)
	if err != nil {
		release()
		logger.Warn().Err(err).Msg("reconcile notification")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_UNAVAILABLE", "payment gateway unavailable", nil)
		return
	}
	result = string(outcome)
	common.JSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
