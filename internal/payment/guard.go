package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/events"
	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// Locker runs fn inside an exclusive section named by key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Markers records which orders already had their settlement published. Claim
// sets the marker only if it is unset and reports whether this call set it.
type Markers interface {
	Claim(ctx context.Context, orderUUID string) (bool, error)
	Release(ctx context.Context, orderUUID string) error
}

// Publisher emits the settlement event for an order. A returned error means
// the event was not recorded.
type Publisher interface {
	PublishSettled(ctx context.Context, o *order.Order) error
}

// Guard makes settlement publication happen at most once per order.
type Guard struct {
	Locker    Locker
	Markers   Markers
	Publisher Publisher
	Logger    zerolog.Logger
}

// PublishOnce publishes the settlement event unless it was already published.
// The marker is claimed before publishing and released again when the
// publish fails, so a failed attempt can be repeated later.
func (g *Guard) PublishOnce(ctx context.Context, o *order.Order) (bool, error) {
	if o == nil || o.UUID == "" {
		return false, order.ErrNotFound
	}
	published := false
	err := g.Locker.WithLock(ctx, o.UUID, func(ctx context.Context) error {
		claimed, err := g.Markers.Claim(ctx, o.UUID)
		if err != nil {
			return fmt.Errorf("claim settlement marker: %w", err)
		}
		if !claimed {
			return nil
		}
		if err := g.Publisher.PublishSettled(ctx, o); err != nil {
			pubErr := fmt.Errorf("publish settlement: %w", err)
			if relErr := g.Markers.Release(context.WithoutCancel(ctx), o.UUID); relErr != nil {
				g.Logger.Error().Err(relErr).Str("order_uuid", o.UUID).Msg("settlement marker left claimed after failed publish")
				return errors.Join(pubErr, fmt.Errorf("release settlement marker: %w", relErr))
			}
			return pubErr
		}
		published = true
		return nil
	})
	return published, err
}

// RedisMarkers stores settlement markers as plain Redis keys.
type RedisMarkers struct {
	R      *redis.Client
	Prefix string
}

func (m RedisMarkers) key(orderUUID string) string {
	if m.Prefix == "" {
		return "settled:" + orderUUID
	}
	return m.Prefix + orderUUID
}

// Claim implements Markers with SET NX. Markers never expire.
func (m RedisMarkers) Claim(ctx context.Context, orderUUID string) (bool, error) {
	return m.R.SetNX(ctx, m.key(orderUUID), time.Now().UTC().Format(time.RFC3339), 0).Result()
}

// Release implements Markers.
func (m RedisMarkers) Release(ctx context.Context, orderUUID string) error {
	return m.R.Del(ctx, m.key(orderUUID)).Err()
}

// Emitter is satisfied by *events.Bus.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// SettledPayload is the body of the settlement event.
type SettledPayload struct {
	UUID      string `json:"uuid"`
	Serial    string `json:"serial"`
	PaymentID string `json:"paymentId"`
	TotalSum  string `json:"totalSum"`
	Email     string `json:"email,omitempty"`
}

// BusPublisher publishes settlement events on the domain event bus. A
// notifier failure after the event was persisted does not count as a failed
// publish, and neither does a settlement event the store already holds.
type BusPublisher struct {
	Events Emitter
	Logger zerolog.Logger
}

// PublishSettled implements Publisher.
func (p BusPublisher) PublishSettled(ctx context.Context, o *order.Order) error {
	ev, err := p.Events.Emit(ctx, events.TopicOrderPaymentSettled, o.UUID, SettledPayload{
		UUID:      o.UUID,
		Serial:    o.Serial,
		PaymentID: o.System,
		TotalSum:  o.TotalSum.StringFixed(2),
		Email:     o.Email,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, events.ErrDuplicate):
		p.Logger.Warn().Str("order_uuid", o.UUID).Msg("settlement event already recorded")
		return nil
	case errors.Is(err, events.ErrNotify):
		p.Logger.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("settlement event persisted, notifier failed")
		return nil
	default:
		return err
	}
}
