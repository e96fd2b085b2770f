package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/backend-toko-pay/internal/events"
)

const insertDomainEvent = `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1::uuid, $2, $3, $4)
RETURNING occurred_at`

const uniqueViolation = "23505"

// Events persists domain events to the domain_events table.
type Events struct {
	DB DBTX
}

// InsertDomainEvent implements events.EventStore.
func (r Events) InsertDomainEvent(ctx context.Context, d events.Draft) (events.Event, error) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       d.Topic,
		AggregateID: d.AggregateID,
		Payload:     d.Payload,
	}
	if err := r.DB.QueryRow(ctx, insertDomainEvent, ev.ID.String(), d.Topic, d.AggregateID, d.Payload).Scan(&ev.OccurredAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return events.Event{}, fmt.Errorf("insert domain event %s/%s: %w", d.Topic, d.AggregateID, events.ErrDuplicate)
		}
		return events.Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
