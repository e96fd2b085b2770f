package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-toko-pay/internal/events"
)

type stubStore struct {
	last events.Draft
	err  error
}

func (s *stubStore) InsertDomainEvent(_ context.Context, d events.Draft) (events.Event, error) {
	s.last = d
	if s.err != nil {
		return events.Event{}, s.err
	}
	return events.Event{
		ID:          uuid.New(),
		Topic:       d.Topic,
		AggregateID: d.AggregateID,
		Payload:     d.Payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	event, err := bus.Emit(context.Background(), events.TopicOrderPaymentSettled, "7d0c", map[string]any{"serial": "A-1001"})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderPaymentSettled, store.last.Topic)
	require.Equal(t, "7d0c", store.last.AggregateID)
	require.JSONEq(t, `{"serial":"A-1001"}`, string(store.last.Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	ctx := context.Background()

	_, err := bus.Emit(ctx, " ", "a", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderPaymentSettled, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(ctx, events.TopicOrderPaymentSettled, "a", "{not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicOrderPaymentSettled, "a", nil)
	require.Error(t, err)
}

func TestEmitStoreFailureSkipsNotifiers(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{err: errors.New("db down")}, Notifiers: []events.Notifier{notifier}}

	_, err := bus.Emit(context.Background(), events.TopicOrderPaymentSettled, "a", nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, events.ErrNotify)
	require.Empty(t, notifier.events)
}

func TestEmitReportsNotifierFailureAfterPersisting(t *testing.T) {
	failing := &captureNotifier{err: errors.New("broker down")}
	healthy := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{failing, healthy}}

	event, err := bus.Emit(context.Background(), events.TopicOrderPaymentSettled, "a", nil)
	require.ErrorIs(t, err, events.ErrNotify)
	require.NotEqual(t, uuid.Nil, event.ID)
	require.Len(t, healthy.events, 1)
}

func TestKafkaNotifierKeysByAggregate(t *testing.T) {
	writer := &captureWriter{}
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{events.KafkaNotifier{Writer: writer}}}

	_, err := bus.Emit(context.Background(), events.TopicOrderPaymentSettled, "order-uuid", map[string]string{"serial": "A-1"})
	require.NoError(t, err)
	require.Len(t, writer.msgs, 1)
	require.Equal(t, "order-uuid", string(writer.msgs[0].Key))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &decoded))
	require.Equal(t, events.TopicOrderPaymentSettled, decoded.Topic)
	require.JSONEq(t, `{"serial":"A-1"}`, string(decoded.Payload))
}

func TestLogNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := events.LogNotifier{Logger: zerolog.New(&buf)}

	err := n.Notify(context.Background(), events.Event{ID: uuid.New(), Topic: "t", AggregateID: "a", Payload: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"topic":"t"`)
	require.Contains(t, buf.String(), `"payload":{"x":1}`)
}
