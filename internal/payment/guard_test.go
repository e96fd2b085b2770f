package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-toko-pay/internal/events"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
)

func TestPublishOnceConcurrent(t *testing.T) {
	pub := &countingPublisher{}
	guard, _ := newGuard(t, pub)
	o := sampleOrder()
	o.System = "pay-1"

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	publishedCount := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			published, err := guard.PublishOnce(context.Background(), o)
			if err != nil {
				t.Error(err)
				return
			}
			if published {
				mu.Lock()
				publishedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, pub.count())
	require.Equal(t, 1, publishedCount)
}

func TestPublishOnceRetriesAfterFailure(t *testing.T) {
	pub := &countingPublisher{err: errors.New("broker down")}
	guard, mr := newGuard(t, pub)
	o := sampleOrder()

	published, err := guard.PublishOnce(context.Background(), o)
	require.Error(t, err)
	require.False(t, published)
	require.False(t, mr.Exists("settled:"+testUUID))

	pub.err = nil
	published, err = guard.PublishOnce(context.Background(), o)
	require.NoError(t, err)
	require.True(t, published)
	require.True(t, mr.Exists("settled:"+testUUID))

	published, err = guard.PublishOnce(context.Background(), o)
	require.NoError(t, err)
	require.False(t, published)
	require.Equal(t, 1, pub.count())
}

type flakyMarkers struct {
	mu          sync.Mutex
	set         map[string]bool
	claimErrs   int
	releaseErr  error
	releaseCtxs []error
}

func (m *flakyMarkers) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErrs > 0 {
		m.claimErrs--
		return false, errors.New("redis: connection reset")
	}
	if m.set[id] {
		return false, nil
	}
	if m.set == nil {
		m.set = map[string]bool{}
	}
	m.set[id] = true
	return true, nil
}

func (m *flakyMarkers) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCtxs = append(m.releaseCtxs, ctx.Err())
	if m.releaseErr != nil {
		return m.releaseErr
	}
	delete(m.set, id)
	return nil
}

func TestPublishOnceMarkerStoreFailureNeverDoublePublishes(t *testing.T) {
	pub := &countingPublisher{}
	guard, _ := newGuard(t, pub)
	markers := &flakyMarkers{claimErrs: 1}
	guard.Markers = markers
	o := sampleOrder()

	published, err := guard.PublishOnce(context.Background(), o)
	require.ErrorContains(t, err, "connection reset")
	require.False(t, published)
	require.Zero(t, pub.count())

	for i := 0; i < 3; i++ {
		_, err = guard.PublishOnce(context.Background(), o)
		require.NoError(t, err)
	}
	require.Equal(t, 1, pub.count())
}

func TestPublishOnceSkipsWhenMarkerAlreadyClaimed(t *testing.T) {
	pub := &countingPublisher{}
	guard, mr := newGuard(t, pub)
	require.NoError(t, mr.Set("settled:"+testUUID, "2026-01-01T00:00:00Z"))

	published, err := guard.PublishOnce(context.Background(), sampleOrder())
	require.NoError(t, err)
	require.False(t, published)
	require.Zero(t, pub.count())
}

func TestPublishOnceReleasesClaimOnCanceledRequest(t *testing.T) {
	pub := &countingPublisher{err: context.Canceled}
	guard, _ := newGuard(t, pub)
	markers := &flakyMarkers{}
	guard.Markers = markers

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.onPublish = cancel

	_, err := guard.PublishOnce(ctx, sampleOrder())
	require.Error(t, err)
	require.Equal(t, []error{nil}, markers.releaseCtxs)
	require.False(t, markers.set[testUUID])
}

func TestPublishOnceReportsStuckClaim(t *testing.T) {
	pub := &countingPublisher{err: errors.New("insert failed")}
	guard, _ := newGuard(t, pub)
	guard.Markers = &flakyMarkers{releaseErr: errors.New("redis down")}

	published, err := guard.PublishOnce(context.Background(), sampleOrder())
	require.False(t, published)
	require.ErrorContains(t, err, "insert failed")
	require.ErrorContains(t, err, "release settlement marker")
}

type stubEmitter struct {
	err   error
	calls int
	last  payment.SettledPayload
	topic string
}

func (s *stubEmitter) Emit(_ context.Context, topic, _ string, payload any) (events.Event, error) {
	s.calls++
	s.topic = topic
	s.last = payload.(payment.SettledPayload)
	return events.Event{ID: uuid.New(), Topic: topic}, s.err
}

func TestBusPublisher(t *testing.T) {
	o := sampleOrder()
	o.System = "pay-1"

	em := &stubEmitter{}
	require.NoError(t, payment.BusPublisher{Events: em}.PublishSettled(context.Background(), o))
	require.Equal(t, events.TopicOrderPaymentSettled, em.topic)
	require.Equal(t, payment.SettledPayload{
		UUID:      testUUID,
		Serial:    "A-1001",
		PaymentID: "pay-1",
		TotalSum:  "500.00",
		Email:     "buyer@example.com",
	}, em.last)

	em.err = errors.Join(events.ErrNotify, errors.New("kafka down"))
	require.NoError(t, payment.BusPublisher{Events: em}.PublishSettled(context.Background(), o))

	em.err = fmt.Errorf("events: persist event: %w", events.ErrDuplicate)
	require.NoError(t, payment.BusPublisher{Events: em}.PublishSettled(context.Background(), o))

	em.err = errors.New("insert failed")
	require.Error(t, payment.BusPublisher{Events: em}.PublishSettled(context.Background(), o))
}
