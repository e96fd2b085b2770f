package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-toko-pay/internal/lock"
	"github.com/noah-isme/backend-toko-pay/internal/order"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
	"github.com/noah-isme/backend-toko-pay/internal/resilience"
)

const (
	testShopID = "100500"
	testSecret = "test_secret"
	testUUID   = "0b6c9f5e-5d1a-4c55-9c7e-2d8f0a1e3b44"
)

func testSettings() payment.Settings {
	return payment.Settings{
		ShopID:        testShopID,
		Secret:        testSecret,
		TaxSystemCode: 2,
		VatCode:       4,
		Description:   "Оплата заказа #{serial}",
		Homepage:      "https://shop.example/",
		Locale:        "ru_RU",
	}
}

func sampleOrder() *order.Order {
	return &order.Order{
		UUID:     testUUID,
		Serial:   "A-1001",
		Email:    "buyer@example.com",
		Phone:    "+79990001122",
		Delivery: order.Delivery{Client: "Ivan Petrov"},
		Products: []order.LineItem{
			{
				Title:      "Teapot",
				UnitPrice:  decimal.RequireFromString("250.00"),
				Quantity:   decimal.NewFromInt(2),
				TotalPrice: decimal.RequireFromString("500.00"),
			},
			{
				Title:      "Gift card",
				UnitPrice:  decimal.Zero,
				Quantity:   decimal.NewFromInt(1),
				TotalPrice: decimal.Zero,
			},
		},
		TotalSum: decimal.RequireFromString("500.00"),
		Status:   "new",
	}
}

// memOrders is an in-memory order.Store with the same once-only system
// semantics as the Postgres store.
type memOrders struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	readErr   error
	updateErr error
	updates   int
}

func newMemOrders(orders ...*order.Order) *memOrders {
	m := &memOrders{orders: map[string]*order.Order{}}
	for _, o := range orders {
		cp := *o
		m.orders[o.Serial] = &cp
	}
	return m
}

func (m *memOrders) Read(_ context.Context, serial string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	o, ok := m.orders[serial]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateSystem(_ context.Context, o *order.Order, system string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.orders[o.Serial]
	if !ok {
		return order.ErrNotFound
	}
	if stored.System != "" {
		return order.ErrAlreadyRegistered
	}
	stored.System = system
	m.updates++
	return nil
}

func (m *memOrders) system(serial string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[serial].System
}

// countingPublisher counts settlement publications.
type countingPublisher struct {
	n         int32
	err       error
	onPublish func()
}

func (p *countingPublisher) PublishSettled(context.Context, *order.Order) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	if p.err != nil {
		return p.err
	}
	atomic.AddInt32(&p.n, 1)
	return nil
}

func (p *countingPublisher) count() int {
	return int(atomic.LoadInt32(&p.n))
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func newGuard(t *testing.T, pub payment.Publisher) (*payment.Guard, *miniredis.Miniredis) {
	t.Helper()
	client, mr := newRedis(t)
	return &payment.Guard{
		Locker:    lock.Locker{R: client, Prefix: "lock:order:", TTL: 2 * time.Second, RetryBackoff: time.Millisecond},
		Markers:   payment.RedisMarkers{R: client, Prefix: "settled:"},
		Publisher: pub,
	}, mr
}

// simulator is an in-process stand-in for the gateway API. Creations are
// deduplicated by idempotence key the way the real gateway does.
type simulator struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	payments    map[string]*payment.Payment
	byKey       map[string]string
	creates     int
	requests    []*http.Request
	bodies      [][]byte
	status      string
	createError string
	noURL       bool
	confirmURL  string
	delay       time.Duration
}

func newSimulator(t *testing.T) *simulator {
	t.Helper()
	s := &simulator{t: t, payments: map[string]*payment.Payment{}, byKey: map[string]string{}}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

func (s *simulator) client() *payment.Client {
	return payment.NewClient(payment.ClientConfig{
		BaseURL: s.server.URL + "/v3/",
		ShopID:  testShopID,
		Secret:  testSecret,
		Timeout: time.Second,
		Breaker: resilience.NewBreaker(1000, 1, time.Second),
	})
}

func (s *simulator) setStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *simulator) remotePayments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *simulator) lastRequest() (*http.Request, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	return s.requests[n-1], s.bodies[n-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *simulator) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
	s.bodies = append(s.bodies, body)

	user, pass, ok := r.BasicAuth()
	if !ok || user != testShopID || pass != testSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"type": "error", "code": "invalid_credentials", "description": "bad credentials"})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v3/payments":
		if s.createError != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(s.createError))
			return
		}
		key := r.Header.Get("Idempotence-Key")
		if id, ok := s.byKey[key]; ok && key != "" {
			writeJSON(w, http.StatusOK, s.payments[id])
			return
		}
		var req payment.CreatePaymentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"type": "error", "code": "invalid_request"})
			return
		}
		s.creates++
		id := fmt.Sprintf("2d%06d-000f-5000-9000-1b68e7b15f3f", s.creates)
		p := &payment.Payment{
			ID:          id,
			Status:      payment.StatusPending,
			Amount:      req.Amount,
			Description: req.Description,
			Metadata:    req.Metadata,
		}
		if !s.noURL {
			u := s.confirmURL
			if u == "" {
				u = "https://pay.example/" + id
			}
			p.Confirmation = &payment.Confirmation{Type: "redirect", ConfirmationURL: u}
		}
		s.payments[id] = p
		if key != "" {
			s.byKey[key] = id
		}
		writeJSON(w, http.StatusOK, p)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v3/payments/"):
		id := strings.TrimPrefix(r.URL.Path, "/v3/payments/")
		p, ok := s.payments[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"type": "error", "code": "not_found", "description": "payment not found"})
			return
		}
		cp := *p
		cp.Confirmation = nil
		if s.status != "" {
			cp.Status = s.status
		}
		cp.Paid = cp.Status == payment.StatusSucceeded || cp.Status == payment.StatusWaitingForCapture
		writeJSON(w, http.StatusOK, cp)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"type": "error", "code": "not_found"})
	}
}
