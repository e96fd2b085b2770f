package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-toko-pay/internal/order"
	"github.com/noah-isme/backend-toko-pay/internal/payment"
)

func newRegistrar(sim *simulator, orders *memOrders) *payment.Registrar {
	return &payment.Registrar{
		Gateway:  sim.client(),
		Orders:   orders,
		Settings: testSettings(),
	}
}

func TestRegisterStoresPaymentID(t *testing.T) {
	sim := newSimulator(t)
	sim.confirmURL = "https://pay.example/xyz"
	orders := newMemOrders(sampleOrder())
	o := sampleOrder()

	url, err := newRegistrar(sim, orders).Register(context.Background(), o)
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/xyz", url)
	require.NotEmpty(t, o.System)
	require.Equal(t, o.System, orders.system("A-1001"))

	req, body := sim.lastRequest()
	require.Equal(t, testUUID, req.Header.Get("Idempotence-Key"))
	var sent payment.CreatePaymentRequest
	require.NoError(t, json.Unmarshal(body, &sent))
	require.Equal(t, "500.00", sent.Amount.Value)
	require.Equal(t, "RUB", sent.Amount.Currency)
	require.Equal(t, "redirect", sent.Confirmation.Type)
	require.Equal(t, "ru_RU", sent.Confirmation.Locale)
	require.Equal(t, "https://shop.example/cart/done/yk/result?serial=A-1001", sent.Confirmation.ReturnURL)
	require.Equal(t, "Оплата заказа #A-1001", sent.Description)
	require.Equal(t, "A-1001", sent.Metadata.Serial)
	require.True(t, sent.Capture)
	require.Len(t, sent.Receipt.Items, 1)
}

func TestRegisterGatewayErrorLeavesOrderUnregistered(t *testing.T) {
	sim := newSimulator(t)
	sim.createError = `{"type":"error","code":"invalid_request","description":"Invalid receipt"}`
	orders := newMemOrders(sampleOrder())

	url, err := newRegistrar(sim, orders).Register(context.Background(), sampleOrder())
	require.Empty(t, url)
	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, "invalid_request", gwErr.Code)
	require.Empty(t, orders.system("A-1001"))
}

func TestRegisterAlreadyRegisteredSkipsGateway(t *testing.T) {
	sim := newSimulator(t)
	o := sampleOrder()
	o.System = "existing"
	orders := newMemOrders(o)

	url, err := newRegistrar(sim, orders).Register(context.Background(), o)
	require.ErrorIs(t, err, order.ErrAlreadyRegistered)
	require.Empty(t, url)
	require.Zero(t, sim.remotePayments())
}

func TestRegisterWithoutConfirmationURL(t *testing.T) {
	sim := newSimulator(t)
	sim.noURL = true
	orders := newMemOrders(sampleOrder())

	url, err := newRegistrar(sim, orders).Register(context.Background(), sampleOrder())
	require.ErrorIs(t, err, payment.ErrNoConfirmationURL)
	require.Empty(t, url)
	require.Empty(t, orders.system("A-1001"))
}

func TestRegisterStoreFailure(t *testing.T) {
	sim := newSimulator(t)
	orders := newMemOrders(sampleOrder())
	orders.updateErr = errors.New("db down")

	url, err := newRegistrar(sim, orders).Register(context.Background(), sampleOrder())
	require.Error(t, err)
	require.Empty(t, url)
}

func TestRegisterRetryReusesRemotePayment(t *testing.T) {
	sim := newSimulator(t)
	orders := newMemOrders(sampleOrder())
	orders.updateErr = errors.New("db down")
	reg := newRegistrar(sim, orders)

	_, err := reg.Register(context.Background(), sampleOrder())
	require.Error(t, err)

	orders.mu.Lock()
	orders.updateErr = nil
	orders.mu.Unlock()
	_, err = reg.Register(context.Background(), sampleOrder())
	require.NoError(t, err)
	require.Equal(t, 1, sim.remotePayments())
}

func TestRegisterConcurrentSubmitReturnsSameURL(t *testing.T) {
	sim := newSimulator(t)
	sim.confirmURL = "https://pay.example/xyz"
	orders := newMemOrders(sampleOrder())
	reg := newRegistrar(sim, orders)

	// both submits read the order before either stored the payment id
	first, second := sampleOrder(), sampleOrder()
	url1, err := reg.Register(context.Background(), first)
	require.NoError(t, err)
	url2, err := reg.Register(context.Background(), second)
	require.NoError(t, err)

	require.Equal(t, url1, url2)
	require.Equal(t, first.System, second.System)
	require.Equal(t, 1, sim.remotePayments())
}

func TestRegisterConflictingPaymentStaysConflict(t *testing.T) {
	sim := newSimulator(t)
	stored := sampleOrder()
	stored.System = "someone-else"
	orders := newMemOrders(stored)

	url, err := newRegistrar(sim, orders).Register(context.Background(), sampleOrder())
	require.ErrorIs(t, err, order.ErrAlreadyRegistered)
	require.Empty(t, url)
	require.Equal(t, "someone-else", orders.system("A-1001"))
}
