package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// Creator creates gateway payments.
type Creator interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotencyKey string) (*Payment, error)
}

// Registrar opens a gateway payment for an order and records the gateway
// transaction id on it.
type Registrar struct {
	Gateway  Creator
	Orders   order.Store
	Settings Settings
	Logger   zerolog.Logger
}

// Register creates the payment and returns the confirmation URL the buyer
// must be redirected to. On any failure the URL is empty and the order is
// left unregistered so that checkout can be retried.
func (r *Registrar) Register(ctx context.Context, o *order.Order) (string, error) {
	if o == nil {
		return "", order.ErrNotFound
	}
	ctx, span := otel.Tracer("payment.Registrar").Start(ctx, "PaymentRegistrar.Register")
	defer span.End()
	span.SetAttributes(attribute.String("order.serial", o.Serial))

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.registration.result", result))
		if obs.PaymentRegistrationTotal != nil {
			obs.PaymentRegistrationTotal.WithLabelValues(result).Inc()
		}
	}()

	logger := r.Logger.With().Str("serial", o.Serial).Logger()

	if o.Registered() {
		result = "already_registered"
		return "", order.ErrAlreadyRegistered
	}

	req := CreatePaymentRequest{
		Amount: Amount{Value: o.TotalSum.StringFixed(2), Currency: CurrencyRUB},
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: r.Settings.ReturnURL(o.Serial),
			Locale:    r.Settings.locale(),
		},
		Receipt:     BuildReceipt(o, r.Settings),
		Description: r.Settings.DescriptionFor(o.Serial),
		Metadata:    Metadata{Serial: o.Serial},
		Capture:     true,
	}

	p, err := r.Gateway.CreatePayment(ctx, req, o.UUID)
	if err != nil {
		result = "gateway_error"
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			result = "gateway_" + string(gwErr.Kind)
		}
		span.RecordError(err)
		logger.Warn().Err(err).Msg("payment registration failed")
		return "", fmt.Errorf("register order %s: %w", o.Serial, err)
	}
	confirmationURL := p.ConfirmationURL()
	if confirmationURL == "" {
		result = "no_confirmation_url"
		logger.Warn().Str("payment_id", p.ID).Msg("payment created without confirmation url")
		return "", ErrNoConfirmationURL
	}
	if err := r.Orders.UpdateSystem(ctx, o, p.ID); err != nil {
		// a concurrent submit of the same order got the same payment back
		if errors.Is(err, order.ErrAlreadyRegistered) && r.storedSystem(ctx, o.Serial) == p.ID {
			o.System = p.ID
			result = "ok"
			logger.Info().Str("payment_id", p.ID).Msg("payment registered by a concurrent request")
			return confirmationURL, nil
		}
		result = "store_error"
		span.RecordError(err)
		logger.Error().Err(err).Str("payment_id", p.ID).Msg("store payment id")
		return "", fmt.Errorf("register order %s: %w", o.Serial, err)
	}
	o.System = p.ID
	result = "ok"
	logger.Info().Str("payment_id", p.ID).Str("status", p.Status).Msg("payment registered")
	return confirmationURL, nil
}

func (r *Registrar) storedSystem(ctx context.Context, serial string) string {
	stored, err := r.Orders.Read(ctx, serial)
	if err != nil {
		return ""
	}
	return stored.System
}
