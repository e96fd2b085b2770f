package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-toko-pay/internal/obs"
	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// Outcome is the result of one reconciliation attempt.
type Outcome string

const (
	OutcomePublished      Outcome = "published"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomePending        Outcome = "pending"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeUnregistered   Outcome = "unregistered"
	OutcomeFailed         Outcome = "failed"
)

// Sources label where a reconciliation was triggered from.
const (
	SourceReturn  = "return"
	SourceWebhook = "webhook"
	SourceWorker  = "worker"
)

type sourceKey struct{}

// WithSource tags ctx with the trigger of a reconciliation for metrics.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sourceKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// StatusQuerier reads the current state of a gateway payment.
type StatusQuerier interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Settler publishes a settlement at most once.
type Settler interface {
	PublishOnce(ctx context.Context, o *order.Order) (bool, error)
}

// Deferrer schedules a later reconciliation of an order.
type Deferrer interface {
	DeferReconcile(ctx context.Context, serial string) error
}

// Reconciler confirms settlement with the gateway and publishes it.
type Reconciler struct {
	Orders   order.Reader
	Gateway  StatusQuerier
	Guard    Settler
	Deferrer Deferrer
	Logger   zerolog.Logger
}

// HandleReturn reconciles the order the buyer came back for and returns the
// path to redirect to. It never fails: unknown orders go to the home page,
// everything else to the order confirmation page.
func (r *Reconciler) HandleReturn(ctx context.Context, serial string) string {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return "/"
	}
	o, err := r.Orders.Read(ctx, serial)
	if err != nil {
		if !errors.Is(err, order.ErrNotFound) {
			r.Logger.Error().Err(err).Str("serial", serial).Msg("read order on return")
		}
		return "/"
	}
	done := ConfirmationPath(o)

	outcome, err := r.Reconcile(WithSource(ctx, SourceReturn), o)
	if err != nil {
		r.Logger.Warn().Err(err).Str("serial", serial).Str("outcome", string(outcome)).Msg("reconcile on return")
	}
	if (outcome == OutcomePending || outcome == OutcomeFailed) && r.Deferrer != nil {
		if err := r.Deferrer.DeferReconcile(ctx, serial); err != nil {
			r.Logger.Error().Err(err).Str("serial", serial).Msg("schedule deferred reconcile")
		}
	}
	return done
}

// ConfirmationPath is the order's "thank you" page.
func ConfirmationPath(o *order.Order) string {
	return "/cart/done/" + url.PathEscape(o.UUID)
}

// Reconcile queries the gateway for the order's payment and publishes the
// settlement when the payment is succeeded or waiting for capture. The
// gateway call is made before the guard's exclusive section is entered.
func (r *Reconciler) Reconcile(ctx context.Context, o *order.Order) (outcome Outcome, err error) {
	ctx, span := otel.Tracer("payment.Reconciler").Start(ctx, "SettlementReconciler.Reconcile")
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.String("payment.settlement.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
		}
		if obs.PaymentSettlementTotal != nil {
			obs.PaymentSettlementTotal.WithLabelValues(sourceFrom(ctx), string(outcome)).Inc()
		}
	}()

	if !o.Registered() {
		return OutcomeUnregistered, nil
	}
	span.SetAttributes(attribute.String("order.serial", o.Serial))

	p, err := r.Gateway.GetPayment(ctx, o.System)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("query payment %s: %w", o.System, err)
	}

	switch p.Status {
	case StatusSucceeded, StatusWaitingForCapture:
		published, err := r.Guard.PublishOnce(ctx, o)
		if err != nil {
			return OutcomeFailed, err
		}
		if !published {
			return OutcomeAlreadySettled, nil
		}
		r.Logger.Info().Str("serial", o.Serial).Str("payment_id", p.ID).Str("status", p.Status).Msg("payment settled")
		return OutcomePublished, nil
	case StatusPending:
		return OutcomePending, nil
	case StatusCanceled:
		return OutcomeCanceled, nil
	default:
		return OutcomeFailed, fmt.Errorf("payment %s: unknown status %q", p.ID, p.Status)
	}
}
