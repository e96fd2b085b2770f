package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// TypeReconcile is the asynq task type of a deferred reconciliation.
const TypeReconcile = "payment:reconcile"

// ErrStillPending is returned by the task handler so that asynq retries later.
var ErrStillPending = errors.New("payment: settlement still pending")

// ReconcilePayload is the body of a reconcile task.
type ReconcilePayload struct {
	Serial string `json:"serial"`
}

// NewReconcileTask builds a reconcile task for serial.
func NewReconcileTask(serial string) (*asynq.Task, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, errors.New("payment: serial is required")
	}
	body, err := json.Marshal(ReconcilePayload{Serial: serial})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReconcile, body), nil
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDeferrer schedules deferred reconciliations on an asynq queue.
// Scheduling the same serial twice within Delay is a no-op.
type AsynqDeferrer struct {
	Client   TaskEnqueuer
	Queue    string
	Delay    time.Duration
	MaxRetry int
}

// DeferReconcile implements Deferrer.
func (d AsynqDeferrer) DeferReconcile(ctx context.Context, serial string) error {
	task, err := NewReconcileTask(serial)
	if err != nil {
		return err
	}
	delay := d.Delay
	if delay <= 0 {
		delay = time.Minute
	}
	opts := []asynq.Option{
		asynq.ProcessIn(delay),
		asynq.Unique(delay),
	}
	if d.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(d.MaxRetry))
	}
	if d.Queue != "" {
		opts = append(opts, asynq.Queue(d.Queue))
	}
	if _, err := d.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeReconcile, err)
	}
	return nil
}

// ReconcileTaskHandler processes deferred reconciliations. Pending payments
// and transient failures are returned as errors so asynq retries them.
type ReconcileTaskHandler struct {
	Orders     order.Reader
	Reconciler *Reconciler
	Logger     zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h ReconcileTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || strings.TrimSpace(payload.Serial) == "" {
		return fmt.Errorf("decode %s payload: %w", TypeReconcile, asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("task", TypeReconcile).Str("serial", payload.Serial).Logger()

	o, err := h.Orders.Read(ctx, payload.Serial)
	if errors.Is(err, order.ErrNotFound) {
		logger.Warn().Msg("order not found, dropping task")
		return fmt.Errorf("order %s: %w", payload.Serial, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("read order %s: %w", payload.Serial, err)
	}

	outcome, err := h.Reconciler.Reconcile(WithSource(ctx, SourceWorker), o)
	logger.Info().Str("outcome", string(outcome)).Err(err).Msg("deferred reconcile")
	switch outcome {
	case OutcomePending:
		return ErrStillPending
	case OutcomeFailed:
		return err
	default:
		return nil
	}
}
