package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-toko-pay/internal/common"
	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// Registerer opens gateway payments for orders.
type Registerer interface {
	Register(ctx context.Context, o *order.Order) (string, error)
}

// Handler exposes the payment HTTP endpoints.
type Handler struct {
	Orders     order.Reader
	Registrar  Registerer
	Gateway    StatusQuerier
	Reconciler *Reconciler
	Logger     zerolog.Logger
}

type registerResp struct {
	ConfirmationURL string `json:"confirmationUrl"`
}

type statusResp struct {
	Serial    string `json:"serial"`
	PaymentID string `json:"paymentId,omitempty"`
	Status    string `json:"status"`
	Paid      bool   `json:"paid"`
}

// Register opens a gateway payment for the order and returns the URL the
// buyer has to be sent to.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orders == nil || h.Registrar == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	serial := strings.TrimSpace(chi.URLParam(r, "serial"))
	o, err := h.Orders.Read(r.Context(), serial)
	if err != nil {
		common.WriteError(w, orderError(err))
		return
	}
	confirmationURL, err := h.Registrar.Register(r.Context(), o)
	if err != nil {
		common.WriteError(w, registrationError(err))
		return
	}
	common.JSON(w, http.StatusCreated, registerResp{ConfirmationURL: confirmationURL})
}

// Status reports the gateway-side state of the order's payment.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orders == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	serial := strings.TrimSpace(chi.URLParam(r, "serial"))
	o, err := h.Orders.Read(r.Context(), serial)
	if err != nil {
		common.WriteError(w, orderError(err))
		return
	}
	if !o.Registered() {
		common.JSON(w, http.StatusOK, statusResp{Serial: o.Serial, Status: "unregistered"})
		return
	}
	p, err := h.Gateway.GetPayment(r.Context(), o.System)
	if err != nil {
		h.Logger.Warn().Err(err).Str("serial", serial).Msg("payment status query failed")
		common.WriteError(w, gatewayUnavailable(err))
		return
	}
	common.JSON(w, http.StatusOK, statusResp{Serial: o.Serial, PaymentID: p.ID, Status: p.Status, Paid: p.Paid})
}

// Return handles the buyer coming back from the gateway page and redirects
// to the confirmation page (or the home page for unknown orders).
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if h != nil && h.Reconciler != nil {
		target = h.Reconciler.HandleReturn(r.Context(), r.URL.Query().Get("serial"))
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func orderError(err error) error {
	if errors.Is(err, order.ErrNotFound) {
		return common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
	}
	return err
}

func registrationError(err error) error {
	switch {
	case errors.Is(err, order.ErrAlreadyRegistered):
		return common.NewAppError("ALREADY_REGISTERED", "payment already registered for this order", http.StatusConflict, err)
	case errors.Is(err, order.ErrNotFound):
		return orderError(err)
	case errors.Is(err, ErrNoConfirmationURL):
		return gatewayUnavailable(err)
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gatewayUnavailable(err)
	}
	return err
}

func gatewayUnavailable(err error) error {
	return common.NewAppError("PAYMENT_UNAVAILABLE", "payment gateway unavailable", http.StatusBadGateway, err)
}
