package order

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup key.
	ErrNotFound = errors.New("order: not found")
	// ErrAlreadyRegistered is returned when an order already carries a gateway transaction id.
	ErrAlreadyRegistered = errors.New("order: payment already registered")
)

// Delivery holds the recipient details captured at checkout.
type Delivery struct {
	Client  string `json:"client"`
	Address string `json:"address,omitempty"`
}

// LineItem is a single product row of an order.
type LineItem struct {
	Title      string          `json:"title"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// Order is the commerce order as seen by the payment flow. Serial is the
// human-facing number used to correlate the buyer's return trip, System is the
// gateway transaction id and stays empty until registration succeeds.
type Order struct {
	UUID     string          `json:"uuid"`
	Serial   string          `json:"serial"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone"`
	Delivery Delivery        `json:"delivery"`
	Products []LineItem      `json:"products"`
	TotalSum decimal.Decimal `json:"totalSum"`
	System   string          `json:"system,omitempty"`
	Status   string          `json:"status"`
}

// Registered reports whether a gateway transaction id has been stored on the order.
func (o *Order) Registered() bool {
	return o != nil && o.System != ""
}

// Reader looks orders up by serial.
type Reader interface {
	Read(ctx context.Context, serial string) (*Order, error)
}

// SystemUpdater stores the gateway transaction id on an order.
type SystemUpdater interface {
	UpdateSystem(ctx context.Context, o *Order, system string) error
}

// Store is the subset of order persistence used by the payment flow.
type Store interface {
	Reader
	SystemUpdater
}
