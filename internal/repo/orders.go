package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-toko-pay/internal/order"
)

const selectOrderBySerial = `SELECT uuid::text, serial, email, phone, delivery, products, total_sum::text, COALESCE(system, ''), status
FROM catalog_orders
WHERE serial = $1`

const updateOrderSystem = `UPDATE catalog_orders
SET system = $2, updated_at = now()
WHERE uuid = $1::uuid AND (system IS NULL OR system = '')`

const orderExists = `SELECT EXISTS (SELECT 1 FROM catalog_orders WHERE uuid = $1::uuid)`

const insertOrder = `INSERT INTO catalog_orders (uuid, serial, email, phone, delivery, products, total_sum, status)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::numeric, $8)`

// Orders is the Postgres-backed order store.
type Orders struct {
	DB DBTX
}

// Read returns the order with the given serial or order.ErrNotFound.
func (r Orders) Read(ctx context.Context, serial string) (*order.Order, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, order.ErrNotFound
	}
	var (
		o        order.Order
		delivery []byte
		products []byte
		total    string
	)
	err := r.DB.QueryRow(ctx, selectOrderBySerial, serial).Scan(
		&o.UUID, &o.Serial, &o.Email, &o.Phone, &delivery, &products, &total, &o.System, &o.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read order %s: %w", serial, err)
	}
	if len(delivery) > 0 {
		if err := json.Unmarshal(delivery, &o.Delivery); err != nil {
			return nil, fmt.Errorf("decode delivery of order %s: %w", serial, err)
		}
	}
	if len(products) > 0 {
		if err := json.Unmarshal(products, &o.Products); err != nil {
			return nil, fmt.Errorf("decode products of order %s: %w", serial, err)
		}
	}
	if o.TotalSum, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode total of order %s: %w", serial, err)
	}
	return &o, nil
}

// UpdateSystem stores the gateway transaction id. The column is only written
// while empty; a second write yields order.ErrAlreadyRegistered.
func (r Orders) UpdateSystem(ctx context.Context, o *order.Order, system string) error {
	if o == nil || o.UUID == "" {
		return order.ErrNotFound
	}
	tag, err := r.DB.Exec(ctx, updateOrderSystem, o.UUID, system)
	if err != nil {
		return fmt.Errorf("update system of order %s: %w", o.Serial, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, orderExists, o.UUID).Scan(&exists); err != nil {
		return fmt.Errorf("check order %s: %w", o.Serial, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrAlreadyRegistered
}

// Create inserts a new order, assigning a UUID when none is set.
func (r Orders) Create(ctx context.Context, o *order.Order) error {
	if o == nil {
		return errors.New("create order: nil order")
	}
	if o.UUID == "" {
		o.UUID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = "new"
	}
	delivery, err := json.Marshal(o.Delivery)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	products, err := json.Marshal(o.Products)
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}
	_, err = r.DB.Exec(ctx, insertOrder,
		o.UUID, o.Serial, o.Email, o.Phone, delivery, products, o.TotalSum.StringFixed(2), o.Status,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.Serial, err)
	}
	return nil
}
