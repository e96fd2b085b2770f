package payment

import (
	"encoding/json"

	"github.com/noah-isme/backend-toko-pay/internal/order"
)

// Customer identifies the buyer on the fiscal receipt.
type Customer struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ReceiptItem is a single fiscal receipt line.
type ReceiptItem struct {
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	Amount      Amount      `json:"amount"`
	VatCode     int         `json:"vat_code"`
}

// Receipt is the fiscal receipt attached to a payment.
type Receipt struct {
	Customer      Customer      `json:"customer"`
	Items         []ReceiptItem `json:"items"`
	TaxSystemCode int           `json:"tax_system_code"`
}

// BuildReceipt derives the fiscal receipt for an order. Lines with a
// non-positive unit price are left out.
func BuildReceipt(o *order.Order, s Settings) Receipt {
	r := Receipt{Items: []ReceiptItem{}, TaxSystemCode: s.TaxSystemCode}
	if o == nil {
		return r
	}
	r.Customer = Customer{
		FullName: o.Delivery.Client,
		Email:    o.Email,
		Phone:    o.Phone,
	}
	for _, item := range o.Products {
		if !item.UnitPrice.IsPositive() {
			continue
		}
		r.Items = append(r.Items, ReceiptItem{
			Description: truncateRunes(item.Title, maxDescriptionRunes),
			Quantity:    json.Number(item.Quantity.String()),
			Amount: Amount{
				Value:    item.TotalPrice.StringFixed(2),
				Currency: CurrencyRUB,
			},
			VatCode: s.VatCode,
		})
	}
	return r
}
