package payment

// Payment statuses reported by the gateway.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// CurrencyRUB is the only currency the integration charges in.
const CurrencyRUB = "RUB"

// Amount is a monetary value as the gateway encodes it.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Confirmation describes how the buyer completes the payment.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	Locale          string `json:"locale,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// Metadata is echoed back by the gateway on every payment object.
type Metadata struct {
	Serial string `json:"serial,omitempty"`
}

// CreatePaymentRequest is the body of a payment creation call.
type CreatePaymentRequest struct {
	Amount       Amount       `json:"amount"`
	Confirmation Confirmation `json:"confirmation"`
	Receipt      Receipt      `json:"receipt"`
	Description  string       `json:"description,omitempty"`
	Metadata     Metadata     `json:"metadata"`
	Capture      bool         `json:"capture"`
}

// Payment is the gateway-side transaction.
type Payment struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Paid         bool          `json:"paid"`
	Amount       Amount        `json:"amount"`
	Description  string        `json:"description,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Metadata     Metadata      `json:"metadata"`
	CreatedAt    string        `json:"created_at,omitempty"`
}

// ConfirmationURL returns the redirect target of a freshly created payment.
func (p *Payment) ConfirmationURL() string {
	if p == nil || p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}

// Settled reports whether the buyer's money is secured.
func (p *Payment) Settled() bool {
	return p != nil && (p.Status == StatusSucceeded || p.Status == StatusWaitingForCapture)
}
