package payment

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	validator "github.com/go-playground/validator/v10"
)

const (
	// DefaultLocale is sent with the confirmation block when none is configured.
	DefaultLocale = "ru_RU"
	// ReturnPath is the buyer return route registered with the gateway.
	ReturnPath = "/cart/done/yk/result"

	maxDescriptionRunes = 128
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Settings is the merchant configuration of the gateway integration. It is
// read-only once constructed.
type Settings struct {
	ShopID        string `validate:"required"`
	Secret        string `validate:"required"`
	TaxSystemCode int    `validate:"min=1,max=6"`
	VatCode       int    `validate:"min=1,max=6"`
	Description   string `validate:"required"`
	Homepage      string `validate:"required,url"`
	Locale        string
}

// Validate checks required fields and the tax enumerations.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("payment settings: %w", err)
	}
	return nil
}

// DescriptionFor substitutes the order serial into the payment description.
func (s Settings) DescriptionFor(serial string) string {
	return truncateRunes(strings.ReplaceAll(s.Description, "{serial}", serial), maxDescriptionRunes)
}

// ReturnURL is where the gateway sends the buyer back after payment.
func (s Settings) ReturnURL(serial string) string {
	q := url.Values{}
	q.Set("serial", serial)
	return strings.TrimRight(s.Homepage, "/") + ReturnPath + "?" + q.Encode()
}

func (s Settings) locale() string {
	if strings.TrimSpace(s.Locale) == "" {
		return DefaultLocale
	}
	return s.Locale
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
