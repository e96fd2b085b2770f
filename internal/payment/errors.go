package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayTimeout is matched by gateway errors caused by the call deadline.
	ErrGatewayTimeout = errors.New("payment: gateway timeout")
	// ErrMalformed is matched by gateway errors for unreadable or unreachable responses.
	ErrMalformed = errors.New("payment: malformed gateway response")
	// ErrNoConfirmationURL is returned when a created payment carries no redirect target.
	ErrNoConfirmationURL = errors.New("payment: gateway returned no confirmation url")
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindEnvelope  ErrorKind = "envelope"
	KindMalformed ErrorKind = "malformed"
	KindTimeout   ErrorKind = "timeout"
)

// GatewayError describes a failed gateway call. For KindEnvelope the fields
// mirror the error object returned by the gateway.
type GatewayError struct {
	Kind        ErrorKind
	Status      int
	Type        string
	ID          string
	Code        string
	Description string
	Parameter   string
	Err         error
}

func (e *GatewayError) Error() string {
	switch e.Kind {
	case KindEnvelope:
		msg := fmt.Sprintf("payment: gateway error %s", e.Code)
		if e.Description != "" {
			msg += ": " + e.Description
		}
		if e.Parameter != "" {
			msg += " (parameter " + e.Parameter + ")"
		}
		return msg
	case KindTimeout:
		return "payment: gateway timeout"
	default:
		if e.Err != nil {
			return "payment: malformed gateway response: " + e.Err.Error()
		}
		return "payment: malformed gateway response"
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *GatewayError) Is(target error) bool {
	switch target {
	case ErrGatewayTimeout:
		return e.Kind == KindTimeout
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}
