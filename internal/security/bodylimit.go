package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/backend-toko-pay/internal/common"
)

// BodyLimit caps request payloads. Oversized requests are answered with 413
// before the handler runs when Content-Length is known, otherwise the handler
// sees a read error once the limit is crossed.
type BodyLimit struct {
	Max int64
}

// Middleware applies the limit.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

// TooLarge reports whether err was produced by a body exceeding the limit.
func TooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
