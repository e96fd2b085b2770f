package common

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
)

// ClientIP returns the host part of r.RemoteAddr. Routers mount chi's RealIP
// ahead of any caller, so forwarded headers are already folded into it.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Fingerprint hashes the given parts into a stable hex key suitable for
// Redis key names.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
