package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Verify reports whether header is a valid signature of body under secret.
// The comparison is constant time.
func Verify(body []byte, secret, header string) bool {
	scheme, sig, ok := strings.Cut(header, "=")
	if !ok || scheme != Scheme {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, digest(body, secret))
}
