// Package signature provides HMAC-SHA256 signing and verification of webhook
// request bodies.
//
// The signature header carries "sha256=" followed by the lowercase hex digest
// of HMAC-SHA256(secret, body). Receivers recompute it over the raw request
// body they received.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names set on every delivery request.
const (
	HeaderEventID    = "X-Hook-Relay-Event-ID"
	HeaderDeliveryID = "X-Hook-Relay-Delivery-ID"
	HeaderSignature  = "X-Hook-Relay-Signature"
)

// Scheme is the algorithm tag prefixed to every signature.
const Scheme = "sha256"

// Sign returns the signature header value for body, "sha256=<hex>".
// An empty secret is valid and yields the HMAC keyed with zero bytes.
func Sign(body []byte, secret string) string {
	return Scheme + "=" + hex.EncodeToString(digest(body, secret))
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
