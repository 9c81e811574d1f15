package signature

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretPrefix marks generated secrets.
const SecretPrefix = "whsec_"

const secretBytes = 32

// NewSecret returns a random signing secret: SecretPrefix followed by
// 64 lowercase hex digits.
func NewSecret() (string, error) {
	var b [secretBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("signature: generate secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b[:]), nil
}
