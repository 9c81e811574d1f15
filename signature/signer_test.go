package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/hookrelay/signature"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"event":"test"}`)
	secret := "whsec_testsecret123"

	got := signature.Sign(body, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignEmptySecret(t *testing.T) {
	body := []byte(`{"a":1}`)

	mac := hmac.New(sha256.New, []byte(""))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got := signature.Sign(body, ""); got != expected {
		t.Errorf("Sign() with empty secret = %q, want %q", got, expected)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"invoice_id":"inv_01h2x","amount":9900}`)
	secret := "whsec_roundtripsecret"

	sig := signature.Sign(body, secret)
	if !signature.Verify(body, secret, sig) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	secret := "whsec_tampersecret"
	sig := signature.Sign([]byte(`{"original":true}`), secret)

	if signature.Verify([]byte(`{"original":false}`), secret, sig) {
		t.Error("Verify() returned true for tampered payload")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	body := []byte(`{"data":"value"}`)
	sig := signature.Sign(body, "whsec_correct")

	if signature.Verify(body, "whsec_wrong", sig) {
		t.Error("Verify() returned true for wrong secret")
	}
}

func TestVerifyMalformedHeader(t *testing.T) {
	body := []byte(`{}`)
	for _, h := range []string{"", "sha256", "sha1=abcd", "sha256=zz", "v1=" + strings.Repeat("a", 64)} {
		if signature.Verify(body, "s", h) {
			t.Errorf("Verify() accepted malformed header %q", h)
		}
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := signature.Sign([]byte("test"), "secret")

	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature should start with 'sha256=', got %q", sig)
	}

	// sha256= prefix (7) + 64 hex chars
	if len(sig) != 71 {
		t.Errorf("expected signature length 71, got %d", len(sig))
	}
}
