package delivery_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/signature"
	"github.com/xraph/hookrelay/webhook"
)

func newTestWebhook(url string) *webhook.Webhook {
	return &webhook.Webhook{
		Entity:   entity.New(),
		ID:       id.NewWebhookID(),
		ClientID: "client-1",
		URL:      url,
		Secret:   "whsec_test_secret_1234567890abcdef1234567890abcdef",
		Active:   true,
	}
}

func newRequest(wh *webhook.Webhook) delivery.Request {
	return delivery.Request{
		Webhook:    wh,
		EventID:    id.NewEventID().String(),
		DeliveryID: id.NewDeliveryID().String(),
		Body:       []byte(`{"hello":"world"}`),
	}
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		receivedBody = string(bodyBytes)
		w.Header().Set("X-Receiver", "ok")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sender := delivery.NewSender()
	req := newRequest(newTestWebhook(srv.URL))

	result := sender.Send(context.Background(), req)

	if !result.Success() {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	if result.Response.Status != 200 || result.Response.StatusText != "OK" {
		t.Fatalf("unexpected status %d %q", result.Response.Status, result.Response.StatusText)
	}
	if result.Response.Body != `{"ok":true}` {
		t.Fatalf("unexpected response: %s", result.Response.Body)
	}
	if result.Response.Headers["X-Receiver"] != "ok" {
		t.Fatalf("expected response headers to be captured, got %v", result.Response.Headers)
	}

	if receivedBody != `{"hello":"world"}` {
		t.Fatalf("body: got %q", receivedBody)
	}
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatal("missing Content-Type")
	}
	if receivedHeaders.Get("User-Agent") != "hookrelay/1.0" {
		t.Fatal("missing User-Agent")
	}
	if receivedHeaders.Get(signature.HeaderEventID) != req.EventID {
		t.Fatal("missing event ID header")
	}
	if receivedHeaders.Get(signature.HeaderDeliveryID) != req.DeliveryID {
		t.Fatal("missing delivery ID header")
	}
	if !strings.HasPrefix(receivedHeaders.Get(signature.HeaderSignature), "sha256=") {
		t.Fatal("signature should start with sha256=")
	}
}

func TestSenderSignatureMatchesBody(t *testing.T) {
	var receivedSig string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get(signature.HeaderSignature)
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL)
	delivery.NewSender().Send(context.Background(), newRequest(wh))

	if !signature.Verify(receivedBody, wh.Secret, receivedSig) {
		t.Fatal("signature verification failed")
	}
}

func TestSenderEmptySecret(t *testing.T) {
	var receivedSig string
	var receivedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSig = r.Header.Get(signature.HeaderSignature)
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL)
	wh.Secret = ""
	delivery.NewSender().Send(context.Background(), newRequest(wh))

	if receivedSig != signature.Sign(receivedBody, "") {
		t.Fatalf("expected signature keyed with the empty secret, got %q", receivedSig)
	}
}

func TestSenderCustomHeaders(t *testing.T) {
	var receivedHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL)
	wh.Headers = map[string]string{
		"X-Custom-Header":         "custom-value",
		"Authorization":           "Bearer token123",
		signature.HeaderSignature: "forged",
	}

	result := delivery.NewSender().Send(context.Background(), newRequest(wh))

	if !result.Success() {
		t.Fatalf("unexpected error: %+v", result.Error)
	}
	if receivedHeaders.Get("X-Custom-Header") != "custom-value" {
		t.Fatal("missing custom header")
	}
	if receivedHeaders.Get("Authorization") != "Bearer token123" {
		t.Fatal("missing Authorization header")
	}
	if receivedHeaders.Get(signature.HeaderSignature) == "forged" {
		t.Fatal("custom headers must not override the signature")
	}
}

func TestSenderRedirectIsSuccess(t *testing.T) {
	var followed bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		followed = true
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	result := delivery.NewSender().Send(context.Background(), newRequest(newTestWebhook(srv.URL)))

	if !result.Success() {
		t.Fatalf("expected 3xx to count as success, got %+v", result.Error)
	}
	if result.Response.Status != http.StatusFound {
		t.Fatalf("expected 302, got %d", result.Response.Status)
	}
	if followed {
		t.Fatal("redirect must not be followed")
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(srv.URL)
	wh.TimeoutMs = 50

	result := delivery.NewSender().Send(context.Background(), newRequest(wh))

	if result.Success() {
		t.Fatal("expected error on timeout")
	}
	if result.Response != nil {
		t.Fatal("expected no response on timeout")
	}
	if result.Error.Code != delivery.CodeTimeout {
		t.Fatalf("expected timeout code, got %q (%s)", result.Error.Code, result.Error.Message)
	}
	if result.Duration <= 0 {
		t.Fatal("expected positive duration")
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	result := delivery.NewSender().Send(context.Background(), newRequest(newTestWebhook("http://127.0.0.1:1")))

	if result.Success() {
		t.Fatal("expected error on connection refused")
	}
	if result.Error.Code != delivery.CodeNetwork {
		t.Fatalf("expected network code, got %q", result.Error.Code)
	}
}

func TestSenderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	result := delivery.NewSender().Send(context.Background(), newRequest(newTestWebhook(srv.URL)))

	if result.Success() {
		t.Fatal("expected 500 to fail")
	}
	if result.Error.Code != delivery.CodeHTTPStatus {
		t.Fatalf("expected http_status code, got %q", result.Error.Code)
	}
	if result.Response == nil || result.Response.Status != 500 {
		t.Fatalf("expected captured 500 response, got %+v", result.Response)
	}
	if result.Response.Body != "internal error" {
		t.Fatalf("unexpected response: %s", result.Response.Body)
	}
}

func TestSenderCapsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	result := delivery.NewSender().Send(context.Background(), newRequest(newTestWebhook(srv.URL)))

	if len(result.Response.Body) != 1024 {
		t.Fatalf("expected body capped at 1024 bytes, got %d", len(result.Response.Body))
	}
}
