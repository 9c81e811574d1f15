package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/hookrelay/signature"
	"github.com/xraph/hookrelay/webhook"
)

const (
	maxResponseBody = 1024 // 1KB cap on response body storage
	userAgent       = "hookrelay/1.0"
)

// Request is one outbound attempt.
type Request struct {
	Webhook    *webhook.Webhook
	EventID    string
	DeliveryID string

	// Body is sent as is and is the signature input.
	Body []byte
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	// Response is nil when no response was received.
	Response *Response

	// Error is nil on success.
	Error *ErrorDetail

	Duration time.Duration
}

// Success reports whether the attempt succeeded.
func (r Result) Success() bool { return r.Error == nil }

// Sender performs HTTP webhook delivery.
type Sender struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient sets the client used for deliveries. Redirect following is
// always disabled on a copy of it.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) {
		cp := *c
		s.client = &cp
	}
}

// WithDefaultTimeout sets the timeout for webhooks that do not configure one.
func WithDefaultTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.defaultTimeout = d }
}

// NewSender creates a sender.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		client:         &http.Client{},
		defaultTimeout: webhook.DefaultTimeoutMs * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	// 3xx responses count as success and are not followed.
	s.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return s
}

// Send performs one attempt. Status codes in [200,400) succeed; other
// statuses, timeouts and transport errors fail.
func (s *Sender) Send(ctx context.Context, req Request) Result {
	timeout := s.defaultTimeout
	if req.Webhook.TimeoutMs > 0 {
		timeout = req.Webhook.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Webhook.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Result{Error: &ErrorDetail{
			Message: fmt.Sprintf("create request: %v", err),
			Code:    CodeRequest,
		}}
	}

	// Custom webhook headers first so the protocol headers always win.
	for k, v := range req.Webhook.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(signature.HeaderEventID, req.EventID)
	httpReq.Header.Set(signature.HeaderDeliveryID, req.DeliveryID)
	httpReq.Header.Set(signature.HeaderSignature, signature.Sign(req.Body, req.Webhook.Secret))

	start := time.Now()
	resp, err := s.client.Do(httpReq) //nolint:gosec // G704: URL is a user-configured webhook destination.
	elapsed := time.Since(start)

	if err != nil {
		return Result{
			Error: &ErrorDetail{
				Message:    err.Error(),
				Code:       classifyTransportError(ctx, err),
				DurationMs: elapsed.Milliseconds(),
			},
			Duration: elapsed,
		}
	}
	defer resp.Body.Close()

	// A truncated body read is not a delivery failure; the status decides.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody)) //nolint:errcheck // best-effort capture

	result := Result{
		Response: &Response{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Headers:    flattenHeaders(resp.Header),
			Body:       string(body),
			DurationMs: elapsed.Milliseconds(),
		},
		Duration: elapsed,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		result.Error = &ErrorDetail{
			Message:    fmt.Sprintf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Code:       CodeHTTPStatus,
			DurationMs: elapsed.Milliseconds(),
		}
	}
	return result
}

func classifyTransportError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	return CodeNetwork
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
