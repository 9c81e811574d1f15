package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/signature"
)

// Service provides webhook management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new webhook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new, active webhook.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if in.ClientID == "" {
		return nil, &ValidationError{Field: "client_id", Message: "required"}
	}
	if err := in.RetryPolicy.Validate(); err != nil {
		return nil, err
	}
	if err := validateTimeout(in.TimeoutMs); err != nil {
		return nil, err
	}
	if in.RateLimit < 0 {
		return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}

	secret := in.Secret
	if secret == "" {
		var err error
		if secret, err = signature.NewSecret(); err != nil {
			return nil, err
		}
	}

	timeout := in.TimeoutMs
	if timeout == 0 {
		timeout = DefaultTimeoutMs
	}

	wh := &Webhook{
		Entity:      entity.New(),
		ID:          id.NewWebhookID(),
		ClientID:    in.ClientID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      secret,
		RetryPolicy: in.RetryPolicy.WithDefaults(),
		TimeoutMs:   timeout,
		RateLimit:   in.RateLimit,
		Headers:     in.Headers,
		Active:      true,
	}

	if err := svc.store.CreateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "webhook created", "webhook_id", wh.ID.String(), "client_id", wh.ClientID)
	return wh, nil
}

// Get returns a webhook by ID.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, whID)
}

// List returns webhooks matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, opts)
}

// Count returns the number of webhooks matching opts.
func (svc *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	return svc.store.CountWebhooks(ctx, opts)
}

// Update applies the non-nil fields of in to an existing webhook.
func (svc *Service) Update(ctx context.Context, whID id.ID, in UpdateInput) (*Webhook, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		wh.URL = *in.URL
	}
	if in.Description != nil {
		wh.Description = *in.Description
	}
	if in.RetryPolicy != nil {
		if err := in.RetryPolicy.Validate(); err != nil {
			return nil, err
		}
		wh.RetryPolicy = in.RetryPolicy.WithDefaults()
	}
	if in.TimeoutMs != nil {
		if err := validateTimeout(*in.TimeoutMs); err != nil {
			return nil, err
		}
		wh.TimeoutMs = *in.TimeoutMs
	}
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must not be negative"}
		}
		wh.RateLimit = *in.RateLimit
	}
	if in.Headers != nil {
		wh.Headers = in.Headers
	}
	if in.Active != nil {
		wh.Active = *in.Active
	}

	wh.Touch()
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return nil, err
	}
	return wh, nil
}

// RotateSecret generates a new signing secret for a webhook and returns it.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return "", err
	}

	secret, err := signature.NewSecret()
	if err != nil {
		return "", err
	}
	wh.Secret = secret
	wh.Touch()
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "webhook secret rotated", "webhook_id", wh.ID.String())
	return wh.Secret, nil
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	return nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}

func validateTimeout(ms int) error {
	if ms < 0 {
		return &ValidationError{Field: "timeout_ms", Message: "must not be negative"}
	}
	if ms > MaxTimeoutMs {
		return &ValidationError{Field: "timeout_ms", Message: fmt.Sprintf("must not exceed %d", MaxTimeoutMs)}
	}
	return nil
}
