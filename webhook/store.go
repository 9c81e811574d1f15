package webhook

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for webhooks.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, wh *Webhook) error

	// GetWebhook returns a webhook by ID.
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)

	// UpdateWebhook modifies an existing webhook.
	UpdateWebhook(ctx context.Context, wh *Webhook) error

	// ListWebhooks returns webhooks, newest first.
	ListWebhooks(ctx context.Context, opts ListOpts) ([]*Webhook, error)

	// CountWebhooks returns the number of webhooks matching opts, ignoring paging.
	CountWebhooks(ctx context.Context, opts ListOpts) (int64, error)
}
