package event

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for events.
type Store interface {
	// CreateEvent persists an event. Returns hookrelay.ErrDuplicateIdempotencyKey
	// when the idempotency key is already taken.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// GetEventByIdempotencyKey returns the event registered under key.
	GetEventByIdempotencyKey(ctx context.Context, key string) (*Event, error)

	// ListEvents returns events, newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// CountEvents returns the number of events matching opts, ignoring paging.
	CountEvents(ctx context.Context, opts ListOpts) (int64, error)
}
