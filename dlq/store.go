package dlq

import (
	"context"
	"time"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// Escalate inserts entry and sets PermanentlyFailedAt on its delivery to
	// failedAt in one atomic unit. Returns hookrelay.ErrAlreadyEscalated when
	// the delivery already has an entry; nothing changes in that case.
	Escalate(ctx context.Context, entry *Entry, failedAt time.Time) error

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// ListDLQ returns DLQ entries, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// CountDLQ returns the number of entries matching opts, ignoring paging.
	CountDLQ(ctx context.Context, opts ListOpts) (int64, error)
}
