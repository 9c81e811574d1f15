package delivery

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for deliveries. Implementations
// enforce at most one pending delivery per event.
type Store interface {
	// CreateDelivery persists a new delivery. Returns
	// hookrelay.ErrDeliveryInProgress when the event already has a pending one.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// UpdateDelivery modifies a delivery. Returns hookrelay.ErrDeliveryInProgress
	// when moving it to pending would violate the one-pending rule.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// GetDeliveryByJob returns the delivery driven by a queue job.
	GetDeliveryByJob(ctx context.Context, jobID id.ID) (*Delivery, error)

	// LatestDelivery returns the newest delivery of an event.
	LatestDelivery(ctx context.Context, evtID id.ID) (*Delivery, error)

	// ListDeliveries returns deliveries, newest first.
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)

	// CountDeliveries returns the number of deliveries matching opts, ignoring paging.
	CountDeliveries(ctx context.Context, opts ListOpts) (int64, error)
}
