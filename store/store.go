// Package store defines the composite Store interface for all hookrelay persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them all.
package store

import (
	"context"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	topic.Store
	event.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
