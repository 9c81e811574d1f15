package topic

import (
	"context"

	"github.com/xraph/hookrelay/id"
)

// Store defines the persistence contract for topics.
type Store interface {
	// CreateTopic persists a new topic.
	CreateTopic(ctx context.Context, t *Topic) error

	// GetTopic returns a topic by ID.
	GetTopic(ctx context.Context, topicID id.ID) (*Topic, error)

	// ListTopics returns topics, newest first.
	ListTopics(ctx context.Context, opts ListOpts) ([]*Topic, error)

	// CountTopics returns the number of topics.
	CountTopics(ctx context.Context) (int64, error)
}
