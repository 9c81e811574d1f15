package topic

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// Registry is the cached service for managing topics.
type Registry struct {
	store     Store
	validator *Validator
	cache     map[string]cachedTopic
	cacheTTL  time.Duration
	mu        sync.RWMutex
	logger    *slog.Logger
}

type cachedTopic struct {
	topic    *Topic
	loadedAt time.Time
}

// NewRegistry creates a Registry backed by the given store. A zero cacheTTL
// keeps cached topics until Invalidate is called.
func NewRegistry(store Store, cacheTTL time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		validator: NewValidator(),
		cache:     make(map[string]cachedTopic),
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// Create registers a new, active topic. The schema, if any, must compile.
func (r *Registry) Create(ctx context.Context, in Input) (*Topic, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if len(in.Schema) > 0 {
		if err := r.validator.Compile(in.Schema); err != nil {
			return nil, &ValidationError{Field: "schema", Message: err.Error()}
		}
	}

	t := &Topic{
		Entity:      entity.New(),
		ID:          id.NewTopicID(),
		Name:        name,
		Description: in.Description,
		Schema:      in.Schema,
		Active:      true,
	}
	if err := r.store.CreateTopic(ctx, t); err != nil {
		return nil, err
	}

	r.put(t)
	r.logger.InfoContext(ctx, "topic created", "topic_id", t.ID.String(), "name", t.Name)
	return t, nil
}

// Get returns a topic by ID, using the cache when available.
func (r *Registry) Get(ctx context.Context, topicID id.ID) (*Topic, error) {
	key := topicID.String()

	r.mu.RLock()
	c, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && !r.expired(c) {
		return c.topic, nil
	}

	t, err := r.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	r.put(t)
	return t, nil
}

// List returns topics from the store.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Topic, error) {
	return r.store.ListTopics(ctx, opts)
}

// Count returns the number of topics.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	return r.store.CountTopics(ctx)
}

// ValidatePayload checks payload against the topic schema, if the topic has one.
func (r *Registry) ValidatePayload(t *Topic, payload []byte) error {
	return r.validator.Validate(t.Schema, payload)
}

// Invalidate clears the in-memory cache, forcing fresh reads from the store.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]cachedTopic)
	r.mu.Unlock()
}

func (r *Registry) put(t *Topic) {
	r.mu.Lock()
	r.cache[t.ID.String()] = cachedTopic{topic: t, loadedAt: time.Now()}
	r.mu.Unlock()
}

func (r *Registry) expired(c cachedTopic) bool {
	if r.cacheTTL == 0 {
		return false
	}
	return time.Since(c.loadedAt) > r.cacheTTL
}
