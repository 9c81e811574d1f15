// Package memory provides an in-memory Store implementation for tests and
// single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	hookrelaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// compile-time interface check.
var _ hookrelaystore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Reads return copies,
// so callers may mutate results freely.
type Store struct {
	mu sync.RWMutex

	webhooks        map[string]*webhook.Webhook   // keyed by ID string
	topics          map[string]*topic.Topic       // keyed by ID string
	events          map[string]*event.Event       // keyed by ID string
	eventsByIdemKey map[string]*event.Event       // keyed by idempotency key
	deliveries      map[string]*delivery.Delivery // keyed by ID string
	deliveryByJob   map[string]string             // job ID → delivery ID
	deliverySeq     map[string]uint64             // insertion order, newest-first tiebreak
	dlqEntries      map[string]*dlq.Entry         // keyed by ID string
	dlqByDelivery   map[string]string             // delivery ID → DLQ ID

	seq    uint64
	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		webhooks:        make(map[string]*webhook.Webhook),
		topics:          make(map[string]*topic.Topic),
		events:          make(map[string]*event.Event),
		eventsByIdemKey: make(map[string]*event.Event),
		deliveries:      make(map[string]*delivery.Delivery),
		deliveryByJob:   make(map[string]string),
		deliverySeq:     make(map[string]uint64),
		dlqEntries:      make(map[string]*dlq.Entry),
		dlqByDelivery:   make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hookrelay.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[wh.ID.String()] = copyWebhook(wh)
	return nil
}

// GetWebhook returns a webhook by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, hookrelay.ErrWebhookNotFound
	}
	return copyWebhook(wh), nil
}

// UpdateWebhook modifies an existing webhook.
func (s *Store) UpdateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := wh.ID.String()
	if _, ok := s.webhooks[key]; !ok {
		return hookrelay.ErrWebhookNotFound
	}
	cp := copyWebhook(wh)
	cp.UpdatedAt = time.Now().UTC()
	s.webhooks[key] = cp
	return nil
}

// ListWebhooks returns webhooks, newest first.
func (s *Store) ListWebhooks(_ context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.matchWebhooks(opts)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	result = applyPagination(result, opts.Offset, opts.Limit)
	for i, wh := range result {
		result[i] = copyWebhook(wh)
	}
	return result, nil
}

// CountWebhooks returns the number of webhooks matching opts.
func (s *Store) CountWebhooks(_ context.Context, opts webhook.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchWebhooks(opts))), nil
}

func (s *Store) matchWebhooks(opts webhook.ListOpts) []*webhook.Webhook {
	var result []*webhook.Webhook
	for _, wh := range s.webhooks {
		if opts.ClientID != "" && wh.ClientID != opts.ClientID {
			continue
		}
		if opts.Active != nil && wh.Active != *opts.Active {
			continue
		}
		result = append(result, wh)
	}
	return result
}

func copyWebhook(wh *webhook.Webhook) *webhook.Webhook {
	cp := *wh
	if wh.Headers != nil {
		cp.Headers = make(map[string]string, len(wh.Headers))
		for k, v := range wh.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}

// ──────────────────────────────────────────────────
// topic.Store
// ──────────────────────────────────────────────────

// CreateTopic persists a new topic.
func (s *Store) CreateTopic(_ context.Context, t *topic.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.topics[t.ID.String()] = &cp
	return nil
}

// GetTopic returns a topic by ID.
func (s *Store) GetTopic(_ context.Context, topicID id.ID) (*topic.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[topicID.String()]
	if !ok {
		return nil, hookrelay.ErrTopicNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTopics returns topics, newest first.
func (s *Store) ListTopics(_ context.Context, opts topic.ListOpts) ([]*topic.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountTopics returns the number of topics.
func (s *Store) CountTopics(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.topics)), nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event, enforcing idempotency key uniqueness.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.eventsByIdemKey[evt.IdempotencyKey]; ok {
		return hookrelay.ErrDuplicateIdempotencyKey
	}
	cp := *evt
	s.events[evt.ID.String()] = &cp
	s.eventsByIdemKey[evt.IdempotencyKey] = &cp
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, hookrelay.ErrEventNotFound
	}
	cp := *evt
	return &cp, nil
}

// GetEventByIdempotencyKey returns the event registered under key.
func (s *Store) GetEventByIdempotencyKey(_ context.Context, key string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.eventsByIdemKey[key]
	if !ok {
		return nil, hookrelay.ErrEventNotFound
	}
	cp := *evt
	return &cp, nil
}

// ListEvents returns events, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.matchEvents(opts)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountEvents returns the number of events matching opts.
func (s *Store) CountEvents(_ context.Context, opts event.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchEvents(opts))), nil
}

func (s *Store) matchEvents(opts event.ListOpts) []*event.Event {
	var result []*event.Event
	for _, evt := range s.events {
		if !opts.WebhookID.IsNil() && evt.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.ClientID != "" && evt.ClientID != opts.ClientID {
			continue
		}
		if !inRange(evt.CreatedAt, opts.From, opts.To) {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}
	return result
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateDelivery persists a new delivery, allowing one pending delivery per event.
func (s *Store) CreateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Status == delivery.StatusPending && s.hasOtherPending(d) {
		return hookrelay.ErrDeliveryInProgress
	}

	key := d.ID.String()
	s.seq++
	s.deliveries[key] = copyDelivery(d)
	s.deliverySeq[key] = s.seq
	if !d.JobID.IsNil() {
		s.deliveryByJob[d.JobID.String()] = key
	}
	return nil
}

// UpdateDelivery modifies an existing delivery.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.ID.String()
	if _, ok := s.deliveries[key]; !ok {
		return hookrelay.ErrDeliveryNotFound
	}
	if d.Status == delivery.StatusPending && s.hasOtherPending(d) {
		return hookrelay.ErrDeliveryInProgress
	}
	s.deliveries[key] = copyDelivery(d)
	if !d.JobID.IsNil() {
		s.deliveryByJob[d.JobID.String()] = key
	}
	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, hookrelay.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// GetDeliveryByJob returns the delivery driven by a queue job.
func (s *Store) GetDeliveryByJob(_ context.Context, jobID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.deliveryByJob[jobID.String()]
	if !ok {
		return nil, hookrelay.ErrDeliveryNotFound
	}
	return copyDelivery(s.deliveries[key]), nil
}

// LatestDelivery returns the newest delivery of an event.
func (s *Store) LatestDelivery(_ context.Context, evtID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *delivery.Delivery
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		if latest == nil || s.newer(d, latest) {
			latest = d
		}
	}
	if latest == nil {
		return nil, hookrelay.ErrDeliveryNotFound
	}
	return copyDelivery(latest), nil
}

// ListDeliveries returns deliveries, newest first.
func (s *Store) ListDeliveries(_ context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.matchDeliveries(opts)
	sort.Slice(result, func(i, j int) bool {
		return s.newer(result[i], result[j])
	})
	result = applyPagination(result, opts.Offset, opts.Limit)
	for i, d := range result {
		result[i] = copyDelivery(d)
	}
	return result, nil
}

// CountDeliveries returns the number of deliveries matching opts.
func (s *Store) CountDeliveries(_ context.Context, opts delivery.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchDeliveries(opts))), nil
}

func (s *Store) matchDeliveries(opts delivery.ListOpts) []*delivery.Delivery {
	var result []*delivery.Delivery
	for _, d := range s.deliveries {
		if !opts.EventID.IsNil() && d.EventID.String() != opts.EventID.String() {
			continue
		}
		if !opts.WebhookID.IsNil() && d.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}
		if !inRange(d.CreatedAt, opts.From, opts.To) {
			continue
		}
		result = append(result, d)
	}
	return result
}

// hasOtherPending reports whether another delivery of d's event is pending.
// Callers hold the lock.
func (s *Store) hasOtherPending(d *delivery.Delivery) bool {
	for key, other := range s.deliveries {
		if key == d.ID.String() {
			continue
		}
		if other.EventID.String() == d.EventID.String() && other.Status == delivery.StatusPending {
			return true
		}
	}
	return false
}

// newer orders deliveries by creation time, then insertion order. Callers hold the lock.
func (s *Store) newer(a, b *delivery.Delivery) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return s.deliverySeq[a.ID.String()] > s.deliverySeq[b.ID.String()]
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	if d.LastError != nil {
		e := *d.LastError
		cp.LastError = &e
	}
	if d.LastResponse != nil {
		r := *d.LastResponse
		cp.LastResponse = &r
	}
	return &cp
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// Escalate inserts a DLQ entry and marks its delivery permanently failed
// under a single lock. A delivery still pending becomes failed.
func (s *Store) Escalate(_ context.Context, entry *dlq.Entry, failedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delKey := entry.DeliveryID.String()
	if _, ok := s.dlqByDelivery[delKey]; ok {
		return hookrelay.ErrAlreadyEscalated
	}
	d, ok := s.deliveries[delKey]
	if !ok {
		return hookrelay.ErrDeliveryNotFound
	}

	ts := failedAt.UTC()
	d.PermanentlyFailedAt = &ts
	d.UpdatedAt = ts
	if d.Status == delivery.StatusPending {
		d.Status = delivery.StatusFailed
	}

	cp := *entry
	s.dlqEntries[entry.ID.String()] = &cp
	s.dlqByDelivery[delKey] = entry.ID.String()
	return nil
}

// GetDLQ returns a DLQ entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, hookrelay.ErrDLQNotFound
	}
	cp := *entry
	return &cp, nil
}

// ListDLQ returns DLQ entries, newest first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.matchDLQ(opts)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountDLQ returns the number of DLQ entries matching opts.
func (s *Store) CountDLQ(_ context.Context, opts dlq.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matchDLQ(opts))), nil
}

func (s *Store) matchDLQ(opts dlq.ListOpts) []*dlq.Entry {
	var result []*dlq.Entry
	for _, entry := range s.dlqEntries {
		if !opts.EventID.IsNil() && entry.EventID.String() != opts.EventID.String() {
			continue
		}
		if !opts.WebhookID.IsNil() && entry.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if !inRange(entry.CreatedAt, opts.From, opts.To) {
			continue
		}
		cp := *entry
		result = append(result, &cp)
	}
	return result
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
