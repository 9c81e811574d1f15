package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	hookrelaystore "github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// compile-time interface check
var _ hookrelaystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and triggers using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hookrelay/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookrelay/sqlite: %w: %w", hookrelay.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	_, err := s.sdb.NewInsert(toWebhookModel(wh)).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", whID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrWebhookNotFound
		}
		return nil, err
	}
	return fromWebhookModel(m)
}

func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookrelay.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	var models []webhookModel
	q := s.sdb.NewSelect(&models)
	f := webhookFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*webhook.Webhook, len(models))
	for i := range models {
		wh, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = wh
	}
	return result, nil
}

func (s *Store) CountWebhooks(ctx context.Context, opts webhook.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*webhookModel)(nil))
	f := webhookFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	return q.Count(ctx)
}

func webhookFilter(opts webhook.ListOpts) *filter {
	f := new(filter)
	if opts.ClientID != "" {
		f.add("client_id = ?", opts.ClientID)
	}
	if opts.Active != nil {
		f.add("active = ?", *opts.Active)
	}
	return f
}

// ==================== Topic Store ====================

func (s *Store) CreateTopic(ctx context.Context, t *topic.Topic) error {
	_, err := s.sdb.NewInsert(toTopicModel(t)).Exec(ctx)
	return err
}

func (s *Store) GetTopic(ctx context.Context, topicID id.ID) (*topic.Topic, error) {
	m := new(topicModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", topicID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrTopicNotFound
		}
		return nil, err
	}
	return fromTopicModel(m)
}

func (s *Store) ListTopics(ctx context.Context, opts topic.ListOpts) ([]*topic.Topic, error) {
	var models []topicModel
	q := s.sdb.NewSelect(&models)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*topic.Topic, len(models))
	for i := range models {
		t, err := fromTopicModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) CountTopics(ctx context.Context) (int64, error) {
	return s.sdb.NewSelect((*topicModel)(nil)).Count(ctx)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	res, err := s.sdb.NewInsert(toEventModel(evt)).
		OnConflict("(idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookrelay.ErrDuplicateIdempotencyKey
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return s.getEvent(ctx, "id = ?", evtID.String())
}

func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*event.Event, error) {
	return s.getEvent(ctx, "idempotency_key = ?", key)
}

func (s *Store) getEvent(ctx context.Context, clause string, arg any) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where(clause, arg).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models)
	f := eventFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) CountEvents(ctx context.Context, opts event.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*eventModel)(nil))
	f := eventFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	return q.Count(ctx)
}

func eventFilter(opts event.ListOpts) *filter {
	f := new(filter)
	if !opts.WebhookID.IsNil() {
		f.add("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.ClientID != "" {
		f.add("client_id = ?", opts.ClientID)
	}
	if opts.From != nil {
		f.add("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		f.add("created_at <= ?", *opts.To)
	}
	return f
}

// ==================== Delivery Store ====================

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.sdb.NewInsert(toDeliveryModel(d)).
		OnConflict("(event_id) WHERE status = 'pending' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookrelay.ErrDeliveryInProgress
	}
	return nil
}

// UpdateDelivery writes the mutable attempt state; permanently_failed_at is
// left to the escalation trigger.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("status = ?", m.Status).
		Set("attempt_count = ?", m.AttemptCount).
		Set("max_attempts = ?", m.MaxAttempts).
		Set("payload = ?", m.Payload).
		Set("next_retry_at = ?", m.NextRetryAt).
		Set("last_error = ?", m.LastError).
		Set("last_response = ?", m.LastResponse).
		Set("completed_at = ?", m.CompletedAt).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return hookrelay.ErrDeliveryInProgress
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookrelay.ErrDeliveryNotFound
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, "id = ?", delID.String())
}

func (s *Store) GetDeliveryByJob(ctx context.Context, jobID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, "job_id = ?", jobID.String())
}

func (s *Store) getDelivery(ctx context.Context, clause string, arg any) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where(clause, arg).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) LatestDelivery(ctx context.Context, evtID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("event_id = ?", evtID.String()).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.sdb.NewSelect(&models)
	f := deliveryFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) CountDeliveries(ctx context.Context, opts delivery.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*deliveryModel)(nil))
	f := deliveryFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	return q.Count(ctx)
}

func deliveryFilter(opts delivery.ListOpts) *filter {
	f := new(filter)
	if !opts.EventID.IsNil() {
		f.add("event_id = ?", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		f.add("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.Status != nil {
		f.add("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		f.add("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		f.add("created_at <= ?", *opts.To)
	}
	return f
}

// ==================== DLQ Store ====================

// Escalate inserts the entry; the escalation trigger stamps the delivery in
// the same statement. SQLite serializes writers, so the conflict check and
// the trigger cannot interleave with another escalation.
func (s *Store) Escalate(ctx context.Context, entry *dlq.Entry, failedAt time.Time) error {
	if _, err := s.GetDelivery(ctx, entry.DeliveryID); err != nil {
		return err
	}

	res, err := s.sdb.NewInsert(toDLQEntryModel(entry, failedAt.UTC())).
		OnConflict("(delivery_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hookrelay/sqlite: escalate: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookrelay.ErrAlreadyEscalated
	}
	return nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookrelay.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)
	f := dlqFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("failed_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) CountDLQ(ctx context.Context, opts dlq.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*dlqEntryModel)(nil))
	f := dlqFilter(opts)
	for i := range f.clauses {
		q = q.Where(f.clauses[i], f.args[i])
	}
	return q.Count(ctx)
}

func dlqFilter(opts dlq.ListOpts) *filter {
	f := new(filter)
	if !opts.EventID.IsNil() {
		f.add("event_id = ?", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		f.add("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.From != nil {
		f.add("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		f.add("failed_at <= ?", *opts.To)
	}
	return f
}

// ==================== Helpers ====================

type filter struct {
	clauses []string
	args    []any
}

func (f *filter) add(clause string, arg any) {
	f.clauses = append(f.clauses, clause)
	f.args = append(f.args, arg)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLite's constraint error text, which is the
// same across the cgo and pure-Go drivers.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
