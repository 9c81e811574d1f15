package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hookrelay/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookrelay/postgres: %w: %w", hookrelay.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(toWebhookModel(wh)).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", whID.String()).
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
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
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
	q := s.pg.NewSelect(&models)
	w := webhookFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
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
	q := s.pg.NewSelect((*webhookModel)(nil))
	w := webhookFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
	}
	return q.Count(ctx)
}

func webhookFilter(opts webhook.ListOpts) *where {
	w := new(where)
	if opts.ClientID != "" {
		w.add("client_id = $%d", opts.ClientID)
	}
	if opts.Active != nil {
		w.add("active = $%d", *opts.Active)
	}
	return w
}

// ==================== Topic Store ====================

func (s *Store) CreateTopic(ctx context.Context, t *topic.Topic) error {
	_, err := s.pg.NewInsert(toTopicModel(t)).Exec(ctx)
	return err
}

func (s *Store) GetTopic(ctx context.Context, topicID id.ID) (*topic.Topic, error) {
	m := new(topicModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", topicID.String()).
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
	q := s.pg.NewSelect(&models)
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
	return s.pg.NewSelect((*topicModel)(nil)).Count(ctx)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	res, err := s.pg.NewInsert(toEventModel(evt)).
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
	return s.getEvent(ctx, "id = $1", evtID.String())
}

func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*event.Event, error) {
	return s.getEvent(ctx, "idempotency_key = $1", key)
}

func (s *Store) getEvent(ctx context.Context, clause string, arg any) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
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
	q := s.pg.NewSelect(&models)
	w := eventFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
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
	q := s.pg.NewSelect((*eventModel)(nil))
	w := eventFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
	}
	return q.Count(ctx)
}

func eventFilter(opts event.ListOpts) *where {
	w := new(where)
	if !opts.WebhookID.IsNil() {
		w.add("webhook_id = $%d", opts.WebhookID.String())
	}
	if opts.ClientID != "" {
		w.add("client_id = $%d", opts.ClientID)
	}
	if opts.From != nil {
		w.add("created_at >= $%d", *opts.From)
	}
	if opts.To != nil {
		w.add("created_at <= $%d", *opts.To)
	}
	return w
}

// ==================== Delivery Store ====================

// CreateDelivery relies on the partial unique index over pending deliveries:
// a conflicting insert affects no rows.
func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.pg.NewInsert(toDeliveryModel(d)).
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

// UpdateDelivery writes the mutable attempt state. PermanentlyFailedAt is
// owned by Escalate and never written here.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("status = $1", m.Status).
		Set("attempt_count = $2", m.AttemptCount).
		Set("max_attempts = $3", m.MaxAttempts).
		Set("payload = $4", m.Payload).
		Set("next_retry_at = $5", m.NextRetryAt).
		Set("last_error = $6", m.LastError).
		Set("last_response = $7", m.LastResponse).
		Set("completed_at = $8", m.CompletedAt).
		Set("updated_at = $9", m.UpdatedAt).
		Where("id = $10", m.ID).
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
	return s.getDelivery(ctx, "id = $1", delID.String())
}

func (s *Store) GetDeliveryByJob(ctx context.Context, jobID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, "job_id = $1", jobID.String())
}

func (s *Store) getDelivery(ctx context.Context, clause string, arg any) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
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
	err := s.pg.NewSelect(m).
		Where("event_id = $1", evtID.String()).
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
	q := s.pg.NewSelect(&models)
	w := deliveryFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
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
	q := s.pg.NewSelect((*deliveryModel)(nil))
	w := deliveryFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
	}
	return q.Count(ctx)
}

func deliveryFilter(opts delivery.ListOpts) *where {
	w := new(where)
	if !opts.EventID.IsNil() {
		w.add("event_id = $%d", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		w.add("webhook_id = $%d", opts.WebhookID.String())
	}
	if opts.Status != nil {
		w.add("status = $%d", string(*opts.Status))
	}
	if opts.From != nil {
		w.add("created_at >= $%d", *opts.From)
	}
	if opts.To != nil {
		w.add("created_at <= $%d", *opts.To)
	}
	return w
}

// ==================== DLQ Store ====================

// escalateSQL inserts the entry and stamps the delivery in one statement.
// The UPDATE only runs when the INSERT produced a row. A pending delivery
// becomes failed.
const escalateSQL = `
WITH ins AS (
    INSERT INTO hookrelay_dlq (
        id, delivery_id, event_id, webhook_id, payload, status, attempt_count,
        last_error, last_response, failed_at, created_at, updated_at
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    ON CONFLICT (delivery_id) DO NOTHING
    RETURNING delivery_id
)
UPDATE hookrelay_deliveries
SET permanently_failed_at = $10, updated_at = $10,
    status = CASE WHEN status = 'pending' THEN 'failed' ELSE status END
WHERE id IN (SELECT delivery_id FROM ins)
RETURNING *`

func (s *Store) Escalate(ctx context.Context, entry *dlq.Entry, failedAt time.Time) error {
	if _, err := s.GetDelivery(ctx, entry.DeliveryID); err != nil {
		return err
	}

	ts := failedAt.UTC()
	var updated []deliveryModel
	err := s.pg.NewRaw(escalateSQL,
		entry.ID.String(),
		entry.DeliveryID.String(),
		entry.EventID.String(),
		entry.WebhookID.String(),
		string(entry.Payload),
		entry.Status,
		entry.AttemptCount,
		marshalOptional(entry.LastError),
		marshalOptional(entry.LastResponse),
		ts,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Scan(ctx, &updated)
	if err != nil {
		return fmt.Errorf("hookrelay/postgres: escalate: %w", err)
	}
	if len(updated) == 0 {
		return hookrelay.ErrAlreadyEscalated
	}
	return nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", dlqID.String()).
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
	q := s.pg.NewSelect(&models)
	w := dlqFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
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
	q := s.pg.NewSelect((*dlqEntryModel)(nil))
	w := dlqFilter(opts)
	for i := range w.clauses {
		q = q.Where(w.clauses[i], w.args[i])
	}
	return q.Count(ctx)
}

func dlqFilter(opts dlq.ListOpts) *where {
	w := new(where)
	if !opts.EventID.IsNil() {
		w.add("event_id = $%d", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		w.add("webhook_id = $%d", opts.WebhookID.String())
	}
	if opts.From != nil {
		w.add("failed_at >= $%d", *opts.From)
	}
	if opts.To != nil {
		w.add("failed_at <= $%d", *opts.To)
	}
	return w
}

// ==================== Helpers ====================

// where collects filter clauses numbered in the order they are added.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505") ||
		strings.Contains(err.Error(), "duplicate key value")
}
