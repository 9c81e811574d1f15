// Package bunstore implements store.Store on the Bun ORM, for applications
// that already run a Bun connection pool against PostgreSQL.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

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

// Store implements store.Store using the Bun ORM.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a new Bun-backed store.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*webhookModel)(nil),
		(*topicModel)(nil),
		(*eventModel)(nil),
		(*deliveryModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("hookrelay/bun: %w: %w", hookrelay.ErrMigrationFailed, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_webhooks_client ON hookrelay_webhooks (client_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_events_webhook ON hookrelay_events (webhook_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_events_client ON hookrelay_events (client_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_deliveries_event ON hookrelay_deliveries (event_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_deliveries_webhook ON hookrelay_deliveries (webhook_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_hookrelay_deliveries_in_flight ON hookrelay_deliveries (event_id) WHERE status = 'pending'",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_event ON hookrelay_dlq (event_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_failed ON hookrelay_dlq (failed_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("hookrelay/bun: %w: %w", hookrelay.ErrMigrationFailed, err)
		}
	}

	s.logger.Debug("bun store migrated", "tables", len(models), "indexes", len(indexes))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	_, err := s.db.NewInsert().Model(toWebhookModel(wh)).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", whID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookrelay.ErrWebhookNotFound
		}
		return nil, err
	}
	return fromWebhookModel(m)
}

func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		ExcludeColumn("created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	return affected(res, hookrelay.ErrWebhookNotFound)
}

func (s *Store) ListWebhooks(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	var models []webhookModel
	q := webhookFilter(s.db.NewSelect().Model(&models), opts)
	q = paginate(q, opts.Offset, opts.Limit).OrderExpr("created_at DESC, id DESC")
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
	n, err := webhookFilter(s.db.NewSelect().Model((*webhookModel)(nil)), opts).Count(ctx)
	return int64(n), err
}

func webhookFilter(q *bun.SelectQuery, opts webhook.ListOpts) *bun.SelectQuery {
	if opts.ClientID != "" {
		q = q.Where("client_id = ?", opts.ClientID)
	}
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	return q
}

// ==================== Topic Store ====================

func (s *Store) CreateTopic(ctx context.Context, t *topic.Topic) error {
	_, err := s.db.NewInsert().Model(toTopicModel(t)).Exec(ctx)
	return err
}

func (s *Store) GetTopic(ctx context.Context, topicID id.ID) (*topic.Topic, error) {
	m := new(topicModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", topicID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookrelay.ErrTopicNotFound
		}
		return nil, err
	}
	return fromTopicModel(m)
}

func (s *Store) ListTopics(ctx context.Context, opts topic.ListOpts) ([]*topic.Topic, error) {
	var models []topicModel
	q := paginate(s.db.NewSelect().Model(&models), opts.Offset, opts.Limit).
		OrderExpr("created_at DESC, id DESC")
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
	n, err := s.db.NewSelect().Model((*topicModel)(nil)).Count(ctx)
	return int64(n), err
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	res, err := s.db.NewInsert().
		Model(toEventModel(evt)).
		On("CONFLICT (idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return affected(res, hookrelay.ErrDuplicateIdempotencyKey)
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return s.getEvent(ctx, "id = ?", evtID.String())
}

func (s *Store) GetEventByIdempotencyKey(ctx context.Context, key string) (*event.Event, error) {
	return s.getEvent(ctx, "idempotency_key = ?", key)
}

func (s *Store) getEvent(ctx context.Context, clause string, arg any) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where(clause, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookrelay.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := eventFilter(s.db.NewSelect().Model(&models), opts)
	q = paginate(q, opts.Offset, opts.Limit).OrderExpr("created_at DESC, id DESC")
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
	n, err := eventFilter(s.db.NewSelect().Model((*eventModel)(nil)), opts).Count(ctx)
	return int64(n), err
}

func eventFilter(q *bun.SelectQuery, opts event.ListOpts) *bun.SelectQuery {
	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.ClientID != "" {
		q = q.Where("client_id = ?", opts.ClientID)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	return q
}

// ==================== Delivery Store ====================

func (s *Store) CreateDelivery(ctx context.Context, d *delivery.Delivery) error {
	res, err := s.db.NewInsert().
		Model(toDeliveryModel(d)).
		On("CONFLICT (event_id) WHERE status = 'pending' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	return affected(res, hookrelay.ErrDeliveryInProgress)
}

func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		Column(attemptColumns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return hookrelay.ErrDeliveryInProgress
		}
		return err
	}
	return affected(res, hookrelay.ErrDeliveryNotFound)
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, s.db.NewSelect().Where("id = ?", delID.String()))
}

func (s *Store) GetDeliveryByJob(ctx context.Context, jobID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, s.db.NewSelect().Where("job_id = ?", jobID.String()))
}

func (s *Store) LatestDelivery(ctx context.Context, evtID id.ID) (*delivery.Delivery, error) {
	return s.getDelivery(ctx, s.db.NewSelect().
		Where("event_id = ?", evtID.String()).
		OrderExpr("created_at DESC, id DESC"))
}

func (s *Store) getDelivery(ctx context.Context, q *bun.SelectQuery) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	if err := q.Model(m).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookrelay.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := deliveryFilter(s.db.NewSelect().Model(&models), opts)
	q = paginate(q, opts.Offset, opts.Limit).OrderExpr("created_at DESC, id DESC")
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
	n, err := deliveryFilter(s.db.NewSelect().Model((*deliveryModel)(nil)), opts).Count(ctx)
	return int64(n), err
}

func deliveryFilter(q *bun.SelectQuery, opts delivery.ListOpts) *bun.SelectQuery {
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	return q
}

// ==================== DLQ Store ====================

// Escalate inserts the entry and stamps the delivery in one transaction. A
// pending delivery becomes failed.
func (s *Store) Escalate(ctx context.Context, entry *dlq.Entry, failedAt time.Time) error {
	ts := failedAt.UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(toDLQEntryModel(entry, ts)).
			On("CONFLICT (delivery_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("hookrelay/bun: insert dlq entry: %w", err)
		}
		if err := affected(res, hookrelay.ErrAlreadyEscalated); err != nil {
			return err
		}

		res, err = tx.NewUpdate().
			Model((*deliveryModel)(nil)).
			Set("permanently_failed_at = ?", ts).
			Set("updated_at = ?", ts).
			Set("status = CASE WHEN status = ? THEN ? ELSE status END",
				string(delivery.StatusPending), string(delivery.StatusFailed)).
			Where("id = ?", entry.DeliveryID.String()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("hookrelay/bun: stamp delivery: %w", err)
		}
		return affected(res, hookrelay.ErrDeliveryNotFound)
	})
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", dlqID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookrelay.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := dlqFilter(s.db.NewSelect().Model(&models), opts)
	q = paginate(q, opts.Offset, opts.Limit).OrderExpr("failed_at DESC, id DESC")
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
	n, err := dlqFilter(s.db.NewSelect().Model((*dlqEntryModel)(nil)), opts).Count(ctx)
	return int64(n), err
}

func dlqFilter(q *bun.SelectQuery, opts dlq.ListOpts) *bun.SelectQuery {
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	return q
}

// ==================== Helpers ====================

func paginate(q *bun.SelectQuery, offset, limit int) *bun.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

// affected returns notFound when res touched no rows.
func affected(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
