package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	outboxPending   = "pending"
	outboxDelivered = "delivered"
	outboxDead      = "dead"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository хранит очередь outbox в таблице outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Attempts = 0
	msg.CreatedAt = time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, domain.StoreError("enqueue outbox message", err)
	}
	return msg, nil
}

func (r *outboxRepository) Pending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, attempts, created_at
		FROM outbox_messages
		WHERE state = $1
		ORDER BY seq
		LIMIT $2
	`, outboxPending, batch)
	if err != nil {
		return nil, domain.StoreError("select pending outbox", err)
	}
	defer rows.Close()

	var queue []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, domain.StoreError("scan outbox message", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		queue = append(queue, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("iterate outbox", err)
	}
	return queue, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxDelivered)
}

func (r *outboxRepository) RecordFailure(ctx context.Context, id string, dead bool) error {
	next := outboxPending
	if dead {
		next = outboxDead
	}
	return r.finish(ctx, id, next)
}

// finish засчитывает попытку и переводит pending-сообщение в state.
// Ноль затронутых строк означает, что сообщения в очереди нет.
func (r *outboxRepository) finish(ctx context.Context, id, state string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET state = $2,
		    attempts = attempts + 1,
		    finished_at = CASE WHEN $2 = 'pending' THEN NULL ELSE $3::timestamptz END
		WHERE id = $1 AND state = 'pending'
	`, id, state, time.Now().UTC())
	if err != nil {
		return domain.StoreError("update outbox message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StoreError("outbox rows affected", err)
	}
	if n == 0 {
		return domain.ErrOutboxMessageNotFound
	}
	return nil
}

func (r *outboxRepository) Backlog(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = $1),
			COUNT(*) FILTER (WHERE state = $2),
			MIN(created_at) FILTER (WHERE state = $1)
		FROM outbox_messages
	`, outboxPending, outboxDead).Scan(&stats.PendingCount, &stats.DeadCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, domain.StoreError("outbox backlog", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
