package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт журнал заказов поверх таблицы timeline_events.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

// Append выдаёт следующий seq внутри заказа. Advisory-lock по order_id
// сериализует параллельные записи в один журнал.
func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now()
	}
	event.Occurred = event.Occurred.UTC()

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.OrderID); err != nil {
			return domain.StoreError("lock timeline", err)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO timeline_events (order_id, seq, type, reason, occurred)
			SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
			FROM timeline_events WHERE order_id = $1
			RETURNING seq
		`, event.OrderID, event.Type, event.Reason, event.Occurred).Scan(&event.Seq)
		if err != nil {
			return domain.StoreError("append timeline event", err)
		}
		return nil
	})
	if err != nil {
		return domain.TimelineEvent{}, err
	}
	return event, nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, seq, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, domain.StoreError("list timeline events", err)
	}
	defer rows.Close()

	history := make([]domain.TimelineEvent, 0, 8)
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.OrderID, &e.Seq, &e.Type, &e.Reason, &e.Occurred); err != nil {
			return nil, domain.StoreError("scan timeline event", err)
		}
		e.Occurred = e.Occurred.UTC()
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("iterate timeline events", err)
	}
	return history, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
