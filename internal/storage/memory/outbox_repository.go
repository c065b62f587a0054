package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// OutboxRepository: очередь outbox в памяти. Сообщения лежат в срезе в
// порядке Enqueue; доставленные и мёртвые вычищаются из него сразу.
type OutboxRepository struct {
	mu      sync.Mutex
	queue   []domain.OutboxMessage
	dead    map[string]domain.OutboxMessage
	nowFunc func() time.Time
}

// NewOutboxRepository создаёт пустую очередь.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		dead:    make(map[string]domain.OutboxMessage),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	msg.Attempts = 0
	msg.CreatedAt = r.nowFunc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, msg)
	return msg, nil
}

func (r *OutboxRepository) Pending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.queue)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.OutboxMessage, n)
	copy(out, r.queue[:n])
	return out, nil
}

func (r *OutboxRepository) MarkDelivered(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return domain.ErrOutboxMessageNotFound
	}
	r.queue = append(r.queue[:i], r.queue[i+1:]...)
	return nil
}

func (r *OutboxRepository) RecordFailure(_ context.Context, id string, dead bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return domain.ErrOutboxMessageNotFound
	}
	r.queue[i].Attempts++
	if dead {
		r.dead[id] = r.queue[i]
		r.queue = append(r.queue[:i], r.queue[i+1:]...)
	}
	return nil
}

func (r *OutboxRepository) Backlog(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(r.queue), DeadCount: len(r.dead)}
	if len(r.queue) > 0 {
		stats.OldestPendingAt = r.queue[0].CreatedAt
	}
	return stats, nil
}

func (r *OutboxRepository) indexLocked(id string) int {
	for i := range r.queue {
		if r.queue[i].ID == id {
			return i
		}
	}
	return -1
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
