package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// TimelineRepository хранит журнал каждого заказа отдельным срезом.
type TimelineRepository struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт пустой журнал.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append дописывает событие в конец журнала заказа и выдаёт ему Seq.
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byOrder[event.OrderID]
	event.Seq = int64(len(history)) + 1
	r.byOrder[event.OrderID] = append(history, event)
	return event, nil
}

// List возвращает копию журнала; для неизвестного заказа: пустой срез.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
