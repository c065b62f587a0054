package pebble

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type timelineRepository struct {
	s *Store
}

func timelinePrefix(orderID string) string {
	return prefixTimeline + orderID + "/"
}

// Append пишет событие под ключом timeline/<order>/<seq>. Seq дополнен нулями,
// так что обход префикса идёт в порядке записи.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var last int64
	err := r.s.scan(timelinePrefix(event.OrderID), func(_, _ []byte) error {
		last++
		return nil
	})
	if err != nil {
		return domain.TimelineEvent{}, err
	}
	event.Seq = last + 1

	b := r.s.newBatch()
	b.setJSON([]byte(fmt.Sprintf("%s%012d", timelinePrefix(event.OrderID), event.Seq)), event)
	if err := b.commit(); err != nil {
		return domain.TimelineEvent{}, err
	}
	return event, nil
}

func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	history := make([]domain.TimelineEvent, 0)
	err := r.s.scan(timelinePrefix(orderID), func(_, v []byte) error {
		var event domain.TimelineEvent
		if err := json.Unmarshal(v, &event); err != nil {
			return domain.StoreError("pebble decode timeline", err)
		}
		history = append(history, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
