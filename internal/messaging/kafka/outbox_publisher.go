package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// TopicPublisher публикует сообщения outbox в topic, который выбирает route.
type TopicPublisher struct {
	producer *Producer
	route    func(domain.OutboxMessage) string
	now      func() time.Time
}

// NewOutboxPublisher раскладывает события объявлений и заказов по своим topics.
func NewOutboxPublisher(producer *Producer) *TopicPublisher {
	return &TopicPublisher{
		producer: producer,
		route:    func(m domain.OutboxMessage) string { return TopicFor(m.AggregateType) },
		now:      time.Now,
	}
}

// NewDLQPublisher пишет всё в TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer) *TopicPublisher {
	return &TopicPublisher{
		producer: producer,
		route:    func(domain.OutboxMessage) string { return TopicDeadLetterQueue },
		now:      time.Now,
	}
}

func (p *TopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil || p.producer.sync == nil {
		return fmt.Errorf("%w: kafka producer is not configured", domain.ErrOutboxPublish)
	}

	value, err := json.Marshal(NewLifecycleEvent(event, p.now()))
	if err != nil {
		return fmt.Errorf("encode lifecycle event %s: %w", event.ID, err)
	}
	return p.producer.Deliver(ctx, Record{
		Topic: p.route(event),
		Key:   partitionKey(event),
		Value: value,
		Headers: map[string]string{
			HeaderEventType:     event.EventType,
			HeaderAggregateType: event.AggregateType,
			HeaderOutboxID:      event.ID,
		},
	})
}

func partitionKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)
