package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// Topics для событий маркетплейса.
const (
	TopicListingEvents   = "market.listing.events"
	TopicOrderEvents     = "market.order.events"
	TopicDeadLetterQueue = "market.dlq"
)

// Kafka headers, которые ставит publisher.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// LifecycleEvent: конверт события outbox в Kafka.
type LifecycleEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewLifecycleEvent собирает конверт из сообщения outbox.
func NewLifecycleEvent(msg domain.OutboxMessage, at time.Time) LifecycleEvent {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return LifecycleEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}
}

// ParseLifecycleEvent разбирает значение сообщения Kafka.
func ParseLifecycleEvent(value []byte) (LifecycleEvent, error) {
	var event LifecycleEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return LifecycleEvent{}, fmt.Errorf("unmarshal lifecycle event: %w", err)
	}
	return event, nil
}

// TopicFor выбирает topic по типу агрегата.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateListing {
		return TopicListingEvents
	}
	return TopicOrderEvents
}
