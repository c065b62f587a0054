package outbox

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// LogPublisher пишет события в лог вместо брокера, когда Kafka не настроена.
type LogPublisher struct {
	logger *log.Entry
}

func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate":    event.AggregateType + "/" + event.AggregateID,
		"event_type":   event.EventType,
		"payload_size": len(event.Payload),
	}).Info("lifecycle event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
