package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/outbox"
)

// eventSink: куда outbox worker отдаёт события и мёртвые письма.
type eventSink struct {
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	producer    *kafka.Producer
	kind        string
}

// newEventSink подключает Kafka, если заданы брокеры. Недоступная Kafka
// не валит сервис: события уходят в лог, а outbox не копит очередь.
func newEventSink(cfg Config, logger *log.Entry) eventSink {
	logSink := eventSink{publisher: outbox.NewLogPublisher(logger.WithField("sink", "log")), kind: "log"}
	if !cfg.KafkaEnabled() {
		return logSink
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
	if err != nil {
		logger.WithError(err).WithField("brokers", cfg.KafkaBrokers).Warn("kafka unavailable, lifecycle events go to log")
		return logSink
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer connected")
	return eventSink{
		publisher:   kafka.NewOutboxPublisher(producer),
		deadLetters: kafka.NewDLQPublisher(producer),
		producer:    producer,
		kind:        "kafka",
	}
}

func (s eventSink) close(logger *log.Entry) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer close failed")
	}
}
