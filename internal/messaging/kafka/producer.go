package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "card-market"

// Record: одно сообщение для отправки. Key определяет партицию, поэтому
// события одного объявления или заказа остаются упорядоченными.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// ProducerConfig: параметры подключения producer'а.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// Producer отправляет записи синхронно и ждёт подтверждения всех реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам идемпотентным producer'ом.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	sp, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: connect producer: %w", err)
	}
	return wrapProducer(sp), nil
}

func saramaConfig(clientID string) *sarama.Config {
	if clientID == "" {
		clientID = defaultClientID
	}
	c := sarama.NewConfig()
	c.ClientID = clientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Idempotent = true
	c.Producer.Retry.Max = 5
	c.Producer.Return.Successes = true
	c.Producer.Partitioner = sarama.NewHashPartitioner
	c.Producer.Compression = sarama.CompressionSnappy
	// идемпотентный producer требует одного запроса в полёте
	c.Net.MaxOpenRequests = 1
	return c
}

func wrapProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{sync: sp, logger: log.WithField("component", "kafka-producer")}
}

// Deliver отправляет записи одним вызовом. При частичном отказе возвращает
// первую ошибку; уже принятые брокером записи не откатываются.
func (p *Producer) Deliver(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	now := time.Now()
	for _, rec := range records {
		msgs = append(msgs, toProducerMessage(rec, now))
	}

	if len(msgs) == 1 {
		partition, offset, err := p.sync.SendMessage(msgs[0])
		if err != nil {
			p.logger.WithError(err).WithField("topic", records[0].Topic).Error("kafka send failed")
			return fmt.Errorf("kafka: send to %s: %w", records[0].Topic, err)
		}
		p.logger.WithFields(log.Fields{
			"topic":     records[0].Topic,
			"key":       records[0].Key,
			"partition": partition,
			"offset":    offset,
		}).Debug("kafka record delivered")
		return nil
	}

	if err := p.sync.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) && len(perrs) > 0 {
			p.logger.WithError(perrs[0].Err).WithField("failed", len(perrs)).Error("kafka batch partially failed")
			return fmt.Errorf("kafka: %d of %d records failed: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return fmt.Errorf("kafka: send batch: %w", err)
	}
	return nil
}

func toProducerMessage(rec Record, at time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(rec.Value),
		Timestamp: at,
	}
	for k, v := range rec.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return msg
}

func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("kafka: close producer: %w", err)
	}
	return nil
}
