// Команда dlq-replay читает market.dlq и возвращает недоставленные события
// outbox в topics объявлений и заказов. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second

	headerReplayedFrom = "x-replayed-from"
)

// errSkip помечает сообщение DLQ, которое нельзя переиграть.
var errSkip = errors.New("not a replayable dlq message")

type options struct {
	brokers     []string
	clientID    string
	sourceTopic string
	// targetTopic переопределяет маршрутизацию по типу агрегата.
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// dlqEntry: payload, который outbox worker кладёт в конверт DLQ.
type dlqEntry struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsets interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type sender interface {
	SendMessage(msg *sarama.ProducerMessage) (int32, int64, error)
	Close() error
}

type consumerSource struct{ sarama.Consumer }

func (c consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}

// replayCandidate: готовое к отправке событие.
type replayCandidate struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) add(other summary) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	opts     options
	offsets  offsets
	streams  streamSource
	producer sender
	logger   *log.Entry
}

// connect открывает клиента Kafka; producer создаётся только в режиме -execute.
var connect = func(opts options) (offsets, streamSource, sender, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = opts.clientID
	cfg.Consumer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !opts.execute {
		return client, consumerSource{consumer}, nil, nil
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, consumerSource{consumer}, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: MARKET_KAFKA_BROKERS)")
	fs.StringVar(&opts.clientID, "client-id", "card-market-dlq-replay", "Kafka client id")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.targetTopic, "target-topic", "", "send everything to this topic instead of routing by aggregate type")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max number of messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed events; default is dry-run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle time")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("MARKET_KAFKA_BROKERS")
	}
	opts.brokers = splitBrokers(brokers)

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or MARKET_KAFKA_BROKERS)"))
	}
	if strings.TrimSpace(opts.sourceTopic) == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return opts, errors.Join(errs...)
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, opts options) error {
	client, streams, producer, err := connect(opts)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = streams.Close()
		_ = client.Close()
	}()

	r := &replayer{
		opts:     opts,
		offsets:  client,
		streams:  streams,
		producer: producer,
		logger:   log.WithField("component", "dlq-replay"),
	}
	_, err = r.replay(ctx)
	return err
}

func (r *replayer) replay(ctx context.Context) (summary, error) {
	var total summary
	if r.opts.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		left := r.opts.limit - total.scanned
		if left <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, left)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.opts.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// replayPartition читает партицию от начала (или последние limit сообщений)
// до high watermark, зафиксированного на старте.
func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (summary, error) {
	var stats summary
	topic := r.opts.sourceTopic

	oldest, err := r.offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.opts.fromNewest {
		start = max(oldest, newest-int64(limit))
	}

	stream, err := r.streams.ConsumePartition(topic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-stream.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)

			stats.scanned++
			if err := r.handle(msg); err != nil {
				if !errors.Is(err, errSkip) {
					return stats, err
				}
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	candidate, err := buildCandidate(msg, r.opts.targetTopic, time.Now())
	if err != nil {
		return err
	}

	fields := log.Fields{
		"offset":       msg.Offset,
		"target_topic": candidate.topic,
		"key":          candidate.key,
	}
	if !r.opts.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     candidate.topic,
		Key:       sarama.StringEncoder(candidate.key),
		Value:     sarama.ByteEncoder(candidate.value),
		Headers:   candidate.headers,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish replay of offset %d: %w", msg.Offset, err)
	}
	r.logger.WithFields(fields).Debug("dlq event replayed")
	return nil
}

// buildCandidate восстанавливает исходное событие из конверта DLQ.
func buildCandidate(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayCandidate, error) {
	envelope, err := kafka.ParseLifecycleEvent(msg.Value)
	if err != nil {
		return replayCandidate{}, fmt.Errorf("%w: %v", errSkip, err)
	}

	var entry dlqEntry
	if err := json.Unmarshal(envelope.Payload, &entry); err != nil {
		return replayCandidate{}, fmt.Errorf("%w: decode dlq entry: %v", errSkip, err)
	}
	if len(entry.Payload) == 0 {
		return replayCandidate{}, fmt.Errorf("%w: dlq entry has no original payload", errSkip)
	}

	event := kafka.LifecycleEvent{
		ID:            firstNonEmpty(entry.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(entry.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(entry.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(entry.EventType, envelope.EventType),
		Payload:       entry.Payload,
		PublishedAt:   now.UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return replayCandidate{}, fmt.Errorf("encode replayed event: %w", err)
	}

	topic := targetTopic
	if topic == "" {
		topic = kafka.TopicFor(event.AggregateType)
	}
	return replayCandidate{
		topic: topic,
		key:   firstNonEmpty(event.AggregateID, event.ID),
		value: value,
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(event.EventType)},
			{Key: []byte(kafka.HeaderAggregateType), Value: []byte(event.AggregateType)},
			{Key: []byte(kafka.HeaderOutboxID), Value: []byte(event.ID)},
			{Key: []byte(headerReplayedFrom), Value: []byte(msg.Topic + "/" + strconv.FormatInt(msg.Offset, 10))},
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
