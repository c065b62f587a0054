package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/messaging/kafka"
)

type fakeOffsets struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
	err        error
}

func (f *fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, f.err }

func (f *fakeOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

func (f *fakeOffsets) Close() error { return nil }

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errs }
func (s *fakeStream) Close() error                             { return nil }

type fakeStreams struct {
	streams map[int32]*fakeStream
	starts  map[int32]int64
}

func (f *fakeStreams) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	if f.starts == nil {
		f.starts = map[int32]int64{}
	}
	f.starts[partition] = offset
	stream, ok := f.streams[partition]
	if !ok {
		return nil, errors.New("no such partition")
	}
	return stream, nil
}

func (f *fakeStreams) Close() error { return nil }

type fakeSender struct {
	sent []*sarama.ProducerMessage
	err  error
}

func (f *fakeSender) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.sent = append(f.sent, msg)
	return 0, int64(len(f.sent)), nil
}

func (f *fakeSender) Close() error { return nil }

func dlqMessage(t *testing.T, offset int64, aggregateType, aggregateID string) *sarama.ConsumerMessage {
	t.Helper()

	entry, err := json.Marshal(map[string]any{
		"outbox_id":      "outbox-" + aggregateID,
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
		"event_type":     "order.captured",
		"payload":        map[string]any{"status": "Captured"},
		"publish_error":  "broker down",
	})
	if err != nil {
		t.Fatalf("marshal dlq entry: %v", err)
	}
	value, err := json.Marshal(kafka.LifecycleEvent{
		ID:            "outbox-" + aggregateID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     "order.captured",
		Payload:       entry,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: offset, Value: value}
}

func newTestReplayer(opts options, offs offsets, streams streamSource, producer sender) *replayer {
	logger := log.New()
	logger.SetOutput(io.Discard)
	if opts.sourceTopic == "" {
		opts.sourceTopic = kafka.TopicDeadLetterQueue
	}
	if opts.limit == 0 {
		opts.limit = defaultLimit
	}
	if opts.idleTimeout == 0 {
		opts.idleTimeout = 200 * time.Millisecond
	}
	return &replayer{opts: opts, offsets: offs, streams: streams, producer: producer, logger: log.NewEntry(logger)}
}

func bufferedStream(msgs ...*sarama.ConsumerMessage) *fakeStream {
	stream := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errs:     make(chan *sarama.ConsumerError, 1),
	}
	for _, m := range msgs {
		stream.messages <- m
	}
	return stream
}

func TestParseOptions(t *testing.T) {
	env := map[string]string{"MARKET_KAFKA_BROKERS": " b1:9092, ,b2:9092 "}
	opts, err := parseOptions(flag.NewFlagSet("dlq-replay", flag.ContinueOnError),
		[]string{"-limit=5", "-execute"}, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if len(opts.brokers) != 2 || opts.brokers[1] != "b2:9092" {
		t.Fatalf("unexpected brokers %v", opts.brokers)
	}
	if opts.sourceTopic != kafka.TopicDeadLetterQueue || opts.limit != 5 || !opts.execute {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestParseOptions_Validation(t *testing.T) {
	_, err := parseOptions(flag.NewFlagSet("dlq-replay", flag.ContinueOnError),
		[]string{"-limit=0", "-idle-timeout=0s", "-source-topic="}, func(string) string { return "" })
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"brokers", "source-topic", "limit", "idle-timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestBuildCandidate_RoutesByAggregate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := buildCandidate(dlqMessage(t, 7, domain.AggregateListing, "listing-1"), "", now)
	if err != nil {
		t.Fatalf("buildCandidate failed: %v", err)
	}
	if got.topic != kafka.TopicListingEvents || got.key != "listing-1" {
		t.Fatalf("unexpected candidate %+v", got)
	}

	event, err := kafka.ParseLifecycleEvent(got.value)
	if err != nil {
		t.Fatalf("replayed value must be a lifecycle event: %v", err)
	}
	if string(event.Payload) != `{"status":"Captured"}` {
		t.Fatalf("original payload must be restored, got %s", event.Payload)
	}
	if !event.PublishedAt.Equal(now) {
		t.Fatalf("unexpected published_at %s", event.PublishedAt)
	}

	last := got.headers[len(got.headers)-1]
	if string(last.Key) != headerReplayedFrom || string(last.Value) != kafka.TopicDeadLetterQueue+"/7" {
		t.Fatalf("unexpected replay header %s=%s", last.Key, last.Value)
	}

	override, err := buildCandidate(dlqMessage(t, 8, domain.AggregateOrder, "order-1"), "market.replay", now)
	if err != nil {
		t.Fatalf("buildCandidate failed: %v", err)
	}
	if override.topic != "market.replay" {
		t.Fatalf("target topic override ignored: %s", override.topic)
	}
}

func TestBuildCandidate_Skips(t *testing.T) {
	cases := map[string][]byte{
		"not json":         []byte("garbage"),
		"no dlq entry":     []byte(`{"id":"x","payload":"plain"}`),
		"no inner payload": []byte(`{"id":"x","payload":{"outbox_id":"x"}}`),
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildCandidate(&sarama.ConsumerMessage{Value: value}, "", time.Now())
			if !errors.Is(err, errSkip) {
				t.Fatalf("expected errSkip, got %v", err)
			}
		})
	}
}

func TestReplay_DryRunDoesNotPublish(t *testing.T) {
	offs := &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 2}}
	streams := &fakeStreams{streams: map[int32]*fakeStream{0: bufferedStream(
		dlqMessage(t, 0, domain.AggregateOrder, "order-1"),
		&sarama.ConsumerMessage{Offset: 1, Value: []byte("garbage")},
	)}}

	stats, err := newTestReplayer(options{}, offs, streams, nil).replay(context.Background())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if stats.scanned != 2 || stats.replayed != 1 || stats.skipped != 1 {
		t.Fatalf("unexpected summary %+v", stats)
	}
}

func TestReplay_ExecutePublishes(t *testing.T) {
	offs := &fakeOffsets{
		partitions: []int32{1, 0},
		oldest:     map[int32]int64{0: 0, 1: 10},
		newest:     map[int32]int64{0: 1, 1: 11},
	}
	streams := &fakeStreams{streams: map[int32]*fakeStream{
		0: bufferedStream(dlqMessage(t, 0, domain.AggregateListing, "listing-1")),
		1: bufferedStream(dlqMessage(t, 10, domain.AggregateOrder, "order-1")),
	}}
	producer := &fakeSender{}

	stats, err := newTestReplayer(options{execute: true}, offs, streams, producer).replay(context.Background())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if stats.replayed != 2 || len(producer.sent) != 2 {
		t.Fatalf("expected two replayed events, got %+v sent=%d", stats, len(producer.sent))
	}
	if producer.sent[0].Topic != kafka.TopicListingEvents || producer.sent[1].Topic != kafka.TopicOrderEvents {
		t.Fatalf("partitions must be replayed in order, got %s then %s", producer.sent[0].Topic, producer.sent[1].Topic)
	}
}

func TestReplay_FromNewestAndLimit(t *testing.T) {
	offs := &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 50}}
	streams := &fakeStreams{streams: map[int32]*fakeStream{0: bufferedStream(
		dlqMessage(t, 48, domain.AggregateOrder, "order-1"),
		dlqMessage(t, 49, domain.AggregateOrder, "order-2"),
	)}}

	stats, err := newTestReplayer(options{fromNewest: true, limit: 2}, offs, streams, nil).replay(context.Background())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if streams.starts[0] != 48 {
		t.Fatalf("expected to start at offset 48, got %d", streams.starts[0])
	}
	if stats.scanned != 2 {
		t.Fatalf("unexpected summary %+v", stats)
	}
}

func TestReplay_Errors(t *testing.T) {
	if _, err := newTestReplayer(options{execute: true}, &fakeOffsets{}, &fakeStreams{}, nil).replay(context.Background()); err == nil {
		t.Fatal("execute mode without producer must fail")
	}

	offs := &fakeOffsets{err: errors.New("metadata unavailable")}
	if _, err := newTestReplayer(options{}, offs, &fakeStreams{}, nil).replay(context.Background()); err == nil {
		t.Fatal("expected partitions error")
	}

	offs = &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}}
	streams := &fakeStreams{streams: map[int32]*fakeStream{0: bufferedStream(dlqMessage(t, 0, domain.AggregateOrder, "order-1"))}}
	producer := &fakeSender{err: errors.New("not leader")}
	if _, err := newTestReplayer(options{execute: true}, offs, streams, producer).replay(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestReplayPartition_IdleAndCancel(t *testing.T) {
	offs := &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 5}}
	streams := &fakeStreams{streams: map[int32]*fakeStream{0: bufferedStream()}}
	r := newTestReplayer(options{idleTimeout: 20 * time.Millisecond}, offs, streams, nil)

	stats, err := r.replayPartition(context.Background(), 0, 5)
	if err != nil || stats.scanned != 0 {
		t.Fatalf("idle partition should end quietly, got %+v %v", stats, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.opts.idleTimeout = time.Minute
	if _, err := r.replayPartition(ctx, 0, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_UsesConnect(t *testing.T) {
	original := connect
	defer func() { connect = original }()

	offs := &fakeOffsets{partitions: []int32{0}, oldest: map[int32]int64{0: 0}, newest: map[int32]int64{0: 1}}
	streams := &fakeStreams{streams: map[int32]*fakeStream{0: bufferedStream(dlqMessage(t, 0, domain.AggregateOrder, "order-1"))}}
	producer := &fakeSender{}
	connect = func(options) (offsets, streamSource, sender, error) { return offs, streams, producer, nil }

	opts := options{sourceTopic: kafka.TopicDeadLetterQueue, limit: 10, execute: true, idleTimeout: 100 * time.Millisecond}
	if err := run(context.Background(), opts); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(producer.sent) != 1 {
		t.Fatalf("expected one replayed message, got %d", len(producer.sent))
	}

	connect = func(options) (offsets, streamSource, sender, error) { return nil, nil, nil, errors.New("dial failed") }
	if err := run(context.Background(), opts); err == nil {
		t.Fatal("expected connect error")
	}
}
