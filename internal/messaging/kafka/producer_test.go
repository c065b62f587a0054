package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestProducer_DeliverSingleRecord(t *testing.T) {
	sp := mocks.NewSyncProducer(t, saramaConfig("test"))
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("headers were not copied")
		}
		return nil
	})

	p := wrapProducer(sp)
	err := p.Deliver(context.Background(), Record{
		Topic:   TopicOrderEvents,
		Key:     "order-1",
		Value:   []byte(`{"status":"Shipped"}`),
		Headers: map[string]string{HeaderEventType: "order.shipped"},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_DeliverBatchPartialFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, saramaConfig("test"))
	sp.ExpectSendMessageAndSucceed()
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := wrapProducer(sp)
	err := p.Deliver(context.Background(),
		Record{Topic: TopicListingEvents, Key: "listing-1", Value: []byte(`{}`)},
		Record{Topic: TopicListingEvents, Key: "listing-1", Value: []byte(`{}`)},
	)
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected partition error, got %v", err)
	}
	_ = p.Close()
}

func TestProducer_DeliverRespectsContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, saramaConfig("test"))
	p := wrapProducer(sp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Deliver(ctx, Record{Topic: TopicOrderEvents}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := p.Deliver(context.Background()); err != nil {
		t.Fatalf("empty deliver must be a no-op, got %v", err)
	}
	_ = p.Close()
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(ProducerConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
	var nilProducer *Producer
	if err := nilProducer.Close(); err != nil {
		t.Fatalf("closing nil producer: %v", err)
	}
}

func TestSaramaConfig_IdempotentDefaults(t *testing.T) {
	c := saramaConfig("")
	if c.ClientID != defaultClientID {
		t.Fatalf("client id = %q", c.ClientID)
	}
	if !c.Producer.Idempotent || c.Net.MaxOpenRequests != 1 || c.Producer.RequiredAcks != sarama.WaitForAll {
		t.Fatal("producer must be idempotent with acks=all")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("config does not validate: %v", err)
	}
}
