package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

func TestOutboxRepository_PendingKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	created, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateListing,
		AggregateID:   "listing-1",
		EventType:     domain.EventListingPublished,
		Payload:       []byte(`{"status":"Active"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("enqueue must assign id and timestamp: %+v", created)
	}
	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: "fixed", AggregateType: domain.AggregateOrder, AggregateID: "order-1", EventType: domain.EventOrderCreated}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := repo.Pending(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != created.ID || pending[1].ID != "fixed" {
		t.Fatalf("unexpected pending order: %+v", pending)
	}

	head, _ := repo.Pending(ctx, 1)
	if len(head) != 1 || head[0].ID != created.ID {
		t.Fatalf("limit must cut from the head: %+v", head)
	}
}

func TestOutboxRepository_DeliveredAndDeadLeaveQueue(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	a, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-1", EventType: domain.EventOrderCreated})
	b, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-2", EventType: domain.EventOrderCreated})
	c, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateID: "order-3", EventType: domain.EventOrderCreated})

	if err := repo.MarkDelivered(ctx, a.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := repo.RecordFailure(ctx, b.ID, false); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := repo.RecordFailure(ctx, c.ID, true); err != nil {
		t.Fatalf("record dead: %v", err)
	}

	pending, _ := repo.Pending(ctx, 10)
	if len(pending) != 1 || pending[0].ID != b.ID || pending[0].Attempts != 1 {
		t.Fatalf("only the retried message must stay queued: %+v", pending)
	}

	stats, err := repo.Backlog(ctx)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if stats.PendingCount != 1 || stats.DeadCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOutboxRepository_UnknownID(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	if err := repo.MarkDelivered(ctx, "missing"); !errors.Is(err, domain.ErrOutboxMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.RecordFailure(ctx, "missing", true); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	stats, _ := repo.Backlog(ctx)
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("empty queue must report zero stats: %+v", stats)
	}
}
