package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/memory"
)

func TestTimelineRepository_SeqPerOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	at := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)

	first, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderCreated, Occurred: at})
	require.NoError(t, err)
	other, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-2", Type: domain.TimelineOrderCreated, Occurred: at})
	require.NoError(t, err)
	second, err := repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineStatusChanged, Reason: "AwaitingShipment", Occurred: at})
	require.NoError(t, err)

	assert.EqualValues(t, 1, first.Seq)
	assert.EqualValues(t, 1, other.Seq)
	assert.EqualValues(t, 2, second.Seq)

	history, err := repo.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.TimelineOrderCreated, history[0].Type)
	assert.Equal(t, "AwaitingShipment", history[1].Reason)

	history[0].Type = "tampered"
	again, err := repo.List(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineOrderCreated, again[0].Type)
}

func TestTimelineRepository_UnknownOrderIsEmpty(t *testing.T) {
	history, err := memory.NewTimelineRepository().List(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestTimelineRepository_ConcurrentAppendKeepsSeqDense(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineStatusChanged})
		}()
	}
	wg.Wait()

	history, err := repo.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, event := range history {
		assert.EqualValues(t, i+1, event.Seq)
	}
}
