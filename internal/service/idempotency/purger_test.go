package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/memory"
)

func TestPurger_RemovesOnlyExpiredClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"publish-1", "buy-2", "ship-3"} {
		_, err := repo.Claim(ctx, key, "fp", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Claim(ctx, "buy-live", "fp", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := NewPurger(repo, WithBatchSize(2)).Purge(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, err = repo.Lookup(ctx, "buy-live")
	require.NoError(t, err)
	_, err = repo.Lookup(ctx, "publish-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestPurger_LoopsUntilShortBatch(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{results: []int{10, 10, 3}}
	removed, err := NewPurger(store, WithBatchSize(10)).Purge(context.Background(), time.Time{})

	require.NoError(t, err)
	require.Equal(t, 23, removed)
	require.Equal(t, 3, store.callCount())
}

func TestPurger_StopsOnStoreError(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{results: []int{5}, errs: []error{nil, errors.New("db down")}}
	removed, err := NewPurger(store, WithBatchSize(5)).Purge(context.Background(), time.Now())

	require.EqualError(t, err, "db down")
	require.Equal(t, 5, removed)
}

func TestPurger_CanceledContext(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPurger(store).Purge(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.callCount())
}

func TestPurger_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &scriptedStore{}
	purger := NewPurger(store, WithInterval(5*time.Millisecond), WithPassTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		purger.Run(ctx)
	}()

	require.Eventually(t, func() bool { return store.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop on context cancel")
	}
}

func TestNewPurger_Defaults(t *testing.T) {
	t.Parallel()

	p := NewPurger(nil, WithInterval(-1), WithBatchSize(0), WithPassTimeout(0))
	require.Equal(t, defaultInterval, p.interval)
	require.Equal(t, defaultBatchSize, p.batchSize)
	require.Equal(t, defaultPassLimit, p.passTimeout)
	p.Run(context.Background())
}

// scriptedStore возвращает заранее заданные результаты по очереди.
type scriptedStore struct {
	mu      sync.Mutex
	results []int
	errs    []error
	calls   int
}

func (s *scriptedStore) PurgeExpired(context.Context, time.Time, int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return 0, err
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return 0, nil
}

func (s *scriptedStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ Store = (*scriptedStore)(nil)
var _ Store = domain.IdempotencyRepository(nil)
