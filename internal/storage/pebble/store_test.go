package pebble_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/pebble"
)

func openStore(t *testing.T, dir string) *pebble.Store {
	t.Helper()

	store, err := pebble.Open(dir)
	require.NoError(t, err)
	return store
}

func seed(t *testing.T, store *pebble.Store, listingID string, status domain.ListingStatus) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.Catalog().Upsert(ctx, domain.CatalogEntry{
		ID: "catalog-1", Team: domain.TeamMarines, Year: 2022, PlayerName: "Roki Sasaki", SeriesName: "Epoch Stars",
	}))
	now := time.Now().UTC()
	require.NoError(t, store.Listings().Create(ctx, domain.Listing{
		ID:               listingID,
		CatalogID:        "catalog-1",
		SellerID:         "seller-1",
		Price:            5000,
		Images:           []string{"a.jpg", "b.jpg"},
		ConditionGrading: domain.ConditionGrading{Service: "BGS"},
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := openStore(t, dir)
	seed(t, store, "listing-1", domain.ListingStatusActive)
	_, err := store.Orders().Place(ctx, domain.Order{ID: "order-1", ListingID: "listing-1", BuyerID: "buyer-1", PaymentMethodID: "tok"}, time.Now().UTC())
	require.NoError(t, err)
	_, err = store.Timeline().Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineOrderCreated, Occurred: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := openStore(t, dir)
	t.Cleanup(func() { _ = reopened.Close() })

	listing, err := reopened.Listings().Get(ctx, "listing-1")
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusTransactionPending, listing.Status)
	require.EqualValues(t, 1, listing.Version)

	order, err := reopened.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.EqualValues(t, 5000, order.TotalAmount)

	events, err := reopened.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.EqualValues(t, 1, events[0].Seq)

	// нумерация продолжается после перезапуска
	next, err := reopened.Timeline().Append(ctx, domain.TimelineEvent{OrderID: "order-1", Type: domain.TimelineStatusChanged, Occurred: time.Now().UTC()})
	require.NoError(t, err)
	require.EqualValues(t, 2, next.Seq)

	// маркер живого заказа тоже пережил перезапуск
	_, err = reopened.Orders().Place(ctx, domain.Order{ID: "order-2", ListingID: "listing-1"}, time.Now().UTC())
	_, isMismatch := domain.AsStatusMismatch(err)
	require.True(t, isMismatch, "expected mismatch, got %v", err)
}

func TestStore_TransitionsAndDelete(t *testing.T) {
	store := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	seed(t, store, "listing-1", domain.ListingStatusDraft)

	at := time.Now().UTC()
	_, err := store.Listings().CompareAndSwapStatus(ctx, "listing-1", domain.ListingStatusDraft, domain.ListingStatusActive, at)
	require.NoError(t, err)

	_, err = store.Orders().Place(ctx, domain.Order{ID: "order-1", ListingID: "listing-1", BuyerID: "b", PaymentMethodID: "tok"}, at)
	require.NoError(t, err)
	require.True(t, domain.IsInvalidState(store.Listings().Delete(ctx, "listing-1")))

	fail, _ := domain.TransitionFor(domain.StepFail, "order-1", at)
	_, released, err := store.Orders().Apply(ctx, fail)
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusActive, released.Status)

	// брошенный заказ нельзя продолжить
	capture, _ := domain.TransitionFor(domain.StepCapture, "order-1", at)
	_, _, err = store.Orders().Apply(ctx, capture)
	mismatch, ok := domain.AsStatusMismatch(err)
	require.True(t, ok)
	require.Equal(t, string(domain.OrderStatusAbandoned), mismatch.Actual)

	items, err := store.Listings().List(ctx, domain.ListingFilter{Query: "sasaki"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, store.Listings().Delete(ctx, "listing-1"))
	_, err = store.Listings().Get(ctx, "listing-1")
	require.True(t, errors.Is(err, domain.ErrListingNotFound))

	orders, err := store.Orders().List(ctx, domain.OrderFilter{BuyerID: "b"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestStore_ConcurrentPlaceSingleWinner(t *testing.T) {
	store := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	seed(t, store, "listing-1", domain.ListingStatusActive)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Orders().Place(ctx, domain.Order{ID: fmt.Sprintf("order-%d", i), ListingID: "listing-1"}, time.Now().UTC())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestCatalogRepository_SearchAndMissing(t *testing.T) {
	store := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	seed(t, store, "listing-1", domain.ListingStatusDraft)

	found, err := store.Catalog().Search(ctx, domain.CatalogFilter{Team: domain.TeamMarines, Query: "stars"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = store.Catalog().Get(ctx, "missing")
	require.True(t, errors.Is(err, domain.ErrCatalogEntryNotFound))
}
