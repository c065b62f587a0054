package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/memory"
)

func catalogEntry() domain.CatalogEntry {
	return domain.CatalogEntry{
		ID:           "catalog-1",
		Manufacturer: domain.ManufacturerTopps,
		Team:         domain.TeamDodgers,
		Year:         2018,
		PlayerName:   "Shohei Ohtani",
		SeriesName:   "Topps Update",
	}
}

func newListing(id string, status domain.ListingStatus) domain.Listing {
	now := time.Now().UTC()
	return domain.Listing{
		ID:               id,
		CatalogID:        "catalog-1",
		SellerID:         "seller-1",
		Price:            5000,
		Images:           []string{"a.jpg", "b.jpg"},
		ConditionGrading: domain.ConditionGrading{Service: "PSA"},
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestCatalogRepository_GetAndSearch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(catalogEntry())
	repo := store.Catalog()

	entry, err := repo.Get(ctx, "catalog-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.PlayerName != "Shohei Ohtani" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrCatalogEntryNotFound) {
		t.Fatalf("expected ErrCatalogEntryNotFound, got %v", err)
	}

	found, err := repo.Search(ctx, domain.CatalogFilter{Query: "ohtani"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(found))
	}
	found, err = repo.Search(ctx, domain.CatalogFilter{Team: domain.TeamGiants})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no entries, got %d", len(found))
	}
}

func TestListingRepository_CreateAndDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore(catalogEntry()).Listings()

	listing := newListing("listing-1", domain.ListingStatusDraft)
	if err := repo.Create(ctx, listing); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, listing); !errors.Is(err, domain.ErrListingExists) {
		t.Fatalf("expected ErrListingExists, got %v", err)
	}

	listing.Images[0] = "mutated.jpg"
	stored, err := repo.Get(ctx, "listing-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Images[0] != "a.jpg" {
		t.Fatalf("stored listing shares images with caller: %v", stored.Images)
	}
}

func TestListingRepository_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore(catalogEntry()).Listings()
	if err := repo.Create(ctx, newListing("listing-1", domain.ListingStatusDraft)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := time.Now().UTC()
	updated, err := repo.CompareAndSwapStatus(ctx, "listing-1", domain.ListingStatusDraft, domain.ListingStatusActive, at)
	if err != nil {
		t.Fatalf("cas failed: %v", err)
	}
	if updated.Status != domain.ListingStatusActive || updated.Version != 1 {
		t.Fatalf("unexpected listing after cas: status=%s version=%d", updated.Status, updated.Version)
	}

	_, err = repo.CompareAndSwapStatus(ctx, "listing-1", domain.ListingStatusDraft, domain.ListingStatusActive, at)
	mismatch, ok := domain.AsStatusMismatch(err)
	if !ok {
		t.Fatalf("expected StatusMismatchError, got %v", err)
	}
	if mismatch.Actual != string(domain.ListingStatusActive) {
		t.Fatalf("expected actual Active, got %s", mismatch.Actual)
	}

	if _, err := repo.CompareAndSwapStatus(ctx, "listing-1", domain.ListingStatusActive, domain.ListingStatusCompleted, at); !domain.IsInvalidState(err) {
		t.Fatalf("expected invalid state for illegal edge, got %v", err)
	}
	if _, err := repo.CompareAndSwapStatus(ctx, "missing", domain.ListingStatusDraft, domain.ListingStatusActive, at); !errors.Is(err, domain.ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestListingRepository_ListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(catalogEntry(), domain.CatalogEntry{ID: "catalog-2", Team: domain.TeamGiants, PlayerName: "Kazuma Okamoto"})
	repo := store.Listings()

	cheap := newListing("cheap", domain.ListingStatusActive)
	cheap.Price = 150
	pricey := newListing("pricey", domain.ListingStatusActive)
	pricey.Price = 9000
	other := newListing("other", domain.ListingStatusActive)
	other.CatalogID = "catalog-2"
	draft := newListing("draft", domain.ListingStatusDraft)
	for _, l := range []domain.Listing{cheap, pricey, other, draft} {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("create %s failed: %v", l.ID, err)
		}
	}

	items, err := repo.List(ctx, domain.ListingFilter{Query: "OHTANI", Sort: domain.SortPriceDesc})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != "pricey" || items[1].ID != "cheap" {
		t.Fatalf("unexpected listing order: %+v", items)
	}

	items, err = repo.List(ctx, domain.ListingFilter{Team: domain.TeamGiants})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != "other" {
		t.Fatalf("expected only the Giants listing, got %+v", items)
	}
}

func TestOrderRepository_PlaceApplyAndDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(catalogEntry())
	listings, orders := store.Listings(), store.Orders()
	if err := listings.Create(ctx, newListing("listing-1", domain.ListingStatusActive)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := time.Now().UTC()
	locked, err := orders.Place(ctx, domain.Order{ID: "order-1", ListingID: "listing-1", BuyerID: "buyer-1", PaymentMethodID: "tok"}, at)
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if locked.Status != domain.ListingStatusTransactionPending {
		t.Fatalf("expected TransactionPending, got %s", locked.Status)
	}
	order, err := orders.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.TotalAmount != 5000 || order.Status != domain.OrderStatusTransactionPending {
		t.Fatalf("unexpected order: %+v", order)
	}

	if err := listings.Delete(ctx, "listing-1"); !domain.IsInvalidState(err) {
		t.Fatalf("expected locked listing to be undeletable, got %v", err)
	}

	ship, _ := domain.TransitionFor(domain.StepShip, "order-1", at)
	if _, _, err := orders.Apply(ctx, ship); err == nil {
		t.Fatal("expected ship before capture to fail")
	}
	stored, _ := listings.Get(ctx, "listing-1")
	if stored.Status != domain.ListingStatusTransactionPending {
		t.Fatalf("failed step must not change listing, got %s", stored.Status)
	}

	fail, _ := domain.TransitionFor(domain.StepFail, "order-1", at)
	abandoned, released, err := orders.Apply(ctx, fail)
	if err != nil {
		t.Fatalf("apply fail failed: %v", err)
	}
	if abandoned.Status != domain.OrderStatusAbandoned || released.Status != domain.ListingStatusActive {
		t.Fatalf("unexpected statuses after fail: order=%s listing=%s", abandoned.Status, released.Status)
	}

	if _, err := orders.Place(ctx, domain.Order{ID: "order-2", ListingID: "listing-1", BuyerID: "buyer-2"}, at); err != nil {
		t.Fatalf("second place after release failed: %v", err)
	}
	if _, err := orders.Place(ctx, domain.Order{ID: "order-3", ListingID: "listing-1"}, at); err == nil {
		t.Fatal("expected place on locked listing to fail")
	}

	list, err := orders.List(ctx, domain.OrderFilter{ListingID: "listing-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(list))
	}
}

func TestOrderRepository_ConcurrentPlaceHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(catalogEntry())
	if err := store.Listings().Create(ctx, newListing("listing-1", domain.ListingStatusActive)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const buyers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			order := domain.Order{ID: fmt.Sprintf("order-%d", i), ListingID: "listing-1", BuyerID: fmt.Sprintf("buyer-%d", i)}
			_, err := store.Orders().Place(ctx, order, time.Now().UTC())

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if mismatch, ok := domain.AsStatusMismatch(err); ok && mismatch.Actual == string(domain.ListingStatusTransactionPending) {
				conflicts++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if conflicts != buyers-1 {
		t.Fatalf("expected %d conflicts, got %d", buyers-1, conflicts)
	}
}
