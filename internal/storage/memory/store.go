package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

// Store: общее in-memory состояние каталога, объявлений и заказов.
// Один мьютекс на всё хранилище: переход объявления и запись заказа
// выполняются под одной блокировкой и видны только целиком.
type Store struct {
	mu       sync.RWMutex
	catalog  map[string]domain.CatalogEntry
	listings map[string]domain.Listing
	orders   map[string]domain.Order
	// live: listing_id → id живого заказа (уникальность на уровне хранилища).
	live map[string]string
}

// NewStore создаёт пустое хранилище и наполняет каталог переданными записями.
func NewStore(entries ...domain.CatalogEntry) *Store {
	s := &Store{
		catalog:  make(map[string]domain.CatalogEntry),
		listings: make(map[string]domain.Listing),
		orders:   make(map[string]domain.Order),
		live:     make(map[string]string),
	}
	s.PutCatalog(entries...)
	return s
}

// PutCatalog добавляет или заменяет записи каталога.
func (s *Store) PutCatalog(entries ...domain.CatalogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		s.catalog[entry.ID] = entry
	}
}

// Catalog возвращает репозиторий каталога поверх хранилища.
func (s *Store) Catalog() domain.CatalogRepository { return &catalogRepository{s: s} }

// Listings возвращает репозиторий объявлений поверх хранилища.
func (s *Store) Listings() domain.ListingRepository { return &listingRepository{s: s} }

// Orders возвращает репозиторий заказов поверх хранилища.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{s: s} }
