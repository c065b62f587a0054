// Package pebble: встраиваемый KV-драйвер хранилища поверх cockroachdb/pebble.
// Значения хранятся в JSON, ключи имеют вид "<сущность>/<id>".
package pebble

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	prefixCatalog  = "catalog/"
	prefixListing  = "listing/"
	prefixOrder    = "order/"
	prefixLive     = "live/"
	prefixTimeline = "timeline/"
)

// Store: KV-хранилище каталога, объявлений, заказов и таймлайна.
// Пебл не даёт условной записи, поэтому чтение-проверка-запись выполняется
// под мьютексом хранилища, а изменения фиксируются одним batch с pebble.Sync.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open открывает (или создаёт) базу в каталоге dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close закрывает базу.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Catalog возвращает репозиторий каталога.
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s: s} }

// Listings возвращает репозиторий объявлений.
func (s *Store) Listings() domain.ListingRepository { return &listingRepository{s: s} }

// Orders возвращает репозиторий заказов.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{s: s} }

// Timeline возвращает журнал событий заказов.
func (s *Store) Timeline() domain.TimelineRepository { return &timelineRepository{s: s} }

func key(prefix, id string) []byte {
	return []byte(prefix + id)
}

// getJSON читает и декодирует значение. found=false, если ключа нет.
func (s *Store) getJSON(k []byte, dst any) (bool, error) {
	raw, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.StoreError("pebble get", err)
	}
	defer closer.Close()

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, domain.StoreError("pebble decode", err)
	}
	return true, nil
}

// scan обходит все значения с префиксом в порядке ключей.
func (s *Store) scan(prefix string, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return domain.StoreError("pebble iter", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return domain.StoreError("pebble iter", err)
	}
	return nil
}

// prefixUpperBound возвращает первый ключ после всех ключей с префиксом.
func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

// batch накапливает записи и применяет их атомарно.
type batch struct {
	b   *pebble.Batch
	err error
}

func (s *Store) newBatch() *batch {
	return &batch{b: s.db.NewBatch()}
}

func (b *batch) setJSON(k []byte, v any) {
	if b.err != nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		b.err = domain.StoreError("pebble encode", err)
		return
	}
	if err := b.b.Set(k, raw, nil); err != nil {
		b.err = domain.StoreError("pebble batch set", err)
	}
}

func (b *batch) set(k, v []byte) {
	if b.err != nil {
		return
	}
	if err := b.b.Set(k, v, nil); err != nil {
		b.err = domain.StoreError("pebble batch set", err)
	}
}

func (b *batch) delete(k []byte) {
	if b.err != nil {
		return
	}
	if err := b.b.Delete(k, nil); err != nil {
		b.err = domain.StoreError("pebble batch delete", err)
	}
}

// commit фиксирует batch с fsync и освобождает его.
func (b *batch) commit() error {
	defer b.b.Close()
	if b.err != nil {
		return b.err
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return domain.StoreError("pebble commit", err)
	}
	return nil
}
