// Package listing управляет жизненным циклом объявлений: создание,
// публикация, снятие с продажи, удаление и выдача витрины.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/metrics"
)

// CreateInput: данные нового объявления.
type CreateInput struct {
	CatalogID        string
	SellerID         string
	Price            int64
	Images           []string
	ConditionGrading domain.ConditionGrading
}

// Manager: сервис объявлений. Статус объявления одновременно служит
// блокировкой инвентаря, поэтому все переходы идут через CAS хранилища.
type Manager struct {
	listings domain.ListingRepository
	catalog  domain.CatalogRepository
	outbox   domain.OutboxRepository
	metrics  *metrics.MarketMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewManager создаёт сервис. outbox и m могут быть nil.
func NewManager(
	listings domain.ListingRepository,
	catalog domain.CatalogRepository,
	outbox domain.OutboxRepository,
	m *metrics.MarketMetrics,
	logger *log.Entry,
) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "listing")
	}
	return &Manager{
		listings: listings,
		catalog:  catalog,
		outbox:   outbox,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create проверяет ценовую политику и наличие записи каталога и сохраняет
// объявление в статусе Draft.
func (m *Manager) Create(ctx context.Context, in CreateInput) (domain.Listing, error) {
	now := m.now()
	listing := domain.Listing{
		ID:               uuid.NewString(),
		CatalogID:        strings.TrimSpace(in.CatalogID),
		SellerID:         strings.TrimSpace(in.SellerID),
		Price:            in.Price,
		Images:           normalizeImages(in.Images),
		ConditionGrading: in.ConditionGrading,
		Status:           domain.ListingStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	listing.ConditionGrading.Service = strings.TrimSpace(listing.ConditionGrading.Service)

	if errs := listing.ValidateInvariants(); len(errs) > 0 {
		return domain.Listing{}, errors.Join(errs...)
	}
	if listing.SellerID == "" {
		listing.SellerID = uuid.NewString()
	}

	if _, err := m.catalog.Get(ctx, listing.CatalogID); err != nil {
		return domain.Listing{}, err
	}

	if err := m.listings.Create(ctx, listing); err != nil {
		m.logger.WithError(err).WithField("listing_id", listing.ID).Error("create listing failed")
		return domain.Listing{}, err
	}

	if m.metrics != nil {
		m.metrics.RecordListingCreated()
	}
	m.emit(ctx, listing, domain.EventListingCreated)
	m.logger.WithFields(log.Fields{
		"listing_id": listing.ID,
		"catalog_id": listing.CatalogID,
		"price":      listing.Price,
	}).Info("listing created")
	return listing, nil
}

// Publish переводит объявление Draft → Active.
func (m *Manager) Publish(ctx context.Context, id string) (domain.Listing, error) {
	return m.transition(ctx, id, domain.ListingStatusDraft, domain.ListingStatusActive, domain.EventListingPublished)
}

// Withdraw снимает объявление с продажи: Draft|Active → Cancelled.
// Объявление под заказом снять нельзя.
func (m *Manager) Withdraw(ctx context.Context, id string) (domain.Listing, error) {
	current, err := m.listings.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !domain.CanTransition(current.Status, domain.ListingStatusCancelled) {
		m.logger.WithFields(log.Fields{
			"listing_id": id,
			"status":     current.Status,
		}).Warn("withdraw rejected")
		return domain.Listing{}, fmt.Errorf("%w: %w", domain.ErrInvalidState,
			domain.ListingMismatch(id, domain.ListingStatusActive, current.Status))
	}
	return m.transition(ctx, id, current.Status, domain.ListingStatusCancelled, domain.EventListingWithdrawn)
}

func (m *Manager) Get(ctx context.Context, id string) (domain.Listing, error) {
	return m.listings.Get(ctx, id)
}

// List возвращает витрину: только Active объявления, подходящие под все фильтры.
func (m *Manager) List(ctx context.Context, filter domain.ListingFilter) ([]domain.Listing, error) {
	if !filter.Sort.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSort, filter.Sort)
	}
	filter.Status = domain.ListingStatusActive
	filter.Query = strings.TrimSpace(filter.Query)
	return m.listings.List(ctx, filter)
}

// Delete удаляет объявление, не удерживаемое заказом.
func (m *Manager) Delete(ctx context.Context, id string) error {
	listing, err := m.listings.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.listings.Delete(ctx, id); err != nil {
		m.logger.WithError(err).WithField("listing_id", id).Warn("delete listing rejected")
		return err
	}
	m.emit(ctx, listing, domain.EventListingDeleted)
	m.logger.WithField("listing_id", id).Info("listing deleted")
	return nil
}

// transition выполняет CAS from → to. Проигранный CAS превращается в ErrInvalidState.
func (m *Manager) transition(ctx context.Context, id string, from, to domain.ListingStatus, event string) (domain.Listing, error) {
	listing, err := m.listings.CompareAndSwapStatus(ctx, id, from, to, m.now())
	if err != nil {
		if mismatch, ok := domain.AsStatusMismatch(err); ok {
			m.logger.WithFields(log.Fields{
				"listing_id": id,
				"expected":   mismatch.Expected,
				"actual":     mismatch.Actual,
			}).Warn("listing transition rejected")
			return domain.Listing{}, fmt.Errorf("%w: %w", domain.ErrInvalidState, mismatch)
		}
		if domain.IsStore(err) {
			m.logger.WithError(err).WithField("listing_id", id).Error("listing transition failed")
		}
		return domain.Listing{}, err
	}

	if m.metrics != nil {
		m.metrics.RecordListingTransition(string(to))
	}
	m.emit(ctx, listing, event)
	return listing, nil
}

// emit кладёт событие в outbox. Переход уже зафиксирован, поэтому ошибка только логируется.
func (m *Manager) emit(ctx context.Context, listing domain.Listing, eventType string) {
	if m.outbox == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"listing_id": listing.ID,
		"catalog_id": listing.CatalogID,
		"seller_id":  listing.SellerID,
		"price":      listing.Price,
		"status":     listing.Status,
		"ts":         listing.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		m.logger.WithError(err).WithField("listing_id", listing.ID).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateListing,
		AggregateID:   listing.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := m.outbox.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"listing_id": listing.ID,
			"event":      eventType,
		}).Error("enqueue event failed")
		return
	}
	if m.metrics != nil {
		m.metrics.RecordOutboxEvent()
	}
}

func normalizeImages(images []string) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}
