package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/listing"
)

type listingHandler struct {
	svc     *listing.Manager
	catalog domain.CatalogRepository
	logger  *log.Entry
}

func (h *listingHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/publish", h.publish)
	r.Post("/{id}/withdraw", h.withdraw)
}

func (h *listingHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	created, err := h.svc.Create(r.Context(), listing.CreateInput{
		CatalogID:        req.CatalogID,
		SellerID:         req.SellerID,
		Price:            req.Price,
		Images:           req.Images,
		ConditionGrading: req.ConditionGrading.toDomain(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.render(r.Context(), created, nil))
}

func (h *listingHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.List(r.Context(), domain.ListingFilter{
		CatalogID: q.Get("catalog_id"),
		SellerID:  q.Get("seller_id"),
		Query:     q.Get("q"),
		Team:      domain.Team(q.Get("team")),
		Sort:      domain.ListingSort(q.Get("sort")),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	entries := make(map[string]*domain.CatalogEntry)
	resp := make([]listingResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, h.render(r.Context(), item, entries))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *listingHandler) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), item, nil))
}

func (h *listingHandler) publish(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), item, nil))
}

func (h *listingHandler) withdraw(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Withdraw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), item, nil))
}

func (h *listingHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// render дополняет объявление записью каталога. Отсутствующая запись не
// считается ошибкой ответа. cache переиспользует записи в пределах запроса.
func (h *listingHandler) render(ctx context.Context, l domain.Listing, cache map[string]*domain.CatalogEntry) listingResponse {
	if cache != nil {
		if entry, ok := cache[l.CatalogID]; ok {
			return toListingResponse(l, entry)
		}
	}

	var entry *domain.CatalogEntry
	found, err := h.catalog.Get(ctx, l.CatalogID)
	switch {
	case err == nil:
		entry = &found
	case !domain.IsNotFound(err):
		h.logger.WithError(err).WithField("listing_id", l.ID).Warn("catalog lookup failed")
	}
	if cache != nil {
		cache[l.CatalogID] = entry
	}
	return toListingResponse(l, entry)
}
