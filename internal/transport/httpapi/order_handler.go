package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/order"
)

type orderHandler struct {
	svc      *order.Manager
	listings *listingHandler
	logger   *log.Entry
}

func (h *orderHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/timeline", h.timeline)
	r.Post("/{id}/capture", h.step(h.svc.Capture))
	r.Post("/{id}/fail", h.step(h.svc.Fail))
	r.Post("/{id}/ship", h.ship)
	r.Post("/{id}/deliver", h.step(h.svc.Deliver))
	r.Post("/{id}/complete", h.step(h.svc.Complete))
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	created, err := h.svc.Create(r.Context(), order.CreateInput{
		ListingID:       req.ListingID,
		PaymentMethodID: req.PaymentMethodID,
		BuyerID:         req.BuyerID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), created))
}

func (h *orderHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		BuyerID:   q.Get("buyer_id"),
		ListingID: q.Get("listing_id"),
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	orders, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, h.render(r.Context(), o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	found, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), found))
}

func (h *orderHandler) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEventResponse{Seq: e.Seq, Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *orderHandler) ship(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	shipped, err := h.svc.Ship(r.Context(), chi.URLParam(r, "id"), req.TrackingNumber)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.render(r.Context(), shipped))
}

// step оборачивает шаг конвейера без тела запроса.
func (h *orderHandler) step(fn func(ctx context.Context, id string) (domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		advanced, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, h.render(r.Context(), advanced))
	}
}

// render встраивает текущее объявление заказа, если оно ещё существует.
func (h *orderHandler) render(ctx context.Context, o domain.Order) orderResponse {
	item, err := h.listings.svc.Get(ctx, o.ListingID)
	if err != nil {
		if !domain.IsNotFound(err) {
			h.logger.WithError(err).WithField("order_id", o.ID).Warn("listing lookup failed")
		}
		return toOrderResponse(o, nil)
	}
	embedded := h.listings.render(ctx, item, nil)
	return toOrderResponse(o, &embedded)
}
