package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type catalogHandler struct {
	catalog domain.CatalogRepository
	logger  *log.Entry
}

func (h *catalogHandler) Routes(r chi.Router) {
	r.Get("/", h.search)
	r.Get("/{id}", h.get)
}

func (h *catalogHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.CatalogFilter{
		Manufacturer: domain.Manufacturer(q.Get("manufacturer")),
		Team:         domain.Team(q.Get("team")),
		Query:        q.Get("q"),
	}
	if s := q.Get("year"); s != "" {
		year, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "year must be an integer")
			return
		}
		filter.Year = year
	}

	entries, err := h.catalog.Search(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := make([]catalogResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toCatalogResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *catalogHandler) get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogResponse(entry))
}
