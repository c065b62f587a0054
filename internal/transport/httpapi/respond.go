package httpapi

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type errorResponse struct {
	Error  string          `json:"error"`
	Detail *mismatchDetail `json:"detail,omitempty"`
}

// mismatchDetail раскрывает проигранный CAS: клиент видит фактический статус.
type mismatchDetail struct {
	Entity   string `json:"entity"`
	ID       string `json:"id"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// statusFor сопоставляет категорию доменной ошибки с HTTP-кодом.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsConflict(err), domain.IsInvalidState(err):
		return http.StatusConflict
	case domain.IsStore(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	switch code {
	case http.StatusInternalServerError:
		logger.WithError(err).Error("request failed")
		resp.Error = "internal error"
	case http.StatusServiceUnavailable:
		logger.WithError(err).Error("store unavailable")
		resp.Error = "storage unavailable"
	}
	if mismatch, ok := domain.AsStatusMismatch(err); ok {
		resp.Detail = &mismatchDetail{
			Entity:   mismatch.Entity,
			ID:       mismatch.ID,
			Expected: mismatch.Expected,
			Actual:   mismatch.Actual,
		}
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
