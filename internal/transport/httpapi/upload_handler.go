package httpapi

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

const (
	// maxUploadSize ограничивает размер одного загружаемого изображения.
	maxUploadSize = 10 << 20
	// multipartOverhead: запас на заголовки частей и boundary.
	multipartOverhead = 1 << 20
)

type uploadHandler struct {
	blobs  domain.BlobStore
	logger *log.Entry
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxUploadSize+multipartOverhead {
		fileTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fileTooLarge(w)
			return
		}
		badRequest(w, "multipart form with field \"file\" is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "multipart form with field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()
	if header.Size > maxUploadSize {
		fileTooLarge(w)
		return
	}

	url, err := h.blobs.Put(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.WithFields(log.Fields{"filename": header.Filename, "size": header.Size}).Info("image uploaded")
	writeJSON(w, http.StatusOK, uploadResponse{URL: url})
}

func fileTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file is too large"})
}
