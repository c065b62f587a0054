// Package httpapi публикует сервисы маркетплейса по HTTP/JSON.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/listing"
	"github.com/vladislavdragonenkov/cardmarket/internal/service/order"
)

// UploadsPath: префикс, под которым раздаются загруженные изображения.
const UploadsPath = "/static/uploads"

// Options: зависимости роутера. Idempotency, Blobs и BlobDir необязательны.
type Options struct {
	Catalog        domain.CatalogRepository
	Listings       *listing.Manager
	Orders         *order.Manager
	Blobs          domain.BlobStore
	BlobDir        string
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	CORSOrigins    []string
	Logger         *log.Entry
}

// NewRouter собирает chi-роутер со всеми маршрутами /market и /upload.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	catalogV1 := &catalogHandler{catalog: opts.Catalog, logger: logger}
	listingsV1 := &listingHandler{svc: opts.Listings, catalog: opts.Catalog, logger: logger}
	ordersV1 := &orderHandler{svc: opts.Orders, listings: listingsV1, logger: logger}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/market", func(r chi.Router) {
		if opts.Idempotency != nil {
			r.Use(newIdempotency(opts.Idempotency, opts.IdempotencyTTL, logger).Middleware)
		}

		r.Route("/catalog", catalogV1.Routes)

		r.Route("/listings", func(r chi.Router) {
			listingsV1.Routes(r)
		})

		r.Route("/orders", func(r chi.Router) {
			ordersV1.Routes(r)
		})
	})

	if opts.Blobs != nil {
		router.Method(http.MethodPost, "/upload", &uploadHandler{blobs: opts.Blobs, logger: logger})
	}
	if opts.BlobDir != "" {
		router.Handle(UploadsPath+"/*", http.StripPrefix(UploadsPath+"/", http.FileServer(http.Dir(opts.BlobDir))))
	}

	return router
}
