package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/listsync/listsync/internal/middleware"
)

// RouterConfig holds the handlers mounted by NewRouter. Resync and
// Metrics are optional.
type RouterConfig struct {
	Root    *Handler
	Health  *HealthHandler
	Lists   *ListHandler
	Users   *UserHandler
	Resync  *ResyncHandler
	Metrics http.Handler

	Logger             *slog.Logger
	MaxRequestBodySize int64
}

// NewRouter builds the HTTP routes of the service.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))

	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Get("/", cfg.Root.Root)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIHeaders)
		if cfg.MaxRequestBodySize > 0 {
			r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
		}

		r.Route("/lists", func(r chi.Router) {
			r.Post("/", cfg.Lists.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Lists.Get)
				r.Patch("/", cfg.Lists.Update)
				r.Delete("/", cfg.Lists.Delete)
				if cfg.Resync != nil {
					r.Post("/resync", cfg.Resync.Resync)
				}

				r.Post("/items", cfg.Lists.AddItem)
				r.Put("/items/{itemID}", cfg.Lists.PutItem)
				r.Delete("/items/{itemID}", cfg.Lists.DeleteItem)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", cfg.Users.Register)
			r.Get("/", cfg.Users.Find)
			r.Get("/{id}", cfg.Users.Get)
			r.Delete("/{id}", cfg.Users.Delete)
			r.Get("/{id}/lists", cfg.Users.Lists)
		})
	})

	r.NotFound(cfg.Root.NotFound)
	r.MethodNotAllowed(cfg.Root.MethodNotAllowed)

	return r
}
