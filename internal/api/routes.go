package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/codec"
	"github.com/zoravur/tablegate/internal/gateway"
	"github.com/zoravur/tablegate/internal/notify"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Gateway *gateway.Gateway
	Hub     *notify.Hub
	Codecs  *codec.Registry
	Logger  *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Codecs == nil {
		d.Codecs = codec.Default()
	}
	h := &Handlers{gw: d.Gateway, codecs: d.Codecs, hub: d.Hub}
	ws := &WSHandler{Hub: d.Hub, Router: d.Gateway.Router(), Logger: d.Logger}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(d.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.handleCatalog)
		r.Get("/observers", h.handleObservers)

		r.Route("/resources/{table}", func(r chi.Router) {
			r.Get("/", h.handleQuery)
			r.Post("/", h.handleInsert)
			r.Patch("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)

			r.Get("/{key}", h.handleQuery)
			r.Patch("/{key}", h.handleUpdate)
			r.Delete("/{key}", h.handleDelete)
		})
		r.Post("/bulk/{table}", h.handleBulkInsert)
		r.Post("/batch", h.handleBatch)
	})

	r.Get("/ws", ws.HandleWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Gateway.Engine().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
