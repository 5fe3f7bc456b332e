// Package httpapi mounts the external HTTP surface on top of a
// *server.Server: POST /v1/analyze, GET /healthz, GET /metrics.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wombat2006/techdev-sub004/internal/logging"
	"github.com/wombat2006/techdev-sub004/internal/server"
)

// Dependencies bundles everything a handler needs. Kept narrow on purpose:
// handlers reach into srv rather than holding their own copies of its
// internals.
type Dependencies struct {
	Srv         *server.Server
	CORSOrigins []string
}

// maxRequestBodySize bounds the size of a POST /v1/analyze body.
const maxRequestBodySize = 1 << 20 // 1 MB

func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds a chi.Router mounting the full external surface.
func NewRouter(d Dependencies) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(d.Srv.Logger()))
	r.Use(middleware.Recoverer)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthzHandler(d))
	r.Get("/metrics", d.Srv.Metrics().Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		r.Post("/analyze", analyzeHandler(d))
		r.Get("/providers/health", providerHealthHandler(d))
	})

	return r
}

func healthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !d.Srv.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unhealthy"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}
}

// providerHealthHandler exposes per-provider rolling stats (from the health
// Tracker) and the most recent active probe result (from the health
// Prober), so an operator can see why a provider is being skipped without
// grepping logs.
func providerHealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats, probes := d.Srv.ProviderHealth()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"providers": stats,
			"probes":    probes,
		})
	}
}
