// Package api serves the HTTP plane: health probes, Prometheus metrics, the
// websocket entry point, and the large-file download gateway.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsbattig/share-things-sub004/internal/logger"
	"github.com/jsbattig/share-things-sub004/pkg/api/handlers"
	apiMiddleware "github.com/jsbattig/share-things-sub004/pkg/api/middleware"
	"github.com/jsbattig/share-things-sub004/pkg/store"
)

// WebsocketHandler upgrades and serves a websocket connection. Implemented
// by the hub.
type WebsocketHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Registry is the slice of the session registry the HTTP plane needs.
type Registry interface {
	apiMiddleware.TokenValidator
	handlers.SessionCounter
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /metrics - Prometheus metrics (when enabled)
//   - GET /ws - Websocket entry point
//   - GET /api/download/{contentID} - Large-file download (bearer token)
//
// The request timeout middleware covers only the JSON endpoints; the
// websocket route and the streaming download route manage their own
// lifetimes.
func NewRouter(config Config, registry Registry, chunks store.ChunkStore, ws WebsocketHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(pingerFor(chunks), registry)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/health", func(r chi.Router) {
			r.Get("/", healthHandler.Liveness)
			r.Get("/ready", healthHandler.Readiness)
		})

		if config.EnableMetrics {
			r.Handle("/metrics", promhttp.Handler())
		}

		// Root redirect to health for convenience
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
		})
	})

	if ws != nil {
		r.Get("/ws", ws.ServeWS)
	}

	downloadHandler := handlers.NewDownloadHandler(chunks)
	r.Group(func(r chi.Router) {
		r.Use(apiMiddleware.SessionAuth(registry))
		r.Get("/api/download/{contentID}", downloadHandler.Download)
	})

	return r
}

// pingerFor narrows the store to its health check if the backend supports
// one.
func pingerFor(chunks store.ChunkStore) handlers.Pinger {
	if p, ok := chunks.(handlers.Pinger); ok {
		return p
	}
	return nil
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// Healthcheck and metrics scrapes are logged at DEBUG level to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("HTTP request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("HTTP request completed", logArgs...)
		} else {
			logger.Info("HTTP request completed", logArgs...)
		}
	})
}
