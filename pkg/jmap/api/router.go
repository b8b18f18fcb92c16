package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap"
)

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - POST /jmap     - JMAP endpoint (bare or wrapped call lists)
//   - POST /api/jmap - same endpoint for reverse-proxy setups
//   - GET  /health       - liveness probe
//   - GET  /health/ready - readiness probe (database ping)
//   - GET  /metrics  - Prometheus metrics (when enabled)
func NewRouter(engine *jmap.Engine, config APIConfig, metrics *Metrics, configure ContextConfigurer) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		sqlDB, err := engine.Conn().DB().DB()
		if err == nil {
			err = sqlDB.PingContext(req.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	jmapHandler := NewHandler(engine, metrics, configure)
	r.Post("/jmap", jmapHandler.ServeHTTP)
	r.Post("/api/jmap", jmapHandler.ServeHTTP)

	if config.MetricsEnabled && metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return r
}

// requestLogger logs requests through the internal logger: start at
// DEBUG, completion at INFO, health probes at DEBUG to reduce noise.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", logger.Duration(start),
		}
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}
