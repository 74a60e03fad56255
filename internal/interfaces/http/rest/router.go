// Package rest wires the chi router for the memory API.
package rest

import (
	"net/http"
	"time"

	"mnemo-backend/internal/interfaces/http/rest/handlers"
	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router builds the HTTP handler tree.
type Router struct {
	gateway *gateway.Gateway
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewRouter creates a router.
func NewRouter(gw *gateway.Gateway, metrics *observability.Collector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{gateway: gw, metrics: metrics, logger: logger}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(rt.logger))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	healthHandler := handlers.NewHealthHandler(rt.gateway)
	router.Get("/health", healthHandler.Health)

	if rt.metrics != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			rt.metrics.Registry(),
			promhttp.HandlerOpts{},
		))
	}

	router.Route("/api/v1", func(r chi.Router) {
		memoryHandler := handlers.NewMemoryHandler(rt.gateway, rt.logger)
		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryHandler.StoreMemory)
			r.Get("/search", memoryHandler.SearchMemories)
			r.Post("/{entryID}/rescore", memoryHandler.RescoreMemory)
		})

		r.Route("/facts", func(r chi.Router) {
			r.Get("/", memoryHandler.QueryFacts)
			r.Get("/{factID}/history", memoryHandler.FactHistory)
		})

		consolidationHandler := handlers.NewConsolidationHandler(rt.gateway, rt.logger)
		r.Post("/consolidation", consolidationHandler.TriggerConsolidation)

		accessHandler := handlers.NewAccessHandler(rt.gateway, rt.logger)
		r.Route("/domains", func(r chi.Router) {
			r.Post("/validate", accessHandler.ValidateAccess)
			r.Get("/access-history", accessHandler.AccessHistory)
			r.Post("/requests/{requestID}/resolve", accessHandler.ResolveRequest)
		})
	})

	return router
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(started)),
				zap.String("requestId", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
