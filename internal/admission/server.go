package admission

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
)

// Server wires the admission handlers, middleware, and HTTP listener.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the facade's HTTP server with its configured router.
func NewServer(cfg config.AdmissionConfig, svc *Service, m *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()
	ConfigureRouter(router, cfg, svc, m, appLogger)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Address,
			ReadTimeout:  cfg.ReadTimeout.Duration,
			WriteTimeout: cfg.WriteTimeout.Duration,
			IdleTimeout:  cfg.IdleTimeout.Duration,
			Handler:      router,
		},
	}
}

// ConfigureRouter attaches the admission routes to an existing router.
func ConfigureRouter(router chi.Router, cfg config.AdmissionConfig, svc *Service, m *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{svc: svc, metrics: m}

	if len(cfg.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Structured logging middleware before RequestID for context propagation.
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Coarse per-IP rate limiting on everything, including the two
	// mutating payment routes.
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow.Duration > 0 {
		router.Use(httprate.Limit(
			cfg.RateLimitRequests,
			cfg.RateLimitWindow.Duration,
			httprate.WithKeyByIP(),
		))
	}

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Handle("/metrics", promhttp.Handler())
	})

	// Payment admission endpoints. Charge creation blocks on the provider,
	// so the timeout matches the provider client's.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/payment", handler.createPayment)
		r.Post("/payment/{payment_id}/refund", handler.createRefund)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
