// Package api serves the automation job API and the Prometheus scrape endpoint.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
)

// Server wraps the HTTP server hosting the job API.
type Server struct {
	cfg        config.APIConfig
	logger     *zap.Logger
	httpServer *http.Server
}

// SetupRoutes configures all API routes. A nil gatherer leaves /metrics unregistered.
func SetupRoutes(h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/", h.ServiceInfo).Methods("GET")
	api.HandleFunc("/automation/jobs", h.CreateJob).Methods("POST")
	api.HandleFunc("/automation/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/automation/jobs/{id}", h.GetJob).Methods("GET")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

// NewServer builds the server. It does not listen until Start.
func NewServer(cfg config.APIConfig, jobs JobService, gatherer prometheus.Gatherer, logger *zap.Logger, version string) *Server {
	logger = logger.Named("api")
	router := SetupRoutes(NewHandler(jobs, logger, version), gatherer, logger)
	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called. It returns nil on a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("Job API listening", zap.String("address", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, bounded by
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.logger.Info("Shutting down job API...")
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
