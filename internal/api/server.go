package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/clarity-bridge/callcoach/internal/config"
	"github.com/clarity-bridge/callcoach/internal/metrics"
	"github.com/clarity-bridge/callcoach/internal/pipeline"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg *config.Config, p *pipeline.Pipeline, version string, startTime time.Time, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	var providers ProviderInfo
	if p != nil {
		providers = p
	}
	r.Get("/api/v1/health", NewHealthHandler(providers, version, startTime).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		if p != nil {
			NewAnalysesHandler(p, cfg.MaxUploadBytes(), log).Routes(r)
		}
	})

	return r
}

func NewServer(cfg *config.Config, p *pipeline.Pipeline, version string, startTime time.Time, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg, p, version, startTime, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
