// Package webapi exposes the admin broadcast API consumed by the cabinet
// frontend: create and start broadcasts, poll progress, request stops,
// preview audience sizes.
package webapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bedolagabot/internal/broadcast"
	"bedolagabot/internal/storage"
)

type Config struct {
	Listen         string
	AllowedOrigins []string
}

type Server struct {
	cfg   Config
	store *storage.Store
	svc   *broadcast.Service
	log   zerolog.Logger
	http  *http.Server
}

func New(cfg Config, store *storage.Store, svc *broadcast.Service, log zerolog.Logger) *Server {
	s := &Server{cfg: cfg, store: store, svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api/broadcasts", func(r chi.Router) {
		r.Post("/", s.createMessageBroadcast)
		r.Post("/email", s.createEmailBroadcast)
		r.Post("/preview", s.previewAudience)
		r.Get("/", s.listBroadcasts)
		r.Get("/{id}", s.getBroadcast)
		r.Post("/{id}/stop", s.stopBroadcast)
	})

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() {
	go func() {
		s.log.Info().Str("listen", s.cfg.Listen).Msg("admin api listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("admin api server failed")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("admin api shutdown incomplete")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("api request")
	})
}
