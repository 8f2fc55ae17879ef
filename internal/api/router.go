// Package api exposes a tab engine over a local HTTP control surface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tOgg1/chatsync/internal/engine"
	"github.com/tOgg1/chatsync/internal/logging"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, eng *engine.Engine) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(MaxBodySize(maxBodyBytes))

	h := NewHandler(eng)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Get("/unread", h.Unread)
		r.Get("/conversations/{id}/messages", h.Messages)
		r.Post("/conversations/{id}/focus", h.Focus)
		r.Post("/visibility", h.Visibility)
		r.Post("/messages", h.Send)
		r.Post("/events", h.Inject)
		r.Get("/events/recent", h.Recent)
	})

	return r
}

// Server runs the control API until its context ends.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer builds a server for addr.
func NewServer(addr string, eng *engine.Engine) *Server {
	logger := logging.Component("api")
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(logger, eng),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control api listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
