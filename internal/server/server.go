// Package server wires the HTTP mux, CORS middleware, and graceful
// shutdown sequence around C12's handlers.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/adred-codev/cityfeed/internal/config"
	"github.com/adred-codev/cityfeed/internal/handlers"
)

// Server owns the HTTP listener and its shutdown lifecycle.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	drain      time.Duration
}

func New(cfg *config.Config, h *handlers.Handlers, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.PostMessage(w, r)
		case http.MethodGet:
			h.GetMessages(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/contact/", h.GetContact)
	mux.HandleFunc("/api/report", h.PostReport)
	mux.HandleFunc("/api/cooldown", h.GetCooldown)
	mux.HandleFunc("/api/stats/daily", h.GetDailyStats)
	mux.HandleFunc("/api/stats/cities", h.GetCityStats)
	mux.HandleFunc("/api/version", h.GetVersion)
	mux.HandleFunc("/health", h.GetHealth)
	mux.HandleFunc("/ws", h.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	handler := corsMiddleware(cfg.AllowedOrigin, mux)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.BindAddr,
			Handler:      handler,
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
		},
		logger: logger.With().Str("component", "server").Logger(),
		drain:  cfg.ShutdownDrain,
	}
}

// corsMiddleware restricts cross-origin requests to a single configured
// origin (spec §6: "CORS restricted to a configured origin"). When no
// origin is configured (allowed outside production), it sends the "*"
// wildcard.
func corsMiddleware(allowedOrigin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := allowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Browser-Fingerprint")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until ctx is canceled, then drains in-flight
// requests for up to the configured shutdown window before returning
// (spec §5's graceful shutdown sequence).
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.drain)
		defer cancel()
		s.logger.Info().Dur("drain", s.drain).Msg("shutting down http server")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
