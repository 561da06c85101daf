package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/health"
	"github.com/tidewater-io/tidewater/telemetry"
)

// Server exposes the ops surface: /healthz and /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the admin HTTP server on addr (host:port).
func NewServer(addr string, healthTracker *health.Tracker) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		state := healthTracker.State()
		status := http.StatusOK
		if state == health.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"status": string(state)})
	})

	if handler := telemetry.GetMetricsHandler(); handler != nil {
		r.Handle("/metrics", handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("Admin endpoint listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin endpoint failed")
		}
	}()
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Admin endpoint shutdown error")
	}
}

// Addr formats a host and port into a listen address.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
