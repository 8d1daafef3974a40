// Package server exposes the synthesis pipeline over HTTP.
//
// The service speaks plain JSON for one-shot synthesis and voice listing,
// WebSocket for chunked audio delivery, and the usual operational endpoints
// (health probes and a Prometheus scrape target). All routes run behind
// internal/observe.Middleware, so every request carries a trace span and an
// X-Correlation-ID response header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sibyl/internal/config"
	"github.com/MrWong99/sibyl/internal/health"
	"github.com/MrWong99/sibyl/internal/observe"
	"github.com/MrWong99/sibyl/internal/pipeline"
	"github.com/MrWong99/sibyl/pkg/provider/synth"
)

// defaultListenAddr is used when the config leaves server.listen_addr empty.
const defaultListenAddr = ":8080"

// Server serves synthesis requests over HTTP and WebSocket.
type Server struct {
	addr     string
	tls      *config.TLSConfig
	pipe     *pipeline.Pipeline
	provider synth.Provider
	metrics  *observe.Metrics
	health   *health.Handler

	httpSrv  *http.Server
	stopOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics instance used by the request middleware and
// the streaming endpoint. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCheckers sets the readiness checks served on /readyz. Without this
// option the service reports ready as soon as it is listening.
func WithCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// New creates a Server for the given pipeline.
//
// provider is the same backend the pipeline renders against; the server
// probes it for [synth.Streamer] support on the streaming endpoint.
func New(cfg config.ServerConfig, pipe *pipeline.Pipeline, provider synth.Provider, opts ...Option) *Server {
	s := &Server{
		addr:     cfg.ListenAddr,
		tls:      cfg.TLS,
		pipe:     pipe,
		provider: provider,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.addr == "" {
		s.addr = defaultListenAddr
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the http.Handler serving all routes:
//
//	POST /api/synthesize        — JSON job in, complete WAV file out
//	GET  /api/voices            — provider voice catalogue
//	GET  /api/synthesize/stream — WebSocket, JSON job in, PCM frames out
//	GET  /healthz               — liveness probe
//	GET  /readyz                — readiness probe
//	GET  /metrics               — Prometheus scrape target
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/synthesize/stream", s.handleStream)
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// handleSynthesize handles POST /api/synthesize.
// The body is a [pipeline.Job]; the job's output path is ignored and the
// rendered WAV file is returned in the response body instead.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var job pipeline.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	job.Output = ""

	res, err := s.pipe.Render(r.Context(), job)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidJob) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "synthesis failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.WAV)))
	_, _ = w.Write(res.WAV)
}

// voicesResponse is the JSON body returned from the voices endpoint.
type voicesResponse struct {
	Voices []synth.Voice `json:"voices"`
}

// handleVoices handles GET /api/voices.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.pipe.ListVoices(r.Context())
	if err != nil {
		http.Error(w, "failed to list voices: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(voicesResponse{Voices: voices})
}

// Run starts the listener and blocks until ctx is cancelled or the listener
// fails. Call [Server.Shutdown] afterwards to drain in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.tls != nil {
			err = s.httpSrv.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("http server listening", "addr", s.addr, "tls", s.tls != nil)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %s: %w", s.addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to finish, up to ctx's deadline. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		slog.Info("http server shutting down")
		err = s.httpSrv.Shutdown(ctx)
	})
	return err
}
