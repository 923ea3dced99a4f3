// Package server exposes the sanitization pipeline and its policy store over
// HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-dlp/internal/governance"
	"github.com/polisai/polis-dlp/pkg/config"
	"github.com/polisai/polis-dlp/pkg/domain"
	"github.com/polisai/polis-dlp/pkg/policy"
)

// Sanitizer runs the pipeline for one text.
type Sanitizer interface {
	Run(ctx context.Context, text string, sourceMetadata map[string]any) domain.SanitizeResult
}

// BreakerReporter exposes provider circuit state for health checks.
type BreakerReporter interface {
	Breakers() *governance.BreakerSet
}

// Options wires a Server.
type Options struct {
	Config     config.ServerConfig
	Sanitizer  Sanitizer
	Store      *policy.Store
	PolicyPath string
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Server is the operator-facing HTTP surface.
type Server struct {
	cfg        config.ServerConfig
	sanitizer  Sanitizer
	store      *policy.Store
	policyPath string
	metrics    *Metrics
	logger     *slog.Logger
	handler    http.Handler
}

// New builds a Server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Sanitizer == nil {
		return nil, errors.New("server: sanitizer is required")
	}
	if opts.Store == nil {
		return nil, errors.New("server: policy store is required")
	}

	s := &Server{
		cfg:        opts.Config,
		sanitizer:  opts.Sanitizer,
		store:      opts.Store,
		policyPath: opts.PolicyPath,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cfg.MaxBodyBytes <= 0 {
		s.cfg.MaxBodyBytes = 1 << 20
	}
	if snap, err := s.store.Snapshot(); err == nil {
		s.metrics.SetPolicyVersion(snap.Version)
	}

	s.handler = otelhttp.NewHandler(s.routes(), "polis-dlp.http")
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/sanitize", s.handleSanitize)
	r.Route("/config", func(r chi.Router) {
		r.Get("/policy", s.handlePolicy)
		r.Post("/weights", s.handleWeights)
		r.Post("/reload", s.handleReload)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	useTLS := s.cfg.TLS != nil && s.cfg.TLS.Enabled
	if useTLS {
		minVersion, err := s.cfg.TLS.MinTLSVersion()
		if err != nil {
			_ = listener.Close()
			return err
		}
		srv.TLSConfig = &tls.Config{MinVersion: minVersion}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", listener.Addr().String(), "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ServeTLS(listener, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
