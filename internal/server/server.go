package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultfetch/vaultfetch/internal/audit"
	"github.com/vaultfetch/vaultfetch/internal/auth"
	"github.com/vaultfetch/vaultfetch/internal/config"
	"github.com/vaultfetch/vaultfetch/internal/metrics"
	"github.com/vaultfetch/vaultfetch/internal/tracing"
)

// ErrNoKeys is returned when the function route would be unprotected
// without server.anonymous being set.
var ErrNoKeys = errors.New("no usable function keys configured (set server.anonymous to serve without keys)")

const shutdownTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Config  *config.Config
	Fetcher SecretFetcher
	Metrics *metrics.Metrics // Optional
	Audit   *audit.Logger    // Optional
	Logger  zerolog.Logger
}

// Server is the function host.
type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// New builds the function host routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("server: fetcher is required")
	}
	cfg := opts.Config
	logger := opts.Logger.With().Str("component", "server").Logger()

	var fn http.Handler = NewHandler(opts.Fetcher, opts.Logger)
	if cfg.Server.Anonymous {
		logger.Warn().Str("route", cfg.Server.Route).Msg("function route is anonymous")
	} else {
		keys := auth.NewFunctionKeyMiddleware(cfg.Keys, fn)
		if keys.Len() == 0 {
			return nil, ErrNoKeys
		}
		fn = keys
	}
	fn = tracing.Middleware(requestID(auditMiddleware(opts.Audit, opts.Metrics, cfg.Server.Route, fn)))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Route, fn)
	if opts.Metrics != nil {
		mux.Handle(cfg.Server.MetricsPath, opts.Metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		http: &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves on l until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", l.Addr().String()).Msg("listening")
		errCh <- s.http.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ListenAndRun listens on the configured address and calls Run.
func (s *Server) ListenAndRun(ctx context.Context) error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Run(ctx, l)
}
