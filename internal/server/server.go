// Package server exposes the probe dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
)

// Config holds HTTP server settings.
type Config struct {
	Addr              string        // Listen address (default: :3000)
	AllowOrigin       string        // Access-Control-Allow-Origin value (default: *)
	ReadHeaderTimeout time.Duration // Default: 10s
	ShutdownTimeout   time.Duration // Grace period for in-flight requests (default: 35s)

	// StreamWriteTimeout bounds each streamed trace write (default: 10s)
	StreamWriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":3000",
		AllowOrigin:       "*",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   35 * time.Second,

		StreamWriteTimeout: 10 * time.Second,
	}
}

// Server serves probe requests.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
	handler    http.Handler
}

// New creates a new Server.
func New(config Config, dispatcher *dispatch.Dispatcher, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.AllowOrigin == "" {
		config.AllowOrigin = def.AllowOrigin
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.StreamWriteTimeout <= 0 {
		config.StreamWriteTimeout = def.StreamWriteTimeout
	}

	s := &Server{
		config:     config,
		dispatcher: dispatcher,
		log:        logger.With().Str("component", "server").Logger(),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// routes builds the mux and wraps it in middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /mac-vendor", s.handleVendor)
	mux.HandleFunc("GET /check-port", s.handleCheckPort)
	mux.HandleFunc("GET /traceroute/{ip}", s.handleTraceroute)
	mux.HandleFunc("POST /ping-once", s.handlePing)

	var h http.Handler = mux
	h = cors(s.config.AllowOrigin, h)
	h = recoverer(h)
	h = requestLogger(h)
	h = requestID(s.log, h)
	return h
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
//
// In-flight requests, including streaming traces, are given ShutdownTimeout
// to finish before their connections are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("grace", s.config.ShutdownTimeout).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("Graceful shutdown incomplete, closing connections")
		srv.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("Server stopped")
	return nil
}
