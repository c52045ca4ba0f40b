package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/graaaaa/instancewatch/internal/engine"
	"github.com/graaaaa/instancewatch/internal/store"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the HTTP surface. It serves the snapshot, feed history and
// SSE stream, and accepts the relay websocket.
type Server struct {
	hub    *Hub
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger

	host string
	port int

	authUser string
	authPass string

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListenHost sets the bind address. Defaults to loopback; LAN mode
// sets it to all interfaces and requires basic auth.
func WithListenHost(host string) ServerOption {
	return func(s *Server) { s.host = host }
}

// WithBasicAuth enables basic auth on every route except /healthz.
func WithBasicAuth(user, pass string) ServerOption {
	return func(s *Server) {
		s.authUser = user
		s.authPass = pass
	}
}

// WithStore sets the history store used for feed queries and stream
// replay. Without it those endpoints degrade rather than fail startup.
func WithStore(st *store.Store) ServerOption {
	return func(s *Server) { s.store = st }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a Server.
func NewServer(eng *engine.Engine, hub *Hub, port int, opts ...ServerOption) *Server {
	s := &Server{
		hub:    hub,
		engine: eng,
		logger: slog.Default(),
		host:   "127.0.0.1",
		port:   port,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/now", s.handleNow)
	protected.HandleFunc("GET /api/v1/feed", s.handleFeed)
	protected.HandleFunc("GET /api/v1/stream", s.handleStream)
	protected.HandleFunc("GET /ws/relay", s.handleRelay)

	var inner http.Handler = protected
	if s.authUser != "" || s.authPass != "" {
		inner = basicAuthMiddleware(s.authUser, s.authPass)(inner)
	}
	mux.Handle("/", inner)

	return securityHeadersMiddleware(mux)
}

// Start runs the listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return <-errCh
}
