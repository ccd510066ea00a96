package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Config holds admin server configuration.
type Config struct {
	// ListenAddr is the address to listen on, e.g. "127.0.0.1:9090".
	ListenAddr string
	// RateLimit bounds requests per client IP. Zero values use the defaults.
	RateLimit RateLimitConfig
}

// Server serves a Handler over HTTP.
type Server struct {
	httpServer *http.Server
	limiter    *RateLimiter

	mu      sync.Mutex
	running bool
	addr    net.Addr
}

// NewServer creates a server for src. Call Start to begin serving.
func NewServer(cfg Config, src Source) *Server {
	limiter := NewRateLimiter(cfg.RateLimit)
	limiter.SetOnReject(func(ip, path string) {
		log.WithField("remote", ip).WithField("path", path).Debug("admin request rate limited")
	})

	r := chi.NewRouter()
	r.Use(withHeaders, withRequestLog, limiter.Middleware)
	(&Handler{src: src}).RegisterRoutes(r)

	return &Server{
		limiter: limiter,
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("admin: server already running")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("admin: listen: %w", err)
	}
	s.running = true
	s.addr = ln.Addr()
	log.WithField("addr", s.addr.String()).Info("admin server started")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("admin server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	defer s.limiter.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	log.Info("admin server stopped")
	return nil
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start).String()).
			Debug("admin request")
	})
}
