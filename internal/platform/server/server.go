package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/placelists/placelists/internal/actions"
	"github.com/placelists/placelists/internal/auth"
	"github.com/placelists/placelists/internal/platform/database"
	"github.com/placelists/placelists/internal/platform/metrics"
	"github.com/placelists/placelists/internal/platform/middleware"
	"github.com/placelists/placelists/internal/platform/redis"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	// Pool and Redis are pinged by /readyz when set.
	Pool  *database.Pool
	Redis *redis.Client

	AuthHandler    *auth.Handler
	ActionsHandler *actions.Handler
	// Gatekeeper guards every route it does not exclude.
	Gatekeeper *auth.Gatekeeper
	// Pages serves the application pages; it receives whatever the
	// routes above do not match.
	Pages http.Handler

	Metrics            *metrics.Metrics
	MetricsPath        string
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	pool       *database.Pool
	redis      *redis.Client
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		pool:  deps.Pool,
		redis: deps.Redis,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, deps.Metrics.Handler())
	}
	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterRoutes(mux)
	}
	if deps.ActionsHandler != nil {
		deps.ActionsHandler.RegisterRoutes(mux)
	}
	if deps.Pages != nil {
		mux.Handle("/", deps.Pages)
	}

	var handler http.Handler = mux
	if deps.Gatekeeper != nil {
		handler = deps.Gatekeeper.Middleware(handler)
	}
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}
	if deps.Metrics != nil {
		handler = middleware.Metrics(deps.Metrics)(handler)
	}
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness pings the backing stores that are configured. With the
// in-memory identity store there is nothing to ping.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool != nil {
		if err := database.Ping(r.Context(), s.pool); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database ping failed",
			})
			return
		}
	}
	if s.redis != nil {
		if err := s.redis.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis ping failed",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
