package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/placelists/placelists/internal/platform/metrics"
)

// LoginPath is where unauthenticated visitors of protected pages are sent.
const LoginPath = "/login"

// SessionManager is the session read/refresh capability the gatekeeper
// needs. *Service implements it.
type SessionManager interface {
	LoadSession(ctx context.Context, jar SessionJar) (*Session, error)
	RefreshSession(ctx context.Context, jar SessionJar) (*Session, error)
}

type GatekeeperConfig struct {
	Sessions SessionManager
	Routes   RouteConfig
	Cookies  CookieOptions
	// RefreshThreshold is how close to expiry a session is refreshed.
	RefreshThreshold time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

// Gatekeeper enforces route protection before requests reach handlers.
type Gatekeeper struct {
	sessions  SessionManager
	routes    RouteConfig
	cookies   CookieOptions
	threshold time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewGatekeeper(cfg GatekeeperConfig) *Gatekeeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gatekeeper{
		sessions:  cfg.Sessions,
		routes:    cfg.Routes,
		cookies:   cfg.Cookies,
		threshold: cfg.RefreshThreshold,
		logger:    logger.With("component", "gatekeeper"),
		metrics:   cfg.Metrics,
		now:       now,
	}
}

// Middleware returns the request interceptor. Public pages never block but
// still get their session refreshed; every other page requires a session
// and fails closed to the login page.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if g.routes.IsExcluded(path) {
			next.ServeHTTP(w, r)
			return
		}

		class := g.routes.Classify(path)
		jar := NewCookieJar(w, r, g.cookies)
		sess, err := g.resolve(r.Context(), jar)

		if class == RoutePublic {
			if err != nil {
				g.logger.Debug("session unavailable on public page", "path", path, "error", err)
			}
			g.metrics.ObserveGatekeeperDecision("public")
			next.ServeHTTP(w, withSession(r, sess))
			return
		}

		if err != nil || sess == nil {
			if err != nil {
				g.logger.Warn("session check failed, redirecting to login", "path", path, "class", class.String(), "error", err)
			}
			g.metrics.ObserveGatekeeperDecision("redirect_login")
			http.Redirect(w, r, LoginRedirect(path), loginRedirectStatus(r.Method))
			return
		}

		g.metrics.ObserveGatekeeperDecision("allow")
		next.ServeHTTP(w, withSession(r, sess))
	})
}

// resolve reads the session and refreshes it when it is about to expire.
// A panic in the session manager is converted into an error so the caller
// fails closed.
func (g *Gatekeeper) resolve(ctx context.Context, jar SessionJar) (sess *Session, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sess = nil
			err = fmt.Errorf("session lookup panicked: %v", rec)
		}
	}()

	sess, err = g.sessions.LoadSession(ctx, jar)
	if err != nil || sess == nil {
		return nil, err
	}
	if !sess.ExpiresWithin(g.now(), g.threshold) {
		return sess, nil
	}

	refreshed, err := g.sessions.RefreshSession(ctx, jar)
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// loginRedirectStatus keeps GET and HEAD as they are and turns anything
// else into a GET, so form bodies are not replayed against the login page.
func loginRedirectStatus(method string) int {
	if method == http.MethodGet || method == http.MethodHead {
		return http.StatusTemporaryRedirect
	}
	return http.StatusSeeOther
}

// LoginRedirect builds the login URL carrying a sanitized return path.
func LoginRedirect(returnTo string) string {
	return LoginPath + "?redirectTo=" + url.QueryEscape(SafeRedirect(returnTo))
}

func withSession(r *http.Request, sess *Session) *http.Request {
	if sess == nil {
		return r
	}
	return r.WithContext(WithSession(r.Context(), sess))
}
