package auth

import (
	"context"
	"time"
)

// User is the identity attached to a session.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
}

// Session is the credential pair issued by the identity provider. It lives in
// an HTTP-only cookie for its whole lifetime.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// ExpiresWithin reports whether the access token is expired or will expire
// before now+d.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(d))
}

// SessionState is the answer to "who is signed in". A signed-out visitor is
// a valid negative result, not an error.
type SessionState struct {
	Authenticated bool       `json:"authenticated"`
	User          *User      `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// SignupResult is identical in shape for new and already-registered emails.
type SignupResult struct {
	RequiresEmailConfirmation bool     `json:"requires_email_confirmation"`
	User                      *User    `json:"user,omitempty"`
	Session                   *Session `json:"-"`
}

type sessionContextKey struct{}

// WithSession returns a context carrying the authenticated session.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext retrieves the session stored by the gatekeeper, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}
