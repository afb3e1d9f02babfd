package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedSession is returned when the session cookie cannot be decoded.
var ErrMalformedSession = errors.New("malformed session cookie")

// SessionJar is where a browser's session lives between requests.
type SessionJar interface {
	Load() (*Session, error)
	Store(s *Session) error
	Clear()
	CodeVerifier() string
	SetCodeVerifier(v string)
}

// CookieOptions configures the session cookies.
type CookieOptions struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (o CookieOptions) verifierName() string {
	return o.Name + "-code-verifier"
}

// CookieJar keeps the session in an HTTP-only cookie. Writes go to the
// response and are mirrored onto the in-flight request so handlers further
// down the chain observe a refreshed session.
type CookieJar struct {
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions
}

func NewCookieJar(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieJar {
	return &CookieJar{w: w, r: r, opts: opts}
}

type cookieSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

func (j *CookieJar) Load() (*Session, error) {
	c, err := j.r.Cookie(j.opts.Name)
	if err != nil || c.Value == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	var cs cookieSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if cs.AccessToken == "" || cs.RefreshToken == "" {
		return nil, ErrMalformedSession
	}

	return &Session{
		AccessToken:  cs.AccessToken,
		RefreshToken: cs.RefreshToken,
		ExpiresAt:    time.Unix(cs.ExpiresAt, 0),
		User:         cs.User,
	}, nil
}

func (j *CookieJar) Store(s *Session) error {
	raw, err := json.Marshal(cookieSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt.Unix(),
		User:         s.User,
	})
	if err != nil {
		return fmt.Errorf("encoding session cookie: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	j.set(j.opts.Name, value, int(j.opts.MaxAge.Seconds()))
	return nil
}

func (j *CookieJar) Clear() {
	j.set(j.opts.Name, "", -1)
	j.set(j.opts.verifierName(), "", -1)
}

func (j *CookieJar) CodeVerifier() string {
	c, err := j.r.Cookie(j.opts.verifierName())
	if err != nil {
		return ""
	}
	return c.Value
}

// SetCodeVerifier stores a PKCE verifier for ten minutes; an empty value
// deletes it.
func (j *CookieJar) SetCodeVerifier(v string) {
	if v == "" {
		j.set(j.opts.verifierName(), "", -1)
		return
	}
	j.set(j.opts.verifierName(), v, 600)
}

func (j *CookieJar) set(name, value string, maxAge int) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.opts.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	replaceRequestCookie(j.r, name, value)
}

func replaceRequestCookie(r *http.Request, name, value string) {
	var parts []string
	for _, c := range r.Cookies() {
		if c.Name == name {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	if value != "" {
		parts = append(parts, name+"="+value)
	}
	if len(parts) == 0 {
		r.Header.Del("Cookie")
		return
	}
	r.Header.Set("Cookie", strings.Join(parts, "; "))
}
