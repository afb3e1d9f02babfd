// Package gotrue implements auth.Provider against a GoTrue-compatible
// identity REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/placelists/placelists/internal/auth"
)

const defaultTimeout = 10 * time.Second

// Client talks to the identity API over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the time source used to compute session expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ auth.Provider = (*Client)(nil)

type userJSON struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	Identities       *[]struct {
		ID string `json:"id"`
	} `json:"identities"`
}

func (u userJSON) toUser() *auth.User {
	return &auth.User{ID: u.ID, Email: u.Email, EmailConfirmedAt: u.EmailConfirmedAt}
}

type sessionJSON struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *userJSON `json:"user"`
}

func (s sessionJSON) toSession(now time.Time) (*auth.Session, error) {
	if s.AccessToken == "" || s.RefreshToken == "" || s.User == nil {
		return nil, fmt.Errorf("incomplete session in identity response")
	}
	expires := now.Add(time.Duration(s.ExpiresIn) * time.Second)
	if s.ExpiresAt > 0 {
		expires = time.Unix(s.ExpiresAt, 0)
	}
	return &auth.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expires,
		User:         *s.User.toUser(),
	}, nil
}

type pkceFields struct {
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

func pkce(challenge string) pkceFields {
	if challenge == "" {
		return pkceFields{}
	}
	return pkceFields{CodeChallenge: challenge, CodeChallengeMethod: "s256"}
}

func (c *Client) SignUp(ctx context.Context, p auth.SignUpParams) (*auth.SignUpResponse, error) {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		pkceFields
	}{p.Email, p.Password, pkce(p.CodeChallenge)}

	// The API answers with a session when emails are auto-confirmed and with
	// the bare user otherwise.
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, withRedirect("/signup", p.EmailRedirectTo), "", body, &raw); err != nil {
		return nil, err
	}

	var sess sessionJSON
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding signup response: %w", err)
	}
	if sess.AccessToken != "" {
		s, err := sess.toSession(c.now())
		if err != nil {
			return nil, err
		}
		return &auth.SignUpResponse{User: &s.User, Session: s}, nil
	}

	var u userJSON
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decoding signup user: %w", err)
	}
	// An obfuscated user with no identities means the email is taken.
	existing := u.Identities != nil && len(*u.Identities) == 0
	return &auth.SignUpResponse{User: u.toUser(), AlreadyRegistered: existing}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	body := map[string]string{"email": email, "password": password}
	return c.token(ctx, "password", body)
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var u userJSON
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	return u.toUser(), nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, p auth.ResetPasswordParams) error {
	body := struct {
		Email string `json:"email"`
		pkceFields
	}{p.Email, pkce(p.CodeChallenge)}
	return c.do(ctx, http.MethodPost, withRedirect("/recover", p.RedirectTo), "", body, nil)
}

func (c *Client) UpdateUser(ctx context.Context, accessToken string, p auth.UpdateUserParams) (*auth.User, error) {
	var u userJSON
	body := map[string]string{"password": p.Password}
	if err := c.do(ctx, http.MethodPut, "/user", accessToken, body, &u); err != nil {
		return nil, err
	}
	return u.toUser(), nil
}

func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, otpType auth.OTPType) (*auth.Session, error) {
	body := map[string]string{"token_hash": tokenHash, "type": string(otpType)}
	var sess sessionJSON
	if err := c.do(ctx, http.MethodPost, "/verify", "", body, &sess); err != nil {
		return nil, err
	}
	return sess.toSession(c.now())
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*auth.Session, error) {
	body := map[string]string{"auth_code": code, "code_verifier": codeVerifier}
	return c.token(ctx, "pkce", body)
}

func (c *Client) token(ctx context.Context, grant string, body any) (*auth.Session, error) {
	var sess sessionJSON
	if err := c.do(ctx, http.MethodPost, "/token?grant_type="+grant, "", body, &sess); err != nil {
		return nil, err
	}
	return sess.toSession(c.now())
}

func withRedirect(path, redirectTo string) string {
	if redirectTo == "" {
		return path
	}
	return path + "?redirect_to=" + url.QueryEscape(redirectTo)
}

// do sends a JSON request. Non-2xx answers become *auth.ProviderError;
// anything that prevents an answer is returned as a plain error.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
