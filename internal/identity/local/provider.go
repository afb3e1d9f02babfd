// Package local is a self-contained identity provider for development and
// tests. It speaks the same auth.Provider contract as the hosted service:
// emailed one-time links, JWT access tokens and rotating refresh tokens.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/placelists/placelists/internal/audit"
	"github.com/placelists/placelists/internal/auth"
	"github.com/placelists/placelists/internal/platform/telemetry"
)

type Config struct {
	Store  Store
	Tokens OneTimeTokens
	Issuer *TokenIssuer
	Mailer Mailer
	Logger *slog.Logger
	// Audit receives account security events; nil disables auditing.
	Audit audit.Logger

	RefreshTTL time.Duration
	OTPTTL     time.Duration
	// RequireEmailConfirmation makes new accounts unusable until the emailed
	// link is followed.
	RequireEmailConfirmation bool
	// PasswordCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	PasswordCost int
	Now          func() time.Time
}

// Provider implements auth.Provider on top of a Store.
type Provider struct {
	store        Store
	tokens       OneTimeTokens
	issuer       *TokenIssuer
	mailer       Mailer
	logger       *slog.Logger
	audit        audit.Logger
	refreshTTL   time.Duration
	otpTTL       time.Duration
	requireEmail bool
	cost         int
	dummyHash    string
	now          func() time.Time
}

var _ auth.Provider = (*Provider)(nil)

func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Store == nil || cfg.Tokens == nil || cfg.Issuer == nil || cfg.Mailer == nil {
		return nil, errors.New("local provider: store, tokens, issuer and mailer are required")
	}
	p := &Provider{
		store:        cfg.Store,
		tokens:       cfg.Tokens,
		issuer:       cfg.Issuer,
		mailer:       cfg.Mailer,
		logger:       cfg.Logger,
		audit:        cfg.Audit,
		refreshTTL:   cfg.RefreshTTL,
		otpTTL:       cfg.OTPTTL,
		requireEmail: cfg.RequireEmailConfirmation,
		cost:         cfg.PasswordCost,
		now:          cfg.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "local_identity")
	if p.audit == nil {
		p.audit = audit.NopLogger{}
	}
	if p.cost == 0 {
		p.cost = bcrypt.DefaultCost
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.refreshTTL == 0 {
		p.refreshTTL = 30 * 24 * time.Hour
	}
	if p.otpTTL == 0 {
		p.otpTTL = time.Hour
	}

	// Unknown emails are compared against this hash so they cost as much
	// as known ones.
	h, err := hashPassword("placelists-unknown-account", p.cost)
	if err != nil {
		return nil, err
	}
	p.dummyHash = h
	return p, nil
}

// Provider errors mirror the hosted service's codes and messages.
var (
	errInvalidCredentials = &auth.ProviderError{Status: http.StatusBadRequest, Code: auth.ProviderCodeInvalidCredentials, Message: "Invalid login credentials"}
	errEmailNotConfirmed  = &auth.ProviderError{Status: http.StatusBadRequest, Code: auth.ProviderCodeEmailNotConfirmed, Message: "Email not confirmed"}
	errWeakPassword       = &auth.ProviderError{Status: http.StatusUnprocessableEntity, Code: auth.ProviderCodeWeakPassword, Message: "Password is too long"}
	errSamePassword       = &auth.ProviderError{Status: http.StatusUnprocessableEntity, Code: auth.ProviderCodeSamePassword, Message: "New password should be different from the old password."}
	errBadJWT             = &auth.ProviderError{Status: http.StatusUnauthorized, Code: auth.ProviderCodeBadJWT, Message: "invalid JWT: unable to parse or verify signature"}
	errJWTExpired         = &auth.ProviderError{Status: http.StatusUnauthorized, Code: auth.ProviderCodeBadJWT, Message: "invalid JWT: token is expired"}
	errSessionNotFound    = &auth.ProviderError{Status: http.StatusForbidden, Code: auth.ProviderCodeSessionNotFound, Message: "Session from session_id claim in JWT does not exist"}
	errOTPExpired         = &auth.ProviderError{Status: http.StatusForbidden, Code: auth.ProviderCodeOTPExpired, Message: "Email link is invalid or has expired"}
	errOTPInvalid         = &auth.ProviderError{Status: http.StatusForbidden, Code: "otp_invalid", Message: "Email link is invalid or has already been used"}
	errRefreshNotFound    = &auth.ProviderError{Status: http.StatusBadRequest, Code: auth.ProviderCodeRefreshTokenNotFound, Message: "Invalid Refresh Token: Refresh Token Not Found"}
	errRefreshReused      = &auth.ProviderError{Status: http.StatusBadRequest, Code: "refresh_token_already_used", Message: "Invalid Refresh Token: Already Used"}
	errFlowNotFound       = &auth.ProviderError{Status: http.StatusNotFound, Code: auth.ProviderCodeFlowStateNotFound, Message: "invalid flow state, no valid flow state found"}
	errBadCodeVerifier    = &auth.ProviderError{Status: http.StatusBadRequest, Code: auth.ProviderCodeBadCodeVerifier, Message: "code challenge does not match previously saved code verifier"}
)

func (p *Provider) SignUp(ctx context.Context, params auth.SignUpParams) (*auth.SignUpResponse, error) {
	hash, err := hashPassword(params.Password, p.cost)
	if err != nil {
		if isPasswordTooLong(err) {
			return nil, errWeakPassword
		}
		return nil, err
	}

	var confirmedAt *time.Time
	if !p.requireEmail {
		now := p.now()
		confirmedAt = &now
	}

	u, err := p.store.CreateUser(ctx, params.Email, hash, confirmedAt)
	if errors.Is(err, ErrEmailTaken) {
		// Same shape as a fresh signup, without identities.
		p.logger.Info("signup for existing account", "email", telemetry.MaskEmail(params.Email))
		p.audit.Log(ctx, audit.Event{
			Action:   audit.ActionRepeatedSignup,
			Metadata: map[string]any{audit.MetadataEmail: telemetry.MaskEmail(params.Email)},
		})
		return &auth.SignUpResponse{User: &auth.User{Email: params.Email}, AlreadyRegistered: true}, nil
	}
	if err != nil {
		return nil, err
	}
	p.audit.Log(ctx, audit.Event{UserID: u.ID, Action: audit.ActionSignedUp})

	if !p.requireEmail {
		sess, err := p.startSession(ctx, u)
		if err != nil {
			return nil, err
		}
		return &auth.SignUpResponse{User: &sess.User, Session: sess}, nil
	}

	if err := p.sendLink(ctx, u, auth.OTPSignup, params.EmailRedirectTo, params.CodeChallenge); err != nil {
		return nil, err
	}
	return &auth.SignUpResponse{User: toUser(u)}, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	u, err := p.store.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		passwordMatches(p.dummyHash, password)
		p.audit.Log(ctx, audit.Event{
			Action: audit.ActionLoginFailed,
			Metadata: map[string]any{
				audit.MetadataEmail:  telemetry.MaskEmail(email),
				audit.MetadataReason: "unknown_account",
			},
		})
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !passwordMatches(u.PasswordHash, password) {
		p.loginFailed(ctx, u, errInvalidCredentials)
		return nil, errInvalidCredentials
	}
	if p.requireEmail && u.EmailConfirmedAt == nil {
		p.loginFailed(ctx, u, errEmailNotConfirmed)
		return nil, errEmailNotConfirmed
	}
	return p.login(ctx, u, "password")
}

func (p *Provider) loginFailed(ctx context.Context, u *UserRecord, reason *auth.ProviderError) {
	p.audit.Log(ctx, audit.Event{
		UserID:   u.ID,
		Action:   audit.ActionLoginFailed,
		Metadata: map[string]any{audit.MetadataReason: reason.Code},
	})
}

// login starts a session and records how it was obtained.
func (p *Provider) login(ctx context.Context, u *UserRecord, flow string) (*auth.Session, error) {
	sess, err := p.startSession(ctx, u)
	if err != nil {
		return nil, err
	}
	p.audit.Log(ctx, audit.Event{UserID: u.ID, Action: audit.ActionLogin, Metadata: map[string]any{audit.MetadataFlow: flow}})
	return sess, nil
}

// SignOut ends every session of the token's user.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	// Expired tokens still identify the user for sign out.
	claims, err := p.issuer.ValidateSignature(accessToken)
	if err != nil {
		return errBadJWT
	}
	if err := p.store.RevokeUserSessions(ctx, claims.UserID); err != nil {
		return err
	}
	p.audit.Log(ctx, audit.Event{UserID: claims.UserID, Action: audit.ActionLogout})
	return nil
}

func (p *Provider) GetUser(ctx context.Context, accessToken string) (*auth.User, error) {
	u, err := p.authorize(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return toUser(u), nil
}

func (p *Provider) ResetPasswordForEmail(ctx context.Context, params auth.ResetPasswordParams) error {
	u, err := p.store.UserByEmail(ctx, params.Email)
	if errors.Is(err, ErrUserNotFound) {
		p.logger.Info("password reset for unknown account", "email", telemetry.MaskEmail(params.Email))
		return nil
	}
	if err != nil {
		return err
	}
	return p.sendLink(ctx, u, auth.OTPRecovery, params.RedirectTo, params.CodeChallenge)
}

func (p *Provider) UpdateUser(ctx context.Context, accessToken string, params auth.UpdateUserParams) (*auth.User, error) {
	u, err := p.authorize(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if params.Password == "" {
		return toUser(u), nil
	}
	if passwordMatches(u.PasswordHash, params.Password) {
		return nil, errSamePassword
	}

	hash, err := hashPassword(params.Password, p.cost)
	if err != nil {
		if isPasswordTooLong(err) {
			return nil, errWeakPassword
		}
		return nil, err
	}
	if err := p.store.SetPassword(ctx, u.ID, hash); err != nil {
		return nil, err
	}
	p.audit.Log(ctx, audit.Event{UserID: u.ID, Action: audit.ActionPasswordUpdated})
	return toUser(u), nil
}

func (p *Provider) VerifyOTP(ctx context.Context, tokenHash string, otpType auth.OTPType) (*auth.Session, error) {
	rec, err := p.takeToken(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if rec.CodeChallenge != "" || !sameOTPFamily(rec.Type, otpType) {
		return nil, errOTPInvalid
	}
	return p.redeem(ctx, rec, "otp")
}

func (p *Provider) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := p.now()
	next, err := p.store.RotateRefreshToken(ctx, HashToken(refreshToken), RefreshToken{
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(p.refreshTTL),
	}, now)
	switch {
	case errors.Is(err, ErrRefreshTokenNotFound):
		return nil, errRefreshNotFound
	case errors.Is(err, ErrRefreshTokenReused):
		p.logger.Warn("refresh token reuse detected, session revoked")
		p.audit.Log(ctx, audit.Event{
			Action:   audit.ActionTokenRevoked,
			Metadata: map[string]any{audit.MetadataReason: "refresh_token_reused"},
		})
		return nil, errRefreshReused
	case errors.Is(err, ErrSessionRevoked):
		return nil, errSessionNotFound
	case err != nil:
		return nil, err
	}

	u, err := p.store.UserByID(ctx, next.UserID)
	if err != nil {
		return nil, err
	}
	p.audit.Log(ctx, audit.Event{
		UserID:   u.ID,
		Action:   audit.ActionTokenRefreshed,
		Metadata: map[string]any{audit.MetadataSession: next.SessionID},
	})
	return p.sessionFor(u, next.SessionID, raw)
}

func (p *Provider) ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*auth.Session, error) {
	rec, err := p.takeToken(ctx, code)
	if errors.Is(err, errOTPInvalid) {
		return nil, errFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.CodeChallenge == "" {
		return nil, errFlowNotFound
	}
	if codeVerifier == "" || auth.PKCEChallenge(codeVerifier) != rec.CodeChallenge {
		p.audit.Log(ctx, audit.Event{
			UserID:   rec.UserID,
			Action:   audit.ActionCodeExchangeRejected,
			Metadata: map[string]any{audit.MetadataReason: auth.ProviderCodeBadCodeVerifier},
		})
		return nil, errBadCodeVerifier
	}
	return p.redeem(ctx, rec, "pkce")
}

// takeToken consumes a one-time token and checks its expiry.
func (p *Provider) takeToken(ctx context.Context, raw string) (*OTPRecord, error) {
	rec, err := p.tokens.Take(ctx, HashToken(raw))
	if errors.Is(err, ErrOTPNotFound) {
		return nil, errOTPInvalid
	}
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(p.now()) {
		return nil, errOTPExpired
	}
	return rec, nil
}

func (p *Provider) redeem(ctx context.Context, rec *OTPRecord, flow string) (*auth.Session, error) {
	u, err := p.store.UserByID(ctx, rec.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, errOTPInvalid
	}
	if err != nil {
		return nil, err
	}

	if u.EmailConfirmedAt == nil {
		now := p.now()
		if err := p.store.ConfirmEmail(ctx, u.ID, now); err != nil {
			return nil, err
		}
		u.EmailConfirmedAt = &now
		p.audit.Log(ctx, audit.Event{UserID: u.ID, Action: audit.ActionConfirmed})
	}
	return p.login(ctx, u, flow)
}

// sendLink stores a one-time token and mails a link carrying it: a
// token_hash and type, or a PKCE code when a challenge was supplied.
func (p *Provider) sendLink(ctx context.Context, u *UserRecord, otpType auth.OTPType, redirectTo, challenge string) error {
	raw, err := newOpaqueToken()
	if err != nil {
		return err
	}
	rec := OTPRecord{
		UserID:        u.ID,
		Type:          otpType,
		CodeChallenge: challenge,
		ExpiresAt:     p.now().Add(p.otpTTL),
	}
	if err := p.tokens.Put(ctx, HashToken(raw), rec); err != nil {
		return err
	}

	params := url.Values{}
	if challenge != "" {
		params.Set("code", raw)
	} else {
		params.Set("token_hash", raw)
		params.Set("type", string(otpType))
	}
	link := appendQuery(redirectTo, params)

	if err := p.mailer.Send(ctx, Message{To: u.Email, Type: otpType, Link: link}); err != nil {
		return fmt.Errorf("sending %s email: %w", otpType, err)
	}
	p.logger.Info("account email sent", "type", string(otpType), "email", telemetry.MaskEmail(u.Email))

	action := audit.ActionConfirmationSent
	if otpType == auth.OTPRecovery {
		action = audit.ActionRecoverySent
	}
	flow := "otp"
	if challenge != "" {
		flow = "pkce"
	}
	p.audit.Log(ctx, audit.Event{
		UserID:   u.ID,
		Action:   action,
		Metadata: map[string]any{audit.MetadataOTPType: string(otpType), audit.MetadataFlow: flow},
	})
	return nil
}

func (p *Provider) startSession(ctx context.Context, u *UserRecord) (*auth.Session, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	sessionID, err := p.store.CreateSession(ctx, u.ID, RefreshToken{
		TokenHash: HashToken(raw),
		ExpiresAt: p.now().Add(p.refreshTTL),
	})
	if err != nil {
		return nil, err
	}
	return p.sessionFor(u, sessionID, raw)
}

func (p *Provider) sessionFor(u *UserRecord, sessionID, refreshToken string) (*auth.Session, error) {
	access, expires, err := p.issuer.Issue(u.ID, u.Email, sessionID)
	if err != nil {
		return nil, err
	}
	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    expires,
		User:         *toUser(u),
	}, nil
}

// authorize resolves an access token to its user, requiring a live session.
func (p *Provider) authorize(ctx context.Context, accessToken string) (*UserRecord, error) {
	claims, err := p.issuer.Validate(accessToken)
	if errors.Is(err, ErrTokenExpired) {
		return nil, errJWTExpired
	}
	if err != nil {
		return nil, errBadJWT
	}

	if err := p.store.SessionActive(ctx, claims.SessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionRevoked) {
			return nil, errSessionNotFound
		}
		return nil, err
	}

	u, err := p.store.UserByID(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, errBadJWT
	}
	return u, err
}

func toUser(u *UserRecord) *auth.User {
	return &auth.User{ID: u.ID, Email: u.Email, EmailConfirmedAt: u.EmailConfirmedAt}
}

// sameOTPFamily treats signup and email confirmations as interchangeable,
// as the hosted service does.
func sameOTPFamily(stored, presented auth.OTPType) bool {
	if stored == presented {
		return true
	}
	confirm := func(t auth.OTPType) bool { return t == auth.OTPSignup || t == auth.OTPEmail }
	return confirm(stored) && confirm(presented)
}

func appendQuery(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
