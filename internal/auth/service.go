package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/placelists/placelists/internal/platform/metrics"
	"github.com/placelists/placelists/internal/platform/telemetry"
)

// User-facing messages. Login and reset paths are deliberately generic.
const (
	MsgInvalidCredentials       = "Invalid email or password"
	MsgEmailNotVerified         = "Please verify your email before logging in"
	MsgSessionExpired           = "Session expired, please log in again"
	MsgCurrentPasswordIncorrect = "Current password is incorrect"
	MsgNotAuthenticated         = "You must be logged in to do that"
	MsgLinkExpired              = "This link has expired, please request a new one"
	MsgLinkInvalid              = "This link is invalid or has already been used"
	MsgWeakPassword             = "Password does not meet security requirements"
	MsgSamePassword             = "New password must be different from the current one"
	MsgServiceUnavailable       = "Authentication service is unavailable, please try again"
	MsgUnexpected               = "An unexpected error occurred"
)

// VerifyPath is the callback route emailed links point at.
const VerifyPath = "/api/auth/verify"

// ServiceConfig holds the collaborators of the auth service.
type ServiceConfig struct {
	Provider Provider
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// SiteURL is the public origin used to build emailed callback links.
	SiteURL  string
	FlowType FlowType
	Now      func() time.Time
}

// Service is the single place that talks to the identity provider. Every
// error it returns is an *Error; provider failures are logged and normalized.
type Service struct {
	provider Provider
	logger   *slog.Logger
	metrics  *metrics.Metrics
	siteURL  string
	flowType FlowType
	now      func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	flow := cfg.FlowType
	if flow == "" {
		flow = FlowOTP
	}
	return &Service{
		provider: cfg.Provider,
		logger:   logger.With("component", "auth"),
		metrics:  cfg.Metrics,
		siteURL:  strings.TrimRight(cfg.SiteURL, "/"),
		flowType: flow,
		now:      now,
	}
}

// UpdatePasswordParams carries an optional emailed token. Without one, the
// caller's active session authorizes the change.
type UpdatePasswordParams struct {
	NewPassword string
	TokenHash   string
	Type        string
}

// Signup registers an account. The result does not reveal whether the email
// was already registered; only the logs do.
func (s *Service) Signup(ctx context.Context, jar SessionJar, email, password string) (*SignupResult, error) {
	log := s.begin("signup", email)

	params := SignUpParams{
		Email:           email,
		Password:        password,
		EmailRedirectTo: s.siteURL + VerifyPath,
	}
	if s.flowType == FlowPKCE {
		challenge, err := s.startPKCE(jar)
		if err != nil {
			return nil, s.fail(log, "signup", newError(CodeServer, MsgUnexpected), err)
		}
		params.CodeChallenge = challenge
	}

	resp, err := s.provider.SignUp(ctx, params)
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			return nil, s.fail(log, "signup", newError(CodeServer, MsgServiceUnavailable), err)
		}
		switch pe.Code {
		case ProviderCodeUserAlreadyExists, ProviderCodeEmailExists:
			return s.existingSignup(log), nil
		case ProviderCodeWeakPassword:
			return nil, s.fail(log, "signup", ValidationError(MsgWeakPassword, map[string]string{
				"password": MsgWeakPassword,
			}), err)
		}
		return nil, s.fail(log, "signup", newError(CodeService, "Unable to create account, please try again"), err)
	}

	if resp.AlreadyRegistered {
		return s.existingSignup(log), nil
	}

	if resp.Session != nil {
		if err := jar.Store(resp.Session); err != nil {
			return nil, s.fail(log, "signup", newError(CodeServer, MsgUnexpected), err)
		}
		s.succeed(log, "signup", "account created and signed in", "user_id", resp.Session.User.ID)
		return &SignupResult{User: &resp.Session.User, Session: resp.Session}, nil
	}

	if resp.User != nil {
		log = log.With("user_id", resp.User.ID)
	}
	s.succeed(log, "signup", "account created, awaiting email confirmation")
	return &SignupResult{RequiresEmailConfirmation: true}, nil
}

func (s *Service) existingSignup(log *slog.Logger) *SignupResult {
	log.Info("signup for an already registered email", "outcome", "existing_account")
	s.metrics.ObserveAuthOperation("signup", "existing_account")
	return &SignupResult{RequiresEmailConfirmation: true}
}

// Login authenticates with email and password and stores the session.
func (s *Service) Login(ctx context.Context, jar SessionJar, email, password string) (*Session, error) {
	log := s.begin("login", email)

	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			// Login only ever surfaces the two credential messages; the code
			// still tells callers the provider was unreachable.
			return nil, s.fail(log, "login", newError(CodeServer, MsgInvalidCredentials), err)
		}
		if isUnverifiedEmail(pe) {
			return nil, s.fail(log, "login", newError(CodeAuth, MsgEmailNotVerified), err)
		}
		return nil, s.fail(log, "login", newError(CodeAuth, MsgInvalidCredentials), err)
	}

	if err := jar.Store(sess); err != nil {
		return nil, s.fail(log, "login", newError(CodeServer, MsgUnexpected), err)
	}
	s.succeed(log, "login", "login succeeded", "user_id", sess.User.ID)
	return sess, nil
}

// Logout ends the session. It always succeeds and always clears cookies.
func (s *Service) Logout(ctx context.Context, jar SessionJar) error {
	sess, err := jar.Load()
	email := ""
	if sess != nil {
		email = sess.User.Email
	}
	log := s.begin("logout", email)
	if err != nil {
		log.Warn("discarding malformed session cookie", "error", err)
	}

	if sess != nil {
		if err := s.provider.SignOut(ctx, sess.AccessToken); err != nil {
			log.Warn("provider sign out failed, clearing cookies anyway", "error", err)
		}
	}
	jar.Clear()

	s.succeed(log, "logout", "logged out", "had_session", sess != nil)
	return nil
}

// ResetPassword asks the provider to email a recovery link. The caller
// always sees success whether or not the account exists.
func (s *Service) ResetPassword(ctx context.Context, jar SessionJar, email string) error {
	log := s.begin("reset_password", email)

	params := ResetPasswordParams{
		Email:      email,
		RedirectTo: s.siteURL + VerifyPath + "?next=/reset-password",
	}
	if s.flowType == FlowPKCE {
		challenge, err := s.startPKCE(jar)
		if err != nil {
			log.Error("generating code challenge failed", "error", err)
			s.metrics.ObserveAuthOperation("reset_password", "suppressed_error")
			return nil
		}
		params.CodeChallenge = challenge
	}

	if err := s.provider.ResetPasswordForEmail(ctx, params); err != nil {
		log.Error("password reset request failed", "error", err, "outcome", "suppressed")
		s.metrics.ObserveAuthOperation("reset_password", "suppressed_error")
		return nil
	}

	s.succeed(log, "reset_password", "password reset requested")
	return nil
}

// UpdatePassword sets a new password, authorized either by an emailed token
// or by the active session, then signs the user out everywhere.
func (s *Service) UpdatePassword(ctx context.Context, jar SessionJar, p UpdatePasswordParams) error {
	const op = "update_password"

	hasHash, hasType := p.TokenHash != "", p.Type != ""
	if hasHash != hasType {
		log := s.begin(op, "")
		return s.fail(log, op, ValidationError("Reset link is incomplete, please request a new one", map[string]string{
			"token_hash": "token_hash and type must be provided together",
		}), nil)
	}

	var accessToken, email string
	if hasHash {
		log := s.begin(op, "")
		otpType, ok := ParseOTPType(p.Type)
		if !ok {
			return s.fail(log, op, newError(CodeInvalidToken, MsgLinkInvalid), nil)
		}
		sess, err := s.provider.VerifyOTP(ctx, p.TokenHash, otpType)
		if err != nil {
			return s.fail(log, op, tokenError(err), err)
		}
		accessToken, email = sess.AccessToken, sess.User.Email
	} else {
		sess, err := jar.Load()
		if err != nil || sess == nil {
			log := s.begin(op, "")
			return s.fail(log, op, newError(CodeAuth, MsgNotAuthenticated), err)
		}
		accessToken, email = sess.AccessToken, sess.User.Email
	}

	log := s.logger.With("operation", op, "email", telemetry.MaskEmail(email))
	if err := s.setPassword(ctx, log, op, accessToken, p.NewPassword); err != nil {
		return err
	}

	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		log.Warn("sign out after password update failed", "error", err)
	}
	jar.Clear()

	s.succeed(log, op, "password updated, session ended")
	return nil
}

// ChangePassword re-verifies the current password before accepting a new one.
func (s *Service) ChangePassword(ctx context.Context, jar SessionJar, currentPassword, newPassword string) error {
	const op = "change_password"

	sess, err := s.LoadSession(ctx, jar)
	if err != nil {
		return err
	}
	if sess == nil {
		log := s.begin(op, "")
		return s.fail(log, op, newError(CodeAuth, MsgNotAuthenticated), nil)
	}
	log := s.begin(op, sess.User.Email)

	verified, err := s.provider.SignInWithPassword(ctx, sess.User.Email, currentPassword)
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			return s.fail(log, op, newError(CodeServer, MsgServiceUnavailable), err)
		}
		return s.fail(log, op, ValidationError(MsgCurrentPasswordIncorrect, map[string]string{
			"current_password": MsgCurrentPasswordIncorrect,
		}), err)
	}

	if err := s.setPassword(ctx, log, op, verified.AccessToken, newPassword); err != nil {
		return err
	}

	if err := s.provider.SignOut(ctx, verified.AccessToken); err != nil {
		log.Warn("sign out after password change failed", "error", err)
	}
	jar.Clear()

	s.succeed(log, op, "password changed, session ended", "user_id", sess.User.ID)
	return nil
}

func (s *Service) setPassword(ctx context.Context, log *slog.Logger, op, accessToken, password string) error {
	_, err := s.provider.UpdateUser(ctx, accessToken, UpdateUserParams{Password: password})
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if !errors.As(err, &pe) {
		return s.fail(log, op, newError(CodeServer, MsgServiceUnavailable), err)
	}
	switch {
	case pe.Code == ProviderCodeWeakPassword:
		return s.fail(log, op, ValidationError(MsgWeakPassword, map[string]string{"password": MsgWeakPassword}), err)
	case pe.Code == ProviderCodeSamePassword:
		return s.fail(log, op, ValidationError(MsgSamePassword, map[string]string{"password": MsgSamePassword}), err)
	case pe.Status == 401 || pe.Status == 403:
		return s.fail(log, op, newError(CodeAuth, MsgSessionExpired), err)
	}
	return s.fail(log, op, newError(CodeService, "Unable to update password, please try again"), err)
}

// GetSession reports who is signed in. An expired access token is refreshed
// transparently; a failed refresh reads as signed out.
func (s *Service) GetSession(ctx context.Context, jar SessionJar) (*SessionState, error) {
	log := s.begin("get_session", "")

	sess, err := s.LoadSession(ctx, jar)
	if err != nil {
		return nil, err
	}
	if sess != nil && !sess.ExpiresAt.After(s.now()) {
		sess, err = s.RefreshSession(ctx, jar)
		if err != nil {
			sess = nil
		}
	}
	if sess == nil {
		s.succeed(log, "get_session", "no active session", "authenticated", false)
		return &SessionState{Authenticated: false}, nil
	}

	user := sess.User
	expiresAt := sess.ExpiresAt
	s.succeed(log.With("email", telemetry.MaskEmail(user.Email)), "get_session", "active session", "authenticated", true)
	return &SessionState{Authenticated: true, User: &user, ExpiresAt: &expiresAt}, nil
}

// LoadSession reads the session from jar and, unless the access token has
// already expired, validates it with the provider. It returns (nil, nil)
// when there is no usable session, clearing cookies the provider rejected. Expired sessions are returned as-is so
// the caller can decide to refresh them.
func (s *Service) LoadSession(ctx context.Context, jar SessionJar) (*Session, error) {
	sess, err := jar.Load()
	if err != nil {
		s.logger.Warn("discarding malformed session cookie", "error", err)
		jar.Clear()
		return nil, nil
	}
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresAt.After(s.now()) {
		return sess, nil
	}

	user, err := s.provider.GetUser(ctx, sess.AccessToken)
	if err != nil {
		log := s.logger.With("operation", "get_session", "email", telemetry.MaskEmail(sess.User.Email))
		var pe *ProviderError
		if errors.As(err, &pe) {
			log.Info("session rejected by provider", "status", pe.Status, "code", pe.Code)
			s.metrics.ObserveAuthOperation("get_session", "rejected")
			jar.Clear()
			return nil, nil
		}
		return nil, s.fail(log, "get_session", newError(CodeServer, MsgServiceUnavailable), err)
	}

	validated := *sess
	validated.User = *user
	return &validated, nil
}

// RefreshSession exchanges the refresh token for a new session. It never
// reports success with a stale session.
func (s *Service) RefreshSession(ctx context.Context, jar SessionJar) (*Session, error) {
	const op = "refresh_session"

	sess, err := jar.Load()
	if err != nil || sess == nil {
		log := s.begin(op, "")
		return nil, s.fail(log, op, newError(CodeExpiredToken, MsgSessionExpired), err)
	}
	log := s.begin(op, sess.User.Email)

	next, err := s.provider.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			jar.Clear()
		}
		return nil, s.fail(log, op, newError(CodeExpiredToken, MsgSessionExpired), err)
	}
	if !next.ExpiresAt.After(s.now()) {
		jar.Clear()
		return nil, s.fail(log, op, newError(CodeExpiredToken, MsgSessionExpired), nil)
	}

	if err := jar.Store(next); err != nil {
		return nil, s.fail(log, op, newError(CodeServer, MsgUnexpected), err)
	}
	s.succeed(log, op, "session refreshed", "expires_at", next.ExpiresAt)
	return next, nil
}

// VerifyEmail exchanges an emailed one-time token for a session.
func (s *Service) VerifyEmail(ctx context.Context, jar SessionJar, tokenHash, otpType string) (*Session, error) {
	const op = "verify_email"
	log := s.begin(op, "")

	if tokenHash == "" {
		return nil, s.fail(log, op, ValidationError("Verification token is required", map[string]string{
			"token_hash": "required",
		}), nil)
	}
	t, ok := ParseOTPType(otpType)
	if !ok {
		return nil, s.fail(log, op, newError(CodeInvalidToken, MsgLinkInvalid), nil)
	}

	sess, err := s.provider.VerifyOTP(ctx, tokenHash, t)
	if err != nil {
		return nil, s.fail(log, op, tokenError(err), err)
	}
	return s.finishExchange(log, op, jar, sess)
}

// ExchangeCode completes the PKCE flow with the verifier kept in jar.
func (s *Service) ExchangeCode(ctx context.Context, jar SessionJar, code string) (*Session, error) {
	const op = "exchange_code"
	log := s.begin(op, "")

	if code == "" {
		return nil, s.fail(log, op, ValidationError("Authorization code is required", map[string]string{
			"code": "required",
		}), nil)
	}

	sess, err := s.provider.ExchangeCodeForSession(ctx, code, jar.CodeVerifier())
	if err != nil {
		return nil, s.fail(log, op, tokenError(err), err)
	}
	jar.SetCodeVerifier("")
	return s.finishExchange(log, op, jar, sess)
}

func (s *Service) finishExchange(log *slog.Logger, op string, jar SessionJar, sess *Session) (*Session, error) {
	log = log.With("email", telemetry.MaskEmail(sess.User.Email))
	if err := jar.Store(sess); err != nil {
		return nil, s.fail(log, op, newError(CodeServer, MsgUnexpected), err)
	}
	s.succeed(log, op, "token exchanged for session", "user_id", sess.User.ID)
	return sess, nil
}

func (s *Service) startPKCE(jar SessionJar) (string, error) {
	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return "", err
	}
	jar.SetCodeVerifier(verifier)
	return challenge, nil
}

func (s *Service) begin(op, email string) *slog.Logger {
	log := s.logger.With("operation", op)
	if email != "" {
		log = log.With("email", telemetry.MaskEmail(email))
	}
	log.Info("auth operation started")
	return log
}

func (s *Service) succeed(log *slog.Logger, op, msg string, args ...any) {
	log.Info(msg, append([]any{"outcome", "success"}, args...)...)
	s.metrics.ObserveAuthOperation(op, "success")
}

// fail logs the original cause and returns the normalized error.
func (s *Service) fail(log *slog.Logger, op string, out *Error, cause error) *Error {
	args := []any{"outcome", strings.ToLower(string(out.Code))}
	var pe *ProviderError
	switch {
	case errors.As(cause, &pe):
		args = append(args, "provider_status", pe.Status, "provider_code", pe.Code, "error", pe.Message)
	case cause != nil:
		args = append(args, "error", cause.Error())
	}

	level := slog.LevelWarn
	if out.Code == CodeServer || out.Code == CodeService {
		level = slog.LevelError
	}
	log.Log(context.Background(), level, "auth operation failed: "+out.Message, args...)
	s.metrics.ObserveAuthOperation(op, strings.ToLower(string(out.Code)))
	return out
}

func isUnverifiedEmail(pe *ProviderError) bool {
	return pe.Code == ProviderCodeEmailNotConfirmed ||
		strings.Contains(strings.ToLower(pe.Message), "email not confirmed")
}

// tokenError distinguishes expired from invalid one-time tokens where the
// provider's answer allows it.
func tokenError(err error) *Error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return newError(CodeServer, MsgServiceUnavailable)
	}
	if pe.Code == ProviderCodeOTPExpired || strings.Contains(strings.ToLower(pe.Message), "expired") {
		return newError(CodeExpiredToken, MsgLinkExpired)
	}
	return newError(CodeInvalidToken, MsgLinkInvalid)
}
