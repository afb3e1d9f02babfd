package auth

import (
	"context"
	"fmt"
)

// Provider is the capability set of the external identity service. The
// service is the only caller; implementations live in internal/identity.
type Provider interface {
	SignUp(ctx context.Context, params SignUpParams) (*SignUpResponse, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	ResetPasswordForEmail(ctx context.Context, params ResetPasswordParams) error
	UpdateUser(ctx context.Context, accessToken string, params UpdateUserParams) (*User, error)
	VerifyOTP(ctx context.Context, tokenHash string, otpType OTPType) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*Session, error)
}

// OTPType names the purpose of an emailed one-time token.
type OTPType string

const (
	OTPSignup      OTPType = "signup"
	OTPEmail       OTPType = "email"
	OTPRecovery    OTPType = "recovery"
	OTPInvite      OTPType = "invite"
	OTPMagicLink   OTPType = "magiclink"
	OTPEmailChange OTPType = "email_change"
)

// ParseOTPType returns the type for s and whether it is known.
func ParseOTPType(s string) (OTPType, bool) {
	switch t := OTPType(s); t {
	case OTPSignup, OTPEmail, OTPRecovery, OTPInvite, OTPMagicLink, OTPEmailChange:
		return t, true
	}
	return "", false
}

type SignUpParams struct {
	Email           string
	Password        string
	EmailRedirectTo string
	// CodeChallenge is set for the PKCE flow; the emailed link then carries a
	// code instead of a token hash.
	CodeChallenge string
}

// SignUpResponse carries a Session only when the provider confirms emails
// automatically. AlreadyRegistered is set when the provider signals an
// existing account without failing the call.
type SignUpResponse struct {
	User              *User
	Session           *Session
	AlreadyRegistered bool
}

type ResetPasswordParams struct {
	Email         string
	RedirectTo    string
	CodeChallenge string
}

type UpdateUserParams struct {
	Password string
}

// Provider error codes the service reacts to. Anything else is treated as a
// generic provider failure.
const (
	ProviderCodeInvalidCredentials   = "invalid_credentials"
	ProviderCodeEmailNotConfirmed    = "email_not_confirmed"
	ProviderCodeUserAlreadyExists    = "user_already_exists"
	ProviderCodeEmailExists          = "email_exists"
	ProviderCodeWeakPassword         = "weak_password"
	ProviderCodeSamePassword         = "same_password"
	ProviderCodeOTPExpired           = "otp_expired"
	ProviderCodeRefreshTokenNotFound = "refresh_token_not_found"
	ProviderCodeSessionNotFound      = "session_not_found"
	ProviderCodeBadJWT               = "bad_jwt"
	ProviderCodeFlowStateNotFound    = "flow_state_not_found"
	ProviderCodeBadCodeVerifier      = "bad_code_verifier"
)

// ProviderError is a rejection reported by the identity provider. Transport
// failures are plain errors; a ProviderError means the provider answered.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider: %s (status %d, code %q)", e.Message, e.Status, e.Code)
}
