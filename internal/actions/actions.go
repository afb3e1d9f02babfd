package actions

import (
	"context"

	"github.com/placelists/placelists/internal/auth"
	"github.com/placelists/placelists/internal/validate"
)

// Destinations after a successful action.
const (
	VerifyEmailPath    = "/verify-email"
	HomePath           = "/"
	PasswordResetPath  = "/login?reset=success"
	PasswordChangePath = "/login?password=changed"
)

const (
	msgCheckFields = "Please correct the highlighted fields"
	msgResetSent   = "If an account exists for that email, a reset link is on its way"
)

// AuthService is the part of auth.Service the actions call. Actions never
// reach the identity provider directly.
type AuthService interface {
	Signup(ctx context.Context, jar auth.SessionJar, email, password string) (*auth.SignupResult, error)
	Login(ctx context.Context, jar auth.SessionJar, email, password string) (*auth.Session, error)
	Logout(ctx context.Context, jar auth.SessionJar) error
	ResetPassword(ctx context.Context, jar auth.SessionJar, email string) error
	UpdatePassword(ctx context.Context, jar auth.SessionJar, p auth.UpdatePasswordParams) error
	ChangePassword(ctx context.Context, jar auth.SessionJar, currentPassword, newPassword string) error
}

var _ AuthService = (*auth.Service)(nil)

type Actions struct {
	svc AuthService
}

func New(svc AuthService) *Actions {
	return &Actions{svc: svc}
}

func (a *Actions) Signup(ctx context.Context, jar auth.SessionJar, form SignupForm) Result {
	form.Normalize()
	if errs := form.Validate(); len(errs) > 0 {
		return invalid(errs)
	}
	if _, err := a.svc.Signup(ctx, jar, form.Email, form.Password); err != nil {
		return failure(err)
	}
	return Redirect{To: VerifyEmailPath}
}

func (a *Actions) Login(ctx context.Context, jar auth.SessionJar, form LoginForm) Result {
	form.Normalize()
	if errs := form.Validate(); len(errs) > 0 {
		return invalid(errs)
	}
	if _, err := a.svc.Login(ctx, jar, form.Email, form.Password); err != nil {
		return failure(err)
	}
	return Redirect{To: auth.SafeRedirect(form.RedirectTo)}
}

// Logout always lands on the home page.
func (a *Actions) Logout(ctx context.Context, jar auth.SessionJar) Result {
	_ = a.svc.Logout(ctx, jar)
	return Redirect{To: HomePath}
}

// ForgotPassword answers the same way whether or not the account exists.
func (a *Actions) ForgotPassword(ctx context.Context, jar auth.SessionJar, form ForgotPasswordForm) Result {
	form.Normalize()
	if errs := form.Validate(); len(errs) > 0 {
		return invalid(errs)
	}
	_ = a.svc.ResetPassword(ctx, jar, form.Email)
	return Success{Message: msgResetSent}
}

func (a *Actions) ResetPassword(ctx context.Context, jar auth.SessionJar, form ResetPasswordForm) Result {
	form.Normalize()
	if errs := form.Validate(); len(errs) > 0 {
		return invalid(errs)
	}
	err := a.svc.UpdatePassword(ctx, jar, auth.UpdatePasswordParams{
		NewPassword: form.Password,
		TokenHash:   form.TokenHash,
		Type:        form.Type,
	})
	if err != nil {
		return failure(err)
	}
	return Redirect{To: PasswordResetPath}
}

func (a *Actions) ChangePassword(ctx context.Context, jar auth.SessionJar, form ChangePasswordForm) Result {
	form.Normalize()
	if errs := form.Validate(); len(errs) > 0 {
		return invalid(errs)
	}
	if err := a.svc.ChangePassword(ctx, jar, form.CurrentPassword, form.NewPassword); err != nil {
		return failure(err)
	}
	return Redirect{To: PasswordChangePath}
}

func invalid(errs validate.Errors) Failure {
	return Failure{Message: msgCheckFields, Fields: errs}
}

// failure turns a service error into its user-facing message.
func failure(err error) Failure {
	ae := auth.AsError(err)
	f := Failure{Message: ae.Message}
	if fields, ok := ae.Details.(map[string]string); ok {
		f.Fields = fields
	}
	return f
}
