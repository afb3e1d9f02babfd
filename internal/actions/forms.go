package actions

import (
	"strings"

	"github.com/placelists/placelists/internal/validate"
)

const msgPasswordsDiffer = "Passwords do not match"

type SignupForm struct {
	Email           string
	Password        string
	ConfirmPassword string
}

func (f *SignupForm) Normalize() {
	f.Email = validate.NormalizeEmail(f.Email)
}

func (f SignupForm) Validate() validate.Errors {
	errs := validate.Errors{}
	validate.Email(errs, "email", f.Email)
	validate.Password(errs, "password", f.Password)
	validate.Match(errs, "confirm_password", f.ConfirmPassword, f.Password, msgPasswordsDiffer)
	return errs
}

// LoginForm carries the page the visitor was heading to before the
// gatekeeper sent them to log in.
type LoginForm struct {
	Email      string
	Password   string
	RedirectTo string
}

func (f *LoginForm) Normalize() {
	f.Email = validate.NormalizeEmail(f.Email)
	f.RedirectTo = strings.TrimSpace(f.RedirectTo)
}

// Validate does not apply the password policy; accounts created under an
// older policy must still be able to log in.
func (f LoginForm) Validate() validate.Errors {
	errs := validate.Errors{}
	validate.Email(errs, "email", f.Email)
	validate.Required(errs, "password", f.Password, "Password")
	return errs
}

type ForgotPasswordForm struct {
	Email string
}

func (f *ForgotPasswordForm) Normalize() {
	f.Email = validate.NormalizeEmail(f.Email)
}

func (f ForgotPasswordForm) Validate() validate.Errors {
	errs := validate.Errors{}
	validate.Email(errs, "email", f.Email)
	return errs
}

// ResetPasswordForm is submitted from the page an emailed recovery link
// lands on. TokenHash and Type are empty when the link was already
// exchanged for a session.
type ResetPasswordForm struct {
	Password        string
	ConfirmPassword string
	TokenHash       string
	Type            string
}

func (f *ResetPasswordForm) Normalize() {
	f.TokenHash = strings.TrimSpace(f.TokenHash)
	f.Type = strings.TrimSpace(f.Type)
}

func (f ResetPasswordForm) Validate() validate.Errors {
	errs := validate.Errors{}
	validate.Password(errs, "password", f.Password)
	validate.Match(errs, "confirm_password", f.ConfirmPassword, f.Password, msgPasswordsDiffer)
	return errs
}

type ChangePasswordForm struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

func (f *ChangePasswordForm) Normalize() {}

func (f ChangePasswordForm) Validate() validate.Errors {
	errs := validate.Errors{}
	validate.Required(errs, "current_password", f.CurrentPassword, "Current password")
	validate.Password(errs, "new_password", f.NewPassword)
	validate.Match(errs, "confirm_password", f.ConfirmPassword, f.NewPassword, msgPasswordsDiffer)
	if f.CurrentPassword != "" && f.NewPassword == f.CurrentPassword {
		errs.Add("new_password", "New password must be different from the current one")
	}
	return errs
}
