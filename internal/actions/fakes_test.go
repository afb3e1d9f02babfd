package actions_test

import (
	"context"
	"time"

	"github.com/placelists/placelists/internal/auth"
)

// fakeService records calls and returns canned errors.
type fakeService struct {
	signupErr, loginErr, logoutErr, resetErr, updateErr, changeErr error

	calls      []string
	email      string
	password   string
	update     auth.UpdatePasswordParams
	current    string
	loginStore bool
}

func (f *fakeService) Signup(_ context.Context, _ auth.SessionJar, email, password string) (*auth.SignupResult, error) {
	f.calls = append(f.calls, "signup")
	f.email, f.password = email, password
	if f.signupErr != nil {
		return nil, f.signupErr
	}
	return &auth.SignupResult{RequiresEmailConfirmation: true}, nil
}

func (f *fakeService) Login(_ context.Context, jar auth.SessionJar, email, password string) (*auth.Session, error) {
	f.calls = append(f.calls, "login")
	f.email, f.password = email, password
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	sess := &auth.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		User:         auth.User{ID: "user-1", Email: email},
	}
	if f.loginStore {
		if err := jar.Store(sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (f *fakeService) Logout(_ context.Context, jar auth.SessionJar) error {
	f.calls = append(f.calls, "logout")
	jar.Clear()
	return f.logoutErr
}

func (f *fakeService) ResetPassword(_ context.Context, _ auth.SessionJar, email string) error {
	f.calls = append(f.calls, "reset_password")
	f.email = email
	return f.resetErr
}

func (f *fakeService) UpdatePassword(_ context.Context, _ auth.SessionJar, p auth.UpdatePasswordParams) error {
	f.calls = append(f.calls, "update_password")
	f.update = p
	return f.updateErr
}

func (f *fakeService) ChangePassword(_ context.Context, _ auth.SessionJar, current, next string) error {
	f.calls = append(f.calls, "change_password")
	f.current, f.password = current, next
	return f.changeErr
}

// nopJar is a SessionJar with nothing in it.
type nopJar struct{ cleared bool }

func (j *nopJar) Load() (*auth.Session, error) { return nil, nil }
func (j *nopJar) Store(*auth.Session) error    { return nil }
func (j *nopJar) Clear()                       { j.cleared = true }
func (j *nopJar) CodeVerifier() string         { return "" }
func (j *nopJar) SetCodeVerifier(string)       {}
