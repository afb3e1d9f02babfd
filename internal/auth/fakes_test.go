package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/placelists/placelists/internal/auth"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

var errTransport = errors.New("dial tcp 127.0.0.1:9999: connect: connection refused")

// memoryJar is an in-memory auth.SessionJar.
type memoryJar struct {
	session  *auth.Session
	verifier string
	loadErr  error
	cleared  int
}

func (j *memoryJar) Load() (*auth.Session, error) {
	if j.loadErr != nil {
		return nil, j.loadErr
	}
	if j.session == nil {
		return nil, nil
	}
	s := *j.session
	return &s, nil
}

func (j *memoryJar) Store(s *auth.Session) error {
	cp := *s
	j.session = &cp
	return nil
}

func (j *memoryJar) Clear() {
	j.session = nil
	j.verifier = ""
	j.cleared++
}

func (j *memoryJar) CodeVerifier() string     { return j.verifier }
func (j *memoryJar) SetCodeVerifier(v string) { j.verifier = v }

type fakeAccount struct {
	user     auth.User
	password string
}

// fakeProvider is an in-memory identity provider. Error fields, when set,
// are returned by the matching method.
type fakeProvider struct {
	mu       sync.Mutex
	now      func() time.Time
	ttl      time.Duration
	accounts map[string]*fakeAccount
	tokens   map[string]string // access token -> email
	refresh  map[string]string // refresh token -> email
	serial   int

	autoConfirm bool

	signUpErr   error
	signInErr   error
	signOutErr  error
	getUserErr  error
	resetErr    error
	updateErr   error
	verifyErr   error
	refreshErr  error
	exchangeErr error

	verifySession *auth.Session

	signUpCalls   int
	signInCalls   int
	signOutCalls  int
	resetCalls    int
	updateCalls   int
	verifyCalls   int
	refreshCalls  int
	exchangeCalls int

	lastSignUp   auth.SignUpParams
	lastReset    auth.ResetPasswordParams
	lastVerifier string
	lastOTPType  auth.OTPType
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		now:      func() time.Time { return testNow },
		ttl:      time.Hour,
		accounts: map[string]*fakeAccount{},
		tokens:   map[string]string{},
		refresh:  map[string]string{},
	}
}

func (p *fakeProvider) addAccount(email, password string, confirmed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := &fakeAccount{user: auth.User{ID: fmt.Sprintf("user-%d", len(p.accounts)+1), Email: email}, password: password}
	if confirmed {
		at := testNow.Add(-24 * time.Hour)
		acct.user.EmailConfirmedAt = &at
	}
	p.accounts[email] = acct
}

func (p *fakeProvider) issue(email string) *auth.Session {
	p.serial++
	access := fmt.Sprintf("access-%d", p.serial)
	refresh := fmt.Sprintf("refresh-%d", p.serial)
	p.tokens[access] = email
	p.refresh[refresh] = email
	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    p.now().Add(p.ttl),
		User:         p.accounts[email].user,
	}
}

func (p *fakeProvider) SignUp(_ context.Context, params auth.SignUpParams) (*auth.SignUpResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signUpCalls++
	p.lastSignUp = params
	if p.signUpErr != nil {
		return nil, p.signUpErr
	}
	if _, ok := p.accounts[params.Email]; ok {
		return nil, &auth.ProviderError{Status: 422, Code: auth.ProviderCodeUserAlreadyExists, Message: "User already registered"}
	}
	p.accounts[params.Email] = &fakeAccount{
		user:     auth.User{ID: fmt.Sprintf("user-%d", len(p.accounts)+1), Email: params.Email},
		password: params.Password,
	}
	u := p.accounts[params.Email].user
	resp := &auth.SignUpResponse{User: &u}
	if p.autoConfirm {
		resp.Session = p.issue(params.Email)
	}
	return resp, nil
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, password string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInCalls++
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	acct, ok := p.accounts[email]
	if !ok || acct.password != password {
		return nil, &auth.ProviderError{Status: 400, Code: auth.ProviderCodeInvalidCredentials, Message: "Invalid login credentials"}
	}
	if acct.user.EmailConfirmedAt == nil {
		return nil, &auth.ProviderError{Status: 400, Code: auth.ProviderCodeEmailNotConfirmed, Message: "Email not confirmed"}
	}
	return p.issue(email), nil
}

func (p *fakeProvider) SignOut(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	if p.signOutErr != nil {
		return p.signOutErr
	}
	delete(p.tokens, accessToken)
	return nil
}

func (p *fakeProvider) GetUser(_ context.Context, accessToken string) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getUserErr != nil {
		return nil, p.getUserErr
	}
	email, ok := p.tokens[accessToken]
	if !ok {
		return nil, &auth.ProviderError{Status: 401, Code: auth.ProviderCodeBadJWT, Message: "invalid JWT"}
	}
	u := p.accounts[email].user
	return &u, nil
}

func (p *fakeProvider) ResetPasswordForEmail(_ context.Context, params auth.ResetPasswordParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetCalls++
	p.lastReset = params
	return p.resetErr
}

func (p *fakeProvider) UpdateUser(_ context.Context, accessToken string, params auth.UpdateUserParams) (*auth.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateCalls++
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	email, ok := p.tokens[accessToken]
	if !ok {
		return nil, &auth.ProviderError{Status: 401, Code: auth.ProviderCodeBadJWT, Message: "invalid JWT"}
	}
	acct := p.accounts[email]
	if acct.password == params.Password {
		return nil, &auth.ProviderError{Status: 422, Code: auth.ProviderCodeSamePassword, Message: "New password should be different"}
	}
	acct.password = params.Password
	u := acct.user
	return &u, nil
}

func (p *fakeProvider) VerifyOTP(_ context.Context, _ string, otpType auth.OTPType) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	p.lastOTPType = otpType
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	if p.verifySession != nil {
		return p.verifySession, nil
	}
	for email := range p.accounts {
		return p.issue(email), nil
	}
	return nil, &auth.ProviderError{Status: 403, Code: "otp_invalid", Message: "Token has expired or is invalid"}
}

func (p *fakeProvider) RefreshSession(_ context.Context, refreshToken string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	email, ok := p.refresh[refreshToken]
	if !ok {
		return nil, &auth.ProviderError{Status: 400, Code: auth.ProviderCodeRefreshTokenNotFound, Message: "Invalid Refresh Token: Refresh Token Not Found"}
	}
	delete(p.refresh, refreshToken)
	return p.issue(email), nil
}

func (p *fakeProvider) ExchangeCodeForSession(_ context.Context, _ string, codeVerifier string) (*auth.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	p.lastVerifier = codeVerifier
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	for email := range p.accounts {
		return p.issue(email), nil
	}
	return nil, &auth.ProviderError{Status: 404, Code: auth.ProviderCodeFlowStateNotFound, Message: "invalid flow state"}
}
