package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/placelists/placelists/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func newTestMux(t *testing.T, p *fakeProvider) *http.ServeMux {
	t.Helper()
	svc, _, _ := newTestService(t, p)
	mux := http.NewServeMux()
	auth.NewHandler(svc, testCookies).RegisterRoutes(mux)
	return mux
}

func doJSON(mux http.Handler, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandleSignup_SameResponseForExistingEmail(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("taken@places.app", "Existing-Pass-1", true)
	mux := newTestMux(t, p)

	fresh := doJSON(mux, http.MethodPost, "/api/auth/signup", `{"email":"new@places.app","password":"Curated-List-42"}`)
	existing := doJSON(mux, http.MethodPost, "/api/auth/signup", `{"email":"Taken@Places.app","password":"Curated-List-42"}`)

	assert.Equal(t, http.StatusCreated, fresh.Code)
	assert.Equal(t, http.StatusCreated, existing.Code)
	assert.JSONEq(t, fresh.Body.String(), existing.Body.String())
	assert.JSONEq(t, `{"requires_email_confirmation":true}`, existing.Body.String())
}

func TestHandleSignup_ValidationErrors(t *testing.T) {
	p := newFakeProvider()
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodPost, "/api/auth/signup", `{"email":"nope","password":"short"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, "Please enter a valid email address", body.Error.Fields["email"])
	assert.Equal(t, "Password must be at least 12 characters", body.Error.Fields["password"])
	assert.Zero(t, p.signUpCalls)
}

func TestHandleSignup_BadBody(t *testing.T) {
	mux := newTestMux(t, newFakeProvider())

	w := doJSON(mux, http.MethodPost, "/api/auth/signup", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decodeError(t, w).Error.Message)

	w = doJSON(mux, http.MethodPost, "/api/auth/signup", ``)
	assert.Equal(t, "request body is required", decodeError(t, w).Error.Message)
}

func TestHandleLogin(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("curator@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodPost, "/api/auth/login", `{"email":"curator@places.app","password":"Curated-List-42"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, findCookie(w.Result().Cookies(), "pl-auth-token"))
	assert.NotContains(t, w.Body.String(), "access-")

	var body struct {
		User auth.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "curator@places.app", body.User.Email)
}

func TestHandleLogin_Failures(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("curator@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodPost, "/api/auth/login", `{"email":"curator@places.app","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "AUTH_ERROR", body.Error.Code)
	assert.Equal(t, "Invalid email or password", body.Error.Message)

	w = doJSON(mux, http.MethodPost, "/api/auth/login", `{"email":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body = decodeError(t, w)
	assert.Equal(t, "Email is required", body.Error.Fields["email"])
	assert.Equal(t, "Password is required", body.Error.Fields["password"])
}

func TestHandleSessionLifecycle(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("curator@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))

	login := doJSON(mux, http.MethodPost, "/api/auth/login", `{"email":"curator@places.app","password":"Curated-List-42"}`)
	cookie := findCookie(login.Result().Cookies(), "pl-auth-token")
	require.NotNil(t, cookie)

	w = doJSON(mux, http.MethodGet, "/api/auth/session", "", cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	var state auth.SessionState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.True(t, state.Authenticated)
	assert.Equal(t, "curator@places.app", state.User.Email)

	w = doJSON(mux, http.MethodPost, "/api/auth/refresh", "", cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "expires_at")

	w = doJSON(mux, http.MethodPost, "/api/auth/logout", "", cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	cleared := findCookie(w.Result().Cookies(), "pl-auth-token")
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestHandleRefresh_NoSession(t *testing.T) {
	mux := newTestMux(t, newFakeProvider())

	w := doJSON(mux, http.MethodPost, "/api/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "EXPIRED_TOKEN", decodeError(t, w).Error.Code)
}

func TestHandleLogout_WithoutSession(t *testing.T) {
	mux := newTestMux(t, newFakeProvider())

	w := doJSON(mux, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestHandleResetPassword_AlwaysOK(t *testing.T) {
	p := newFakeProvider()
	p.resetErr = &auth.ProviderError{Status: 404, Code: "user_not_found", Message: "User not found"}
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodPost, "/api/auth/password/reset", `{"email":"nobody@places.app"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}

func TestHandleUpdatePassword(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("curator@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"Brand-New-Pass-9"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_ERROR", decodeError(t, w).Error.Code)

	w = doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"weak"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"Brand-New-Pass-9","token_hash":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Error.Code)

	w = doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"Brand-New-Pass-9","token_hash":"abc","type":"recovery"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Brand-New-Pass-9", p.accounts["curator@places.app"].password)
}

func TestHandleUpdatePassword_WithCurrentPassword(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("curator@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	login := doJSON(mux, http.MethodPost, "/api/auth/login", `{"email":"curator@places.app","password":"Curated-List-42"}`)
	cookie := findCookie(login.Result().Cookies(), "pl-auth-token")
	require.NotNil(t, cookie)

	w := doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"Brand-New-Pass-9","current_password":"nope"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Current password is incorrect", decodeError(t, w).Error.Fields["current_password"])

	w = doJSON(mux, http.MethodPut, "/api/auth/password", `{"password":"Brand-New-Pass-9","current_password":"Curated-List-42"}`, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVerify(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		verifyErr error
		location  string
	}{
		{"token hash", "?token_hash=abc&type=signup", nil, "/dashboard"},
		{"next honoured", "?token_hash=abc&type=recovery&next=/reset-password", nil, "/reset-password"},
		{"unsafe next", "?token_hash=abc&type=signup&next=//evil.com", nil, "/dashboard"},
		{"missing", "", nil, "/auth/error?error=missing_token"},
		{"expired", "?token_hash=abc&type=signup", &auth.ProviderError{Status: 403, Code: auth.ProviderCodeOTPExpired, Message: "Email link is invalid or has expired"}, "/auth/error?error=expired_token"},
		{"invalid", "?token_hash=abc&type=signup", &auth.ProviderError{Status: 403, Code: "otp_invalid", Message: "Token not found"}, "/auth/error?error=invalid_token"},
		{"unknown type", "?token_hash=abc&type=sms", nil, "/auth/error?error=invalid_token"},
		{"provider down", "?token_hash=abc&type=signup", errTransport, "/auth/error?error=server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			p.addAccount("new@places.app", "Curated-List-42", false)
			p.verifyErr = tt.verifyErr
			mux := newTestMux(t, p)

			w := doJSON(mux, http.MethodGet, "/api/auth/verify"+tt.query, "")
			assert.Equal(t, http.StatusSeeOther, w.Code)
			assert.Equal(t, tt.location, w.Header().Get("Location"))
		})
	}
}

func TestHandleVerify_TokenHashTakesPrecedenceOverCode(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("new@places.app", "Curated-List-42", false)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodGet, "/api/auth/verify?token_hash=abc&type=recovery&code=pkce-code", "")

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, 1, p.verifyCalls)
	assert.Zero(t, p.exchangeCalls)
}

func TestHandleVerify_CodeOnly(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("new@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodGet, "/api/auth/verify?code=pkce-code", "",
		&http.Cookie{Name: "pl-auth-token-code-verifier", Value: "v"})

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
	assert.Equal(t, 1, p.exchangeCalls)
	assert.Zero(t, p.verifyCalls)
	assert.Equal(t, "v", p.lastVerifier)
}

func TestHandleCallback(t *testing.T) {
	p := newFakeProvider()
	p.addAccount("new@places.app", "Curated-List-42", true)
	mux := newTestMux(t, p)

	w := doJSON(mux, http.MethodGet, "/auth/callback?code=pkce-code&next=/settings", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/settings", w.Header().Get("Location"))

	w = doJSON(mux, http.MethodGet, "/auth/callback", "")
	assert.Equal(t, "/auth/error?error=missing_token", w.Header().Get("Location"))
}
