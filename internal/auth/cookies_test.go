package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/placelists/placelists/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCookies = auth.CookieOptions{Name: "pl-auth-token", Secure: true, MaxAge: 30 * 24 * time.Hour}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCookieJar_StoreAndLoad(t *testing.T) {
	sess := &auth.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Hour),
		User:         auth.User{ID: "u1", Email: "curator@places.app"},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	jar := auth.NewCookieJar(rec, req, testCookies)
	require.NoError(t, jar.Store(sess))

	c := findCookie(rec.Result().Cookies(), "pl-auth-token")
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.NotContains(t, c.Value, "curator@places.app")

	// The same jar sees the write through the mirrored request header.
	loaded, err := jar.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
	assert.True(t, loaded.ExpiresAt.Equal(sess.ExpiresAt))
	assert.Equal(t, sess.User, loaded.User)

	// A follow-up request carrying the cookie decodes the same session.
	next := httptest.NewRequest(http.MethodGet, "/settings", nil)
	next.AddCookie(c)
	again, err := auth.NewCookieJar(httptest.NewRecorder(), next, testCookies).Load()
	require.NoError(t, err)
	assert.Equal(t, loaded, again)
}

func TestCookieJar_LoadMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := auth.NewCookieJar(httptest.NewRecorder(), req, testCookies).Load()
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestCookieJar_LoadMalformed(t *testing.T) {
	for _, value := range []string{"not-base64!!", "e30", "bm90IGpzb24"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "pl-auth-token", Value: value})

		_, err := auth.NewCookieJar(httptest.NewRecorder(), req, testCookies).Load()
		assert.True(t, errors.Is(err, auth.ErrMalformedSession), "value %q", value)
	}
}

func TestCookieJar_Clear(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "pl-auth-token", Value: "x"})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	jar := auth.NewCookieJar(rec, req, testCookies)
	jar.Clear()

	for _, name := range []string{"pl-auth-token", "pl-auth-token-code-verifier"} {
		c := findCookie(rec.Result().Cookies(), name)
		require.NotNil(t, c, name)
		assert.Negative(t, c.MaxAge)
	}
	sess, err := jar.Load()
	assert.NoError(t, err)
	assert.Nil(t, sess)

	theme, err := req.Cookie("theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", theme.Value)
}

func TestCookieJar_CodeVerifier(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	jar := auth.NewCookieJar(rec, req, testCookies)

	assert.Empty(t, jar.CodeVerifier())
	jar.SetCodeVerifier("verifier-value")
	assert.Equal(t, "verifier-value", jar.CodeVerifier())

	c := findCookie(rec.Result().Cookies(), "pl-auth-token-code-verifier")
	require.NotNil(t, c)
	assert.Equal(t, 600, c.MaxAge)

	jar.SetCodeVerifier("")
	assert.Empty(t, jar.CodeVerifier())
}
