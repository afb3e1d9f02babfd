package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/placelists/placelists/internal/validate"
)

// ErrorPath is the page that explains a failed email link.
const ErrorPath = "/auth/error"

// maxBodyBytes bounds JSON request bodies on the auth API.
const maxBodyBytes = 1 << 16

// Handler serves the JSON auth API and the emailed-link callbacks.
type Handler struct {
	svc     *Service
	cookies CookieOptions
}

func NewHandler(svc *Service, cookies CookieOptions) *Handler {
	return &Handler{svc: svc, cookies: cookies}
}

// RegisterRoutes registers auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", h.HandleSignup)
	mux.HandleFunc("GET /api/auth/verify", h.HandleVerify)
	mux.HandleFunc("GET /auth/callback", h.HandleCallback)
	mux.HandleFunc("POST /api/auth/login", h.HandleLogin)
	mux.HandleFunc("POST /api/auth/logout", h.HandleLogout)
	mux.HandleFunc("POST /api/auth/refresh", h.HandleRefresh)
	mux.HandleFunc("POST /api/auth/password/reset", h.HandleResetPassword)
	mux.HandleFunc("PUT /api/auth/password", h.HandleUpdatePassword)
	mux.HandleFunc("GET /api/auth/session", h.HandleSession)
}

func (h *Handler) jar(w http.ResponseWriter, r *http.Request) SessionJar {
	return NewCookieJar(w, r, h.cookies)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup registers an account. The response is identical for new and
// existing emails.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = validate.NormalizeEmail(req.Email)

	errs := validate.Errors{}
	validate.Email(errs, "email", req.Email)
	validate.Password(errs, "password", req.Password)
	if len(errs) > 0 {
		writeError(w, ValidationError("Please correct the highlighted fields", errs))
		return
	}

	res, err := h.svc.Signup(r.Context(), h.jar(w, r), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin authenticates with email and password.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = validate.NormalizeEmail(req.Email)

	errs := validate.Errors{}
	validate.Email(errs, "email", req.Email)
	validate.Required(errs, "password", req.Password, "Password")
	if len(errs) > 0 {
		writeError(w, ValidationError("Please correct the highlighted fields", errs))
		return
	}

	sess, err := h.svc.Login(r.Context(), h.jar(w, r), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       sess.User,
		"expires_at": sess.ExpiresAt,
	})
}

// HandleLogout ends the session. It always answers 200.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	_ = h.svc.Logout(r.Context(), h.jar(w, r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleRefresh extends the session and reports the new expiry.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.RefreshSession(r.Context(), h.jar(w, r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expires_at": sess.ExpiresAt})
}

// HandleResetPassword requests a recovery email. It always answers 200.
func (h *Handler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = validate.NormalizeEmail(req.Email)

	errs := validate.Errors{}
	validate.Email(errs, "email", req.Email)
	if len(errs) > 0 {
		writeError(w, ValidationError("Please correct the highlighted fields", errs))
		return
	}

	_ = h.svc.ResetPassword(r.Context(), h.jar(w, r), req.Email)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type updatePasswordRequest struct {
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
	TokenHash       string `json:"token_hash"`
	Type            string `json:"type"`
}

// HandleUpdatePassword sets a new password. With current_password it
// re-verifies the signed-in user; otherwise an emailed token or the active
// session authorizes the change.
func (h *Handler) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	errs := validate.Errors{}
	validate.Password(errs, "password", req.Password)
	if len(errs) > 0 {
		writeError(w, ValidationError("Please correct the highlighted fields", errs))
		return
	}

	var err error
	if req.CurrentPassword != "" {
		err = h.svc.ChangePassword(r.Context(), h.jar(w, r), req.CurrentPassword, req.Password)
	} else {
		err = h.svc.UpdatePassword(r.Context(), h.jar(w, r), UpdatePasswordParams{
			NewPassword: req.Password,
			TokenHash:   req.TokenHash,
			Type:        req.Type,
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleSession reports the signed-in user, or null.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetSession(r.Context(), h.jar(w, r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !state.Authenticated {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleVerify exchanges an emailed link for a session. A token_hash takes
// precedence over a PKCE code when both are present.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jar := h.jar(w, r)

	var err error
	switch {
	case q.Get("token_hash") != "":
		_, err = h.svc.VerifyEmail(r.Context(), jar, q.Get("token_hash"), q.Get("type"))
	case q.Get("code") != "":
		_, err = h.svc.ExchangeCode(r.Context(), jar, q.Get("code"))
	default:
		redirectToError(w, r, "missing_token")
		return
	}
	if err != nil {
		redirectToError(w, r, callbackErrorParam(err))
		return
	}

	http.Redirect(w, r, SafeRedirect(q.Get("next")), http.StatusSeeOther)
}

// HandleCallback completes the PKCE flow for links that land on the app
// callback page.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		redirectToError(w, r, "missing_token")
		return
	}

	if _, err := h.svc.ExchangeCode(r.Context(), h.jar(w, r), code); err != nil {
		redirectToError(w, r, callbackErrorParam(err))
		return
	}
	http.Redirect(w, r, SafeRedirect(q.Get("next")), http.StatusSeeOther)
}

func callbackErrorParam(err error) string {
	switch AsError(err).Code {
	case CodeExpiredToken:
		return "expired_token"
	case CodeInvalidToken, CodeValidation, CodeAuth:
		return "invalid_token"
	default:
		return "server_error"
	}
}

func redirectToError(w http.ResponseWriter, r *http.Request, param string) {
	http.Redirect(w, r, ErrorPath+"?error="+url.QueryEscape(param), http.StatusSeeOther)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, ValidationError(msg, nil))
		return false
	}
	return true
}

// writeError renders err as {"error": {...}} with the status of its code.
func writeError(w http.ResponseWriter, err error) {
	ae := AsError(err)
	writeJSON(w, ae.HTTPStatus(), map[string]*Error{"error": ae})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
