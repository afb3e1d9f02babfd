package actions

import (
	"encoding/json"
	"net/http"

	"github.com/placelists/placelists/internal/auth"
)

const maxFormBytes = 1 << 16

// Handler exposes the actions as form POST endpoints.
type Handler struct {
	actions *Actions
	cookies auth.CookieOptions
}

func NewHandler(actions *Actions, cookies auth.CookieOptions) *Handler {
	return &Handler{actions: actions, cookies: cookies}
}

// RegisterRoutes registers form routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /signup", h.HandleSignup)
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("POST /logout", h.HandleLogout)
	mux.HandleFunc("POST /forgot-password", h.HandleForgotPassword)
	mux.HandleFunc("POST /reset-password", h.HandleResetPassword)
	mux.HandleFunc("POST /settings/password", h.HandleChangePassword)
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	form := SignupForm{
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	render(w, r, h.actions.Signup(r.Context(), h.jar(w, r), form))
}

// HandleLogin reads redirectTo from the form, falling back to the query
// string the gatekeeper put on the login URL.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	redirectTo := r.PostFormValue("redirectTo")
	if redirectTo == "" {
		redirectTo = r.URL.Query().Get("redirectTo")
	}
	form := LoginForm{
		Email:      r.PostFormValue("email"),
		Password:   r.PostFormValue("password"),
		RedirectTo: redirectTo,
	}
	render(w, r, h.actions.Login(r.Context(), h.jar(w, r), form))
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	render(w, r, h.actions.Logout(r.Context(), h.jar(w, r)))
}

func (h *Handler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	form := ForgotPasswordForm{Email: r.PostFormValue("email")}
	render(w, r, h.actions.ForgotPassword(r.Context(), h.jar(w, r), form))
}

func (h *Handler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	form := ResetPasswordForm{
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
		TokenHash:       r.PostFormValue("token_hash"),
		Type:            r.PostFormValue("type"),
	}
	render(w, r, h.actions.ResetPassword(r.Context(), h.jar(w, r), form))
}

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	form := ChangePasswordForm{
		CurrentPassword: r.PostFormValue("current_password"),
		NewPassword:     r.PostFormValue("new_password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	render(w, r, h.actions.ChangePassword(r.Context(), h.jar(w, r), form))
}

func (h *Handler) jar(w http.ResponseWriter, r *http.Request) auth.SessionJar {
	return auth.NewCookieJar(w, r, h.cookies)
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, Failure{Message: "invalid form submission"})
		return false
	}
	return true
}

// render writes a Result: a 303 for Redirect, 422 JSON for Failure and
// 200 JSON for Success.
func render(w http.ResponseWriter, r *http.Request, res Result) {
	switch res := res.(type) {
	case Redirect:
		http.Redirect(w, r, res.To, http.StatusSeeOther)
	case Failure:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	case Success:
		writeJSON(w, http.StatusOK, res)
	default:
		writeJSON(w, http.StatusInternalServerError, Failure{Message: auth.MsgUnexpected})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
