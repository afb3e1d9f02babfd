package main

import (
	"encoding/json"
	"net/http"

	"github.com/placelists/placelists/internal/auth"
)

// pagesHandler stands in for the rendered application pages. It answers
// for every classified route with the page path and the signed-in user.
func pagesHandler(routes auth.RouteConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if routes.Classify(r.URL.Path) == auth.RouteUnclassified {
			http.NotFound(w, r)
			return
		}

		page := struct {
			Path string     `json:"path"`
			User *auth.User `json:"user"`
		}{Path: r.URL.Path}
		if sess := auth.SessionFromContext(r.Context()); sess != nil {
			page.User = &sess.User
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	})
}
