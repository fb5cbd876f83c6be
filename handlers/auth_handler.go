package handlers

import (
	"net/http"

	"github.com/upb/entra-shell/auth"
	"github.com/upb/entra-shell/utils"
)

// AuthDeps provides auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

// AuthLoginHandler returns an http.HandlerFunc for the redirect login endpoint
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleLogin)
}

// AuthLoginPopupHandler returns an http.HandlerFunc for the popup login endpoint
func AuthLoginPopupHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleLoginPopup)
}

// AuthRedirectHandler returns an http.HandlerFunc for the redirect response endpoint
func AuthRedirectHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleRedirect)
}

// AuthLogoutHandler returns an http.HandlerFunc for the redirect logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleLogout)
}

// AuthLogoutPopupHandler returns an http.HandlerFunc for the popup logout endpoint
func AuthLogoutPopupHandler(deps AuthDeps) http.HandlerFunc {
	return withAuthHandler(deps, (*auth.Handler).HandleLogoutPopup)
}

func withAuthHandler(deps AuthDeps, fn func(*auth.Handler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			fn(h, w, r)
			return
		}
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
	}
}
