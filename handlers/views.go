package handlers

import (
	"net/http"

	"github.com/upb/entra-shell/app"
	"github.com/upb/entra-shell/claims"
	"github.com/upb/entra-shell/middleware"
	"github.com/upb/entra-shell/views"
	"go.uber.org/zap"
)

const appTitle = "Blue Ocean"

func page(deps *app.Dependencies, r *http.Request, title string) views.Page {
	if title == "" {
		title = appTitle
	} else {
		title = title + " - " + appTitle
	}
	return views.Page{
		Title:  title,
		State:  deps.Shell.State(),
		Framed: middleware.IsIframeRequest(r),
	}
}

func render(deps *app.Dependencies, w http.ResponseWriter, r *http.Request, status int, name string, p views.Page) {
	if err := deps.Views.Render(w, status, name, p); err != nil {
		deps.Logger.Error("failed to render view",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("view", name),
			zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// HomeView renders the landing page
func HomeView(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(deps, w, r, http.StatusOK, views.PageHome, page(deps, r, ""))
	}
}

// LoginView renders the page unauthenticated visitors are sent to
func LoginView(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(deps, w, r, http.StatusOK, views.PageLogin, page(deps, r, "Sign in"))
	}
}

// ProfileView renders the signed-in user's ID token claims and Graph profile
func ProfileView(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p := page(deps, r, "Profile")

		req := deps.GuardConfig.Request()
		req.Account = middleware.GetAccountFromContext(ctx)
		if res, err := deps.Identity.AcquireTokenSilent(ctx, req); err != nil {
			p.ProfileError = err.Error()
		} else if profile, err := claims.ExtractIDTokenClaims(res.IDToken); err != nil {
			deps.Logger.Warn("id token claims unusable", zap.Error(err))
			p.ProfileError = err.Error()
		} else {
			p.Profile = profile
		}

		if graph, err := fetchGraphProfile(ctx, deps.HTTPClient); err != nil {
			deps.Logger.Warn("graph profile request failed",
				zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
				zap.Error(err))
			if p.ProfileError == "" {
				p.ProfileError = err.Error()
			}
		} else {
			p.GraphProfile = graph
		}

		render(deps, w, r, http.StatusOK, views.PageProfile, p)
	}
}

// NotFoundView renders the layout with an empty outlet
func NotFoundView(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render(deps, w, r, http.StatusNotFound, views.PageNotFound, page(deps, r, "Not found"))
	}
}
