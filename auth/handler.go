package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/identity"
	"github.com/upb/entra-shell/middleware"
	"github.com/upb/entra-shell/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName carries the pending redirect for browsers that lose it across the redirect.
	StateCookieName   = "shell_auth_state"
	stateCookieMaxAge = 600
)

// Shell is the set of shell flows the handler drives.
type Shell interface {
	LoginRedirect(ctx context.Context) (*identity.RedirectStart, error)
	HandleRedirect(ctx context.Context, resp identity.RedirectResponse) (*identity.AuthResult, error)
	LoginPopup(ctx context.Context) (*identity.AuthResult, error)
	Logout(ctx context.Context, popup bool) (string, error)
}

// Handler handles the login, redirect and logout actions.
type Handler struct {
	shell  Shell
	env    authconfig.Environment
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(shell Shell, env authconfig.Environment, logger *zap.Logger) *Handler {
	return &Handler{
		shell:  shell,
		env:    env,
		logger: logger,
	}
}

// AccountResponse is returned by the popup actions.
type AccountResponse struct {
	Account  identity.Account `json:"account"`
	Redirect string           `json:"redirect,omitempty"`
}

// HandleLogin starts a redirect login and sends the browser to the authorize endpoint.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.shell.LoginRedirect(r.Context())
	if err != nil {
		h.logger.Warn("login redirect failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteAuthError(w, err)
		return
	}

	if authconfig.BuildClientConfig(h.env, r.UserAgent()).StoreAuthStateInCookie {
		if err := setStateCookie(w, r, start.Pending); err != nil {
			h.logger.Error("failed to encode auth state", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "Failed to initiate login")
			return
		}
	}

	http.Redirect(w, r, start.URL, http.StatusFound)
}

// HandleLoginPopup signs in through the system browser and returns the new account.
func (h *Handler) HandleLoginPopup(w http.ResponseWriter, r *http.Request) {
	res, err := h.shell.LoginPopup(r.Context())
	if err != nil {
		h.logger.Warn("popup login failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteAuthError(w, err)
		return
	}
	_ = utils.WriteOK(w, AccountResponse{Account: res.Account})
}

// HandleRedirect completes a redirect login from the provider's response.
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	h.completeRedirect(w, r, "/")
}

// RedirectResponse handles a provider response arriving on any view, which is
// where a relative redirect URI lands. Other requests pass through.
func (h *Handler) RedirectResponse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !isRedirectResponse(r) {
			next.ServeHTTP(w, r)
			return
		}
		h.completeRedirect(w, r, r.URL.Path)
	})
}

func (h *Handler) completeRedirect(w http.ResponseWriter, r *http.Request, next string) {
	q := r.URL.Query()
	resp := identity.RedirectResponse{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	if resp.Empty() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	if pending, ok := readStateCookie(r); ok {
		resp.Pending = pending
		clearStateCookie(w, r)
	}

	res, err := h.shell.HandleRedirect(r.Context(), resp)
	if err != nil {
		h.logger.Warn("redirect login failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		http.Redirect(w, r, authconfig.LoginFailedRoute, http.StatusSeeOther)
		return
	}
	if res != nil {
		h.logger.Info("redirect login completed", zap.String("tenant_id", res.Account.TenantID))
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// HandleLogout signs out and sends the browser to the end-session endpoint.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	next, err := h.shell.Logout(r.Context(), false)
	if err != nil {
		h.logger.Warn("logout failed", zap.Error(err))
		_ = utils.WriteAuthError(w, err)
		return
	}
	clearStateCookie(w, r)
	http.Redirect(w, r, next, http.StatusFound)
}

// HandleLogoutPopup signs out in the system browser and tells the page where to go.
func (h *Handler) HandleLogoutPopup(w http.ResponseWriter, r *http.Request) {
	next, err := h.shell.Logout(r.Context(), true)
	if err != nil {
		h.logger.Warn("popup logout failed", zap.Error(err))
		_ = utils.WriteAuthError(w, err)
		return
	}
	clearStateCookie(w, r)
	_ = utils.WriteOK(w, map[string]string{"redirect": next})
}

func isRedirectResponse(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("state") != "" && (q.Get("code") != "" || q.Get("error") != "")
}

func setStateCookie(w http.ResponseWriter, r *http.Request, pending identity.PendingRedirect) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   isSecure(r),
		// the provider's redirect back is a cross-site top-level navigation
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readStateCookie(r *http.Request) (*identity.PendingRedirect, bool) {
	c, err := r.Cookie(StateCookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, false
	}
	var pending identity.PendingRedirect
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, false
	}
	return &pending, true
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
