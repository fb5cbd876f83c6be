package middleware

import (
	"net/http"

	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/shell"
	"github.com/upb/entra-shell/utils"
	"go.uber.org/zap"
)

// Session is the part of the shell the guard reads.
type Session interface {
	Ready() <-chan struct{}
	State() shell.DisplayState
}

// Guard protects views that need a signed-in user.
type Guard struct {
	session Session
	config  authconfig.GuardConfig
	logger  *zap.Logger
}

// NewGuard creates a new Guard
func NewGuard(session Session, cfg authconfig.GuardConfig, logger *zap.Logger) *Guard {
	return &Guard{
		session: session,
		config:  cfg,
		logger:  logger,
	}
}

// RequireSession waits for the shell's first reconciliation, then lets the
// request through only when someone is signed in. Anyone else is sent to the
// login route; framed requests get a 401 since they cannot navigate the top window.
func (g *Guard) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		select {
		case <-g.session.Ready():
		case <-ctx.Done():
			g.logger.Warn("request cancelled before shell was ready",
				zap.String("request_id", requestID))
			_ = utils.WriteServiceUnavailable(w, "Shell is starting")
			return
		}

		state := g.session.State()
		if state.Presence != shell.PresenceAuthenticated {
			g.logger.Debug("guard blocked unauthenticated request",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			if IsIframeRequest(r) {
				_ = utils.WriteUnauthorized(w, "")
				return
			}
			http.Redirect(w, r, g.config.LoginFailedRoute, http.StatusFound)
			return
		}

		if state.ActiveAccount != nil {
			ctx = WithAccount(ctx, state.ActiveAccount)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IsIframeRequest reports whether the browser is loading the request into a frame.
func IsIframeRequest(r *http.Request) bool {
	dest := r.Header.Get("Sec-Fetch-Dest")
	return dest == "iframe" || dest == "frame"
}
