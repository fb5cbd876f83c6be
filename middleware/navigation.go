package middleware

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Navigator latches full page navigations requested by the shell until the
// browser's next view request picks them up.
type Navigator struct {
	mu      sync.Mutex
	pending string
	logger  *zap.Logger
}

// NewNavigator creates a new Navigator
func NewNavigator(logger *zap.Logger) *Navigator {
	return &Navigator{logger: logger}
}

// FullNavigate schedules a navigation to path. A newer request replaces an older one.
func (n *Navigator) FullNavigate(path string) {
	n.mu.Lock()
	n.pending = path
	n.mu.Unlock()
	n.logger.Debug("full navigation scheduled", zap.String("path", path))
}

// Pending returns the scheduled navigation without consuming it.
func (n *Navigator) Pending() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending, n.pending != ""
}

func (n *Navigator) take() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	path := n.pending
	n.pending = ""
	return path, path != ""
}

// Navigation sends the next top-level view request to the scheduled path.
func (n *Navigator) Navigation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isViewRequest(r) || IsIframeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		path, ok := n.take()
		if !ok || path == r.URL.Path {
			next.ServeHTTP(w, r)
			return
		}

		n.logger.Info("performing full navigation",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("from", r.URL.Path),
			zap.String("to", path))
		http.Redirect(w, r, path, http.StatusSeeOther)
	})
}

func isViewRequest(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
