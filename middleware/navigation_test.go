package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func viewRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func TestNavigation(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no pending navigation", func(t *testing.T) {
		nav := NewNavigator(zap.NewNop())
		w := httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, viewRequest("/profile"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("pending navigation redirects once", func(t *testing.T) {
		nav := NewNavigator(zap.NewNop())
		nav.FullNavigate("/")

		path, ok := nav.Pending()
		assert.True(t, ok)
		assert.Equal(t, "/", path)

		w := httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, viewRequest("/profile"))
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))

		w = httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, viewRequest("/profile"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("already at the target", func(t *testing.T) {
		nav := NewNavigator(zap.NewNop())
		nav.FullNavigate("/")

		w := httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, viewRequest("/"))
		assert.Equal(t, http.StatusOK, w.Code)
		_, ok := nav.Pending()
		assert.False(t, ok)
	})

	t.Run("api and framed requests keep the latch", func(t *testing.T) {
		nav := NewNavigator(zap.NewNop())
		nav.FullNavigate("/")

		w := httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
		assert.Equal(t, http.StatusOK, w.Code)

		framed := viewRequest("/profile")
		framed.Header.Set("Sec-Fetch-Dest", "iframe")
		w = httptest.NewRecorder()
		nav.Navigation(next).ServeHTTP(w, framed)
		assert.Equal(t, http.StatusOK, w.Code)

		_, ok := nav.Pending()
		assert.True(t, ok)
	})
}
