package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/identity"
	"go.uber.org/zap"
)

const ieUserAgent = "Mozilla/5.0 (Windows NT 10.0; WOW64; Trident/7.0; rv:11.0) like Gecko"

// MockShell mocks the shell flows
type MockShell struct {
	mock.Mock
}

func (m *MockShell) LoginRedirect(ctx context.Context) (*identity.RedirectStart, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.RedirectStart), args.Error(1)
}

func (m *MockShell) HandleRedirect(ctx context.Context, resp identity.RedirectResponse) (*identity.AuthResult, error) {
	args := m.Called(ctx, resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.AuthResult), args.Error(1)
}

func (m *MockShell) LoginPopup(ctx context.Context) (*identity.AuthResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.AuthResult), args.Error(1)
}

func (m *MockShell) Logout(ctx context.Context, popup bool) (string, error) {
	args := m.Called(ctx, popup)
	return args.String(0), args.Error(1)
}

var testEnv = authconfig.Environment{ClientID: "client-123", RedirectURI: "/products", PostLogoutRedirectURI: "/discover"}

func redirectStart() *identity.RedirectStart {
	return &identity.RedirectStart{
		URL: "https://login.microsoftonline.com/organizations/oauth2/v2.0/authorize?state=s1",
		Pending: identity.PendingRedirect{
			State:        "s1",
			CodeVerifier: "verifier",
			RedirectURI:  "http://127.0.0.1:4200/products",
			Scopes:       []string{"user.read"},
		},
	}
}

func TestHandleLogin(t *testing.T) {
	logger := zap.NewNop()

	t.Run("redirects to the authorize endpoint", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("LoginRedirect", mock.Anything).Return(redirectStart(), nil)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, redirectStart().URL, rec.Header().Get("Location"))
		assert.Empty(t, rec.Result().Cookies(), "modern browsers keep state server side")
	})

	t.Run("legacy browser gets a state cookie", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("LoginRedirect", mock.Anything).Return(redirectStart(), nil)
		h := NewHandler(sh, testEnv, logger)

		req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
		req.Header.Set("User-Agent", ieUserAgent)
		rec := httptest.NewRecorder()
		h.HandleLogin(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, StateCookieName, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

		// the cookie round-trips into the redirect response
		back := httptest.NewRequest(http.MethodGet, "/products?code=c&state=s1", nil)
		back.AddCookie(cookies[0])
		pending, ok := readStateCookie(back)
		require.True(t, ok)
		assert.Equal(t, "s1", pending.State)
		assert.Equal(t, "verifier", pending.CodeVerifier)
	})

	t.Run("failure is reported", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("LoginRedirect", mock.Anything).Return(nil, identity.ErrConfiguration)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRedirectResponse(t *testing.T) {
	logger := zap.NewNop()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("redeems the code and cleans the url", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("HandleRedirect", mock.Anything, identity.RedirectResponse{Code: "c", State: "s1"}).
			Return(&identity.AuthResult{Account: identity.Account{HomeAccountID: "a.t1", TenantID: "t1"}}, nil)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.RedirectResponse(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?code=c&state=s1", nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/products", rec.Header().Get("Location"))
		sh.AssertExpectations(t)
	})

	t.Run("cookie state is passed along and cleared", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("HandleRedirect", mock.Anything, mock.MatchedBy(func(resp identity.RedirectResponse) bool {
			return resp.Pending != nil && resp.Pending.State == "s1" && resp.Pending.CodeVerifier == "verifier"
		})).Return(&identity.AuthResult{}, nil)
		h := NewHandler(sh, testEnv, logger)

		login := httptest.NewRecorder()
		require.NoError(t, setStateCookie(login, httptest.NewRequest(http.MethodGet, "/auth/login", nil), redirectStart().Pending))

		req := httptest.NewRequest(http.MethodGet, "/products?code=c&state=s1", nil)
		req.AddCookie(login.Result().Cookies()[0])
		rec := httptest.NewRecorder()
		h.RedirectResponse(next).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		cleared := rec.Result().Cookies()
		require.Len(t, cleared, 1)
		assert.Equal(t, -1, cleared[0].MaxAge)
		sh.AssertExpectations(t)
	})

	t.Run("provider error goes to login route", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("HandleRedirect", mock.Anything, mock.Anything).Return(nil, identity.ErrServer)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.RedirectResponse(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?error=access_denied&state=s1", nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("ordinary requests pass through", func(t *testing.T) {
		sh := new(MockShell)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.RedirectResponse(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products?page=2", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		sh.AssertNotCalled(t, "HandleRedirect", mock.Anything, mock.Anything)
	})

	t.Run("redirect endpoint without a response goes home", func(t *testing.T) {
		sh := new(MockShell)
		h := NewHandler(sh, testEnv, logger)

		rec := httptest.NewRecorder()
		h.HandleRedirect(rec, httptest.NewRequest(http.MethodGet, "/auth/redirect", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/", rec.Header().Get("Location"))
	})
}

func TestHandleLoginPopup(t *testing.T) {
	sh := new(MockShell)
	sh.On("LoginPopup", mock.Anything).
		Return(&identity.AuthResult{Account: identity.Account{HomeAccountID: "bob.t2", Username: "bob@fabrikam.com"}}, nil).Once()
	sh.On("LoginPopup", mock.Anything).Return(nil, identity.ErrUserCancelled).Once()
	h := NewHandler(sh, testEnv, zap.NewNop())

	rec := httptest.NewRecorder()
	h.HandleLoginPopup(rec, httptest.NewRequest(http.MethodPost, "/auth/login/popup", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data AccountResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "bob.t2", body.Data.Account.HomeAccountID)

	rec = httptest.NewRecorder()
	h.HandleLoginPopup(rec, httptest.NewRequest(http.MethodPost, "/auth/login/popup", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleLogout(t *testing.T) {
	t.Run("redirect", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("Logout", mock.Anything, false).Return("https://login.microsoftonline.com/organizations/oauth2/v2.0/logout", nil)
		h := NewHandler(sh, testEnv, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleLogout(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "/oauth2/v2.0/logout")
	})

	t.Run("popup", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("Logout", mock.Anything, true).Return("/", nil)
		h := NewHandler(sh, testEnv, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleLogoutPopup(rec, httptest.NewRequest(http.MethodPost, "/auth/logout/popup", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "/", body.Data["redirect"])
	})

	t.Run("failure", func(t *testing.T) {
		sh := new(MockShell)
		sh.On("Logout", mock.Anything, true).Return("", identity.ErrConfiguration)
		h := NewHandler(sh, testEnv, zap.NewNop())

		rec := httptest.NewRecorder()
		h.HandleLogoutPopup(rec, httptest.NewRequest(http.MethodPost, "/auth/logout/popup", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
