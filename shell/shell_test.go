package shell

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/identity"
	"github.com/upb/entra-shell/identity/identitytest"
	"go.uber.org/zap"
)

var (
	alice = identity.Account{HomeAccountID: "alice.t1", TenantID: "t1", Username: "alice@contoso.com"}
	bob   = identity.Account{HomeAccountID: "bob.t2", TenantID: "t2", Username: "bob@fabrikam.com"}
)

const waitFor = time.Second

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) FullNavigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

func newTestShell(t *testing.T, client *identitytest.FakeClient) (*Shell, *recordingNavigator) {
	t.Helper()
	nav := &recordingNavigator{}
	s := New(client, nav, Options{
		Guard:                 authconfig.BuildGuardConfig(),
		RedirectURI:           "http://127.0.0.1:4200/products",
		PostLogoutRedirectURI: "/discover",
		AccountStorageEvents:  true,
	}, zap.NewNop())
	t.Cleanup(func() { s.Close() })
	return s, nav
}

func startShell(t *testing.T, s *Shell) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	select {
	case <-s.Ready():
	case <-time.After(waitFor):
		t.Fatal("shell never became ready")
	}
}

func TestComputeLoginDisplay(t *testing.T) {
	assert.False(t, ComputeLoginDisplay(nil))
	assert.False(t, ComputeLoginDisplay([]identity.Account{}))
	assert.True(t, ComputeLoginDisplay([]identity.Account{alice}))
	assert.True(t, ComputeLoginDisplay([]identity.Account{alice, bob}))
}

func TestReconcileActiveAccount(t *testing.T) {
	t.Run("promotes the first account", func(t *testing.T) {
		pick := ReconcileActiveAccount(nil, []identity.Account{alice, bob})
		require.NotNil(t, pick)
		assert.Equal(t, alice, *pick)
	})

	t.Run("is idempotent", func(t *testing.T) {
		pick := ReconcileActiveAccount(nil, []identity.Account{alice, bob})
		assert.Nil(t, ReconcileActiveAccount(pick, []identity.Account{alice, bob}))
	})

	t.Run("keeps an existing active account", func(t *testing.T) {
		assert.Nil(t, ReconcileActiveAccount(&bob, []identity.Account{alice, bob}))
	})

	t.Run("no accounts", func(t *testing.T) {
		assert.Nil(t, ReconcileActiveAccount(nil, nil))
	})
}

func TestStartReconcilesActiveAccount(t *testing.T) {
	client := identitytest.NewFakeClient(alice, bob)
	s, _ := newTestShell(t, client)

	assert.Equal(t, PresenceUnknown, s.State().Presence)
	startShell(t, s)

	st := s.State()
	assert.True(t, st.LoginDisplay)
	assert.Equal(t, PresenceAuthenticated, st.Presence)
	require.NotNil(t, st.ActiveAccount)
	assert.Equal(t, "alice.t1", st.ActiveAccount.HomeAccountID)
	assert.Equal(t, identity.InteractionStatusNone, st.InteractionStatus)
	assert.Equal(t, 1, client.StorageEventsEnabled())

	// a later idle status keeps alice
	client.Events().SetStatus(identity.InteractionStatusLogin)
	client.Events().SetStatus(identity.InteractionStatusNone)
	assert.Never(t, func() bool {
		a := client.ActiveAccount()
		return a == nil || a.HomeAccountID != "alice.t1"
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStartWithoutAccounts(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, nav := newTestShell(t, client)
	startShell(t, s)

	st := s.State()
	assert.False(t, st.LoginDisplay)
	assert.Equal(t, PresenceUnauthenticated, st.Presence)
	assert.Nil(t, st.ActiveAccount)
	assert.Empty(t, nav.Paths())
}

func TestStartTwice(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, _ := newTestShell(t, client)
	startShell(t, s)
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartInitializeFailure(t *testing.T) {
	client := identitytest.NewFakeClient()
	client.InitializeError = errors.New("cache unreadable")
	s, _ := newTestShell(t, client)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing identity client")
}

func TestAccountRemovalNavigatesHomeOncePerTransition(t *testing.T) {
	client := identitytest.NewFakeClient(alice)
	s, nav := newTestShell(t, client)
	startShell(t, s)

	client.RemoveAccount("alice.t1")
	require.Eventually(t, func() bool { return len(nav.Paths()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"/"}, nav.Paths())

	st := s.State()
	assert.False(t, st.LoginDisplay)
	assert.Equal(t, PresenceUnauthenticated, st.Presence)

	// a second removal event while already at zero accounts
	client.Events().Publish(identity.EventMessage{Type: identity.EventAccountRemoved, Account: &alice})
	// accounts reappear; events are handled in order so the removal above is done
	client.AddAccount(bob)
	require.Eventually(t, func() bool { return s.State().LoginDisplay }, waitFor, 5*time.Millisecond)
	assert.Len(t, nav.Paths(), 1)

	// the latch resets after accounts reappear
	client.RemoveAccount("bob.t2")
	require.Eventually(t, func() bool { return len(nav.Paths()) == 2 }, waitFor, 5*time.Millisecond)
}

func TestAccountAddedShowsLogin(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, _ := newTestShell(t, client)
	startShell(t, s)

	client.AddAccount(alice)
	require.Eventually(t, func() bool { return s.State().LoginDisplay }, waitFor, 5*time.Millisecond)
	assert.Equal(t, PresenceAuthenticated, s.State().Presence)
}

func TestLoginPopupSetsActiveAccountImmediately(t *testing.T) {
	client := identitytest.NewFakeClient(alice)
	s, _ := newTestShell(t, client)
	startShell(t, s)

	client.On("LoginPopup", mock.Anything, mock.MatchedBy(func(req identity.AuthRequest) bool {
		return assert.ObjectsAreEqual([]string{"user.read", "organization.read.all"}, req.Scopes)
	})).Return(&identity.AuthResult{Account: bob, AccessToken: "tok"}, nil).Once()

	res, err := s.LoginPopup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob.t2", res.Account.HomeAccountID)

	active := client.ActiveAccount()
	require.NotNil(t, active)
	assert.Equal(t, "bob.t2", active.HomeAccountID)
	require.NotNil(t, s.State().ActiveAccount)
	assert.Equal(t, "bob.t2", s.State().ActiveAccount.HomeAccountID)
	client.AssertExpectations(t)
}

func TestLoginPopupWinsOverConcurrentReconciliation(t *testing.T) {
	ctx := context.Background()
	client := identitytest.NewFakeClient(alice)
	s, _ := newTestShell(t, client)
	startShell(t, s)

	require.NoError(t, client.SetActiveAccount(ctx, nil))
	require.Eventually(t, func() bool { return s.State().ActiveAccount == nil }, waitFor, 5*time.Millisecond)

	// reconciliation reads the active account slowly, so the popup result
	// arrives between its read and its promotion
	client.SetAfterActiveRead(func() { time.Sleep(50 * time.Millisecond) })
	client.On("LoginPopup", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			client.Events().SetStatus(identity.InteractionStatusLogin)
			client.Events().SetStatus(identity.InteractionStatusNone)
		}).
		Return(&identity.AuthResult{Account: bob}, nil).Once()

	_, err := s.LoginPopup(ctx)
	require.NoError(t, err)

	assert.Never(t, func() bool {
		active := client.ActiveAccount()
		return active == nil || active.HomeAccountID != "bob.t2"
	}, 300*time.Millisecond, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		st := s.State()
		return st.ActiveAccount != nil && st.ActiveAccount.HomeAccountID == "bob.t2"
	}, waitFor, 10*time.Millisecond)
}

func TestLoginPopupFailureSurfacesError(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, _ := newTestShell(t, client)
	startShell(t, s)

	client.On("LoginPopup", mock.Anything, mock.Anything).Return(nil, identity.ErrUserCancelled).Once()

	_, err := s.LoginPopup(context.Background())
	require.ErrorIs(t, err, identity.ErrUserCancelled)
	assert.Nil(t, client.ActiveAccount())
	assert.Contains(t, s.State().LastError, "user_cancelled")
}

func TestDismissError(t *testing.T) {
	s, _ := newTestShell(t, identitytest.NewFakeClient())
	s.setError(errors.New("consent revoked"))
	assert.Equal(t, "consent revoked", s.State().LastError)

	s.DismissError()
	assert.Empty(t, s.State().LastError)
}

func TestLoginRedirectMergesGuardRequest(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, _ := newTestShell(t, client)
	startShell(t, s)

	start := &identity.RedirectStart{URL: "https://login.microsoftonline.com/organizations/oauth2/v2.0/authorize?state=s1"}
	client.On("LoginRedirect", mock.Anything, mock.MatchedBy(func(req identity.AuthRequest) bool {
		return req.RedirectURI == "http://127.0.0.1:4200/products" && len(req.Scopes) == 2
	})).Return(start, nil).Once()

	got, err := s.LoginRedirect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start.URL, got.URL)
	assert.Empty(t, s.opts.Guard.AuthRequest.RedirectURI, "guard request must not be modified")

	client.On("LoginRedirect", mock.Anything, mock.Anything).Return(nil, identity.ErrConfiguration).Once()
	_, err = s.LoginRedirect(context.Background())
	assert.ErrorIs(t, err, identity.ErrConfiguration)
	assert.NotEmpty(t, s.State().LastError)
}

func TestHandleRedirect(t *testing.T) {
	client := identitytest.NewFakeClient()
	s, _ := newTestShell(t, client)
	startShell(t, s)

	resp := identity.RedirectResponse{Code: "c", State: "s"}
	client.On("HandleRedirect", mock.Anything, resp).Return(&identity.AuthResult{Account: alice}, nil).Once()

	res, err := s.HandleRedirect(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, alice, res.Account)
	require.Eventually(t, func() bool { return s.State().LoginDisplay }, waitFor, 5*time.Millisecond)

	bad := identity.RedirectResponse{Code: "c", State: "unknown"}
	client.On("HandleRedirect", mock.Anything, bad).Return(nil, identity.ErrInvalidState).Once()
	_, err = s.HandleRedirect(context.Background(), bad)
	assert.ErrorIs(t, err, identity.ErrInvalidState)
}

func TestLogout(t *testing.T) {
	t.Run("redirect", func(t *testing.T) {
		client := identitytest.NewFakeClient(alice)
		s, nav := newTestShell(t, client)
		startShell(t, s)

		client.On("LogoutRedirect", mock.Anything, identity.LogoutRequest{PostLogoutRedirectURI: "/discover"}).
			Return("https://login.microsoftonline.com/organizations/oauth2/v2.0/logout", nil).Once()

		next, err := s.Logout(context.Background(), false)
		require.NoError(t, err)
		assert.Contains(t, next, "/oauth2/v2.0/logout")
		require.Eventually(t, func() bool { return len(nav.Paths()) == 1 }, waitFor, 5*time.Millisecond)
	})

	t.Run("popup returns to root", func(t *testing.T) {
		client := identitytest.NewFakeClient(alice)
		s, _ := newTestShell(t, client)
		startShell(t, s)

		client.On("LogoutPopup", mock.Anything, identity.LogoutRequest{PostLogoutRedirectURI: "/discover", MainWindowRedirectURI: "/"}).
			Return("/", nil).Once()

		next, err := s.Logout(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, "/", next)
		require.Eventually(t, func() bool { return !s.State().LoginDisplay }, waitFor, 5*time.Millisecond)
	})

	t.Run("failure is surfaced", func(t *testing.T) {
		client := identitytest.NewFakeClient(alice)
		s, _ := newTestShell(t, client)
		startShell(t, s)

		client.On("LogoutRedirect", mock.Anything, mock.Anything).Return("", identity.ErrServer).Once()
		_, err := s.Logout(context.Background(), false)
		assert.ErrorIs(t, err, identity.ErrServer)
		assert.NotEmpty(t, s.State().LastError)
	})
}

func TestFailureEventSetsLastError(t *testing.T) {
	client := identitytest.NewFakeClient(alice)
	s, _ := newTestShell(t, client)
	startShell(t, s)

	client.Events().Publish(identity.EventMessage{Type: identity.EventAcquireTokenFailure, Error: identity.ErrInteractionRequired})
	require.Eventually(t, func() bool { return s.State().LastError != "" }, waitFor, 5*time.Millisecond)

	client.Events().Publish(identity.EventMessage{Type: identity.EventLoginSuccess, Account: &alice})
	require.Eventually(t, func() bool { return s.State().LastError == "" }, waitFor, 5*time.Millisecond)
}

func TestSetViewport(t *testing.T) {
	s, _ := newTestShell(t, identitytest.NewFakeClient())

	s.SetViewport(375)
	assert.True(t, s.State().IsHandset)
	s.SetViewport(599)
	assert.True(t, s.State().IsHandset)
	s.SetViewport(600)
	assert.False(t, s.State().IsHandset)
	s.SetViewport(1280)
	assert.False(t, s.State().IsHandset)
}

func TestCloseTwice(t *testing.T) {
	client := identitytest.NewFakeClient(alice)
	s, _ := newTestShell(t, client)
	startShell(t, s)
	require.Equal(t, 2, client.Events().SubscriberCount())

	assert.NotPanics(t, func() {
		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
	})
	assert.Equal(t, 0, client.Events().SubscriberCount())

	// events after close are ignored
	assert.NotPanics(t, func() {
		client.RemoveAccount("alice.t1")
		client.Events().SetStatus(identity.InteractionStatusLogout)
	})
}

func TestCloseWithoutStart(t *testing.T) {
	s, _ := newTestShell(t, identitytest.NewFakeClient())
	assert.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
}

func TestStartAfterClose(t *testing.T) {
	client := identitytest.NewFakeClient(alice)
	s, _ := newTestShell(t, client)

	require.NoError(t, s.Close())
	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, client.Events().SubscriberCount())
	assert.Equal(t, 0, client.StorageEventsEnabled())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, client.Events().SubscriberCount())
}
