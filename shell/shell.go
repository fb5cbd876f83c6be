// Package shell is the root of the application: it tracks whether anyone is
// signed in, keeps an active account selected, and drives the login and
// logout flows started from the navigation bar.
package shell

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/identity"
	"go.uber.org/zap"
)

// HandsetMaxWidth is the first viewport width, in CSS pixels, that is no longer a handset.
const HandsetMaxWidth = 600

const rootPath = "/"

// Presence is the shell's view of whether a user is signed in.
type Presence string

const (
	PresenceUnknown         Presence = "unknown"
	PresenceAuthenticated   Presence = "authenticated"
	PresenceUnauthenticated Presence = "unauthenticated"
)

// Navigator performs a full page navigation, discarding in-memory view state.
type Navigator interface {
	FullNavigate(path string)
}

// DisplayState is what the navigation bar renders.
type DisplayState struct {
	LoginDisplay      bool                       `json:"loginDisplay"`
	IsHandset         bool                       `json:"isHandset"`
	Presence          Presence                   `json:"presence"`
	ActiveAccount     *identity.Account          `json:"activeAccount,omitempty"`
	InteractionStatus identity.InteractionStatus `json:"interactionStatus"`
	LastError         string                     `json:"lastError,omitempty"`
}

// Options configures a Shell.
type Options struct {
	Guard authconfig.GuardConfig
	// RedirectURI is the absolute URI the identity provider returns to after a redirect login.
	RedirectURI           string
	PostLogoutRedirectURI string
	AccountStorageEvents  bool
}

// Shell reconciles identity events into display state. Events are handled one
// at a time on a single goroutine.
type Shell struct {
	client identity.Client
	nav    Navigator
	opts   Options
	logger *zap.Logger

	mu            sync.RWMutex
	state         DisplayState
	navigatedHome bool
	closed        bool

	// activeMu makes reading and replacing the active account one step, so a
	// reconciliation cannot promote a stale pick over a popup's account.
	activeMu sync.Mutex

	events   *identity.Subscription[identity.EventMessage]
	statuses *identity.Subscription[identity.InteractionStatus]

	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a shell. Nothing happens until Start.
func New(client identity.Client, nav Navigator, opts Options, logger *zap.Logger) *Shell {
	return &Shell{
		client: client,
		nav:    nav,
		opts:   opts,
		logger: logger,
		state:  DisplayState{Presence: PresenceUnknown},
		ready:  make(chan struct{}),
	}
}

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("shell already started")
	// ErrClosed is returned by Start once Close has run.
	ErrClosed = errors.New("shell closed")
)

// Start initializes the identity client and begins reconciling its events.
func (s *Shell) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *Shell) start(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.client.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing identity client: %w", err)
	}

	bus := s.client.Events()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	events := bus.Subscribe(shellEvents)
	statuses := bus.SubscribeStatus()
	s.events, s.statuses = events, statuses
	s.wg.Add(1)
	s.mu.Unlock()

	if s.opts.AccountStorageEvents {
		s.client.EnableAccountStorageEvents(runCtx)
	}
	s.setLoginDisplay(runCtx)

	go s.run(runCtx, events, statuses)

	s.logger.Info("shell started", zap.Bool("account_storage_events", s.opts.AccountStorageEvents))
	return nil
}

func shellEvents(msg identity.EventMessage) bool {
	switch msg.Type {
	case identity.EventActiveAccountChanged, identity.EventLoginSuccess, identity.EventLogoutSuccess:
		return true
	}
	return identity.AccountChanged(msg) || identity.Failure(msg)
}

func (s *Shell) run(ctx context.Context, events *identity.Subscription[identity.EventMessage], statuses *identity.Subscription[identity.InteractionStatus]) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events.C():
			if !ok {
				return
			}
			s.handleEvent(ctx, msg)
		case status, ok := <-statuses.C():
			if !ok {
				return
			}
			if status == identity.InteractionStatusNone {
				s.setLoginDisplay(ctx)
				s.checkAndSetActiveAccount(ctx)
				s.readyOnce.Do(func() { close(s.ready) })
			}
		}
	}
}

func (s *Shell) handleEvent(ctx context.Context, msg identity.EventMessage) {
	switch {
	case identity.AccountChanged(msg):
		accounts, err := s.client.Accounts(ctx)
		if err != nil {
			s.setError(err)
			return
		}
		if len(accounts) == 0 {
			s.signedOut()
			return
		}
		s.setLoginDisplay(ctx)
	case identity.Failure(msg):
		if msg.Error != nil {
			s.setError(msg.Error)
		}
	case msg.Type == identity.EventLoginSuccess || msg.Type == identity.EventLogoutSuccess:
		s.clearError()
	case msg.Type == identity.EventActiveAccountChanged:
		s.mu.Lock()
		s.state.ActiveAccount = s.client.ActiveAccount()
		s.mu.Unlock()
	}
}

// signedOut handles the last account leaving the cache. The full navigation
// home happens once per transition to zero accounts.
func (s *Shell) signedOut() {
	s.mu.Lock()
	s.state.LoginDisplay = false
	s.state.Presence = PresenceUnauthenticated
	s.state.ActiveAccount = nil
	navigate := !s.navigatedHome
	s.navigatedHome = true
	s.mu.Unlock()

	if navigate {
		s.logger.Info("no accounts left, navigating home")
		s.nav.FullNavigate(rootPath)
	}
}

func (s *Shell) setLoginDisplay(ctx context.Context) {
	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		s.setError(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LoginDisplay = ComputeLoginDisplay(accounts)
	if s.state.LoginDisplay {
		s.state.Presence = PresenceAuthenticated
		s.navigatedHome = false
	} else {
		s.state.Presence = PresenceUnauthenticated
	}
}

func (s *Shell) checkAndSetActiveAccount(ctx context.Context) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	accounts, err := s.client.Accounts(ctx)
	if err != nil {
		s.setError(err)
		return
	}
	if pick := ReconcileActiveAccount(s.client.ActiveAccount(), accounts); pick != nil {
		if err := s.client.SetActiveAccount(ctx, pick); err != nil {
			s.setError(err)
			return
		}
	}

	s.mu.Lock()
	s.state.ActiveAccount = s.client.ActiveAccount()
	s.mu.Unlock()
}

// ComputeLoginDisplay reports whether the signed-in controls are shown.
func ComputeLoginDisplay(accounts []identity.Account) bool {
	return len(accounts) > 0
}

// ReconcileActiveAccount returns the account to make active, or nil when the
// active account should stay as it is. With no active account the first
// cached account is promoted.
func ReconcileActiveAccount(active *identity.Account, accounts []identity.Account) *identity.Account {
	if active != nil || len(accounts) == 0 {
		return nil
	}
	pick := accounts[0]
	return &pick
}

// LoginRedirect starts a redirect login with the guard's default request.
func (s *Shell) LoginRedirect(ctx context.Context) (*identity.RedirectStart, error) {
	req := s.opts.Guard.Request()
	req.RedirectURI = s.opts.RedirectURI

	start, err := s.client.LoginRedirect(ctx, req)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	return start, nil
}

// HandleRedirect completes a redirect login. An empty response is a no-op.
func (s *Shell) HandleRedirect(ctx context.Context, resp identity.RedirectResponse) (*identity.AuthResult, error) {
	res, err := s.client.HandleRedirect(ctx, resp)
	if err != nil {
		s.setError(err)
		return nil, err
	}
	return res, nil
}

// LoginPopup signs in through the system browser. The signed-in account
// becomes active as soon as the popup succeeds.
func (s *Shell) LoginPopup(ctx context.Context) (*identity.AuthResult, error) {
	res, err := s.client.LoginPopup(ctx, s.opts.Guard.Request())
	if err != nil {
		s.setError(err)
		return nil, err
	}

	account := res.Account
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if err := s.client.SetActiveAccount(ctx, &account); err != nil {
		s.setError(err)
		return nil, err
	}

	s.mu.Lock()
	s.state.ActiveAccount = &account
	s.state.LastError = ""
	s.mu.Unlock()
	return res, nil
}

// Logout signs out every cached account and returns where the main window goes next.
func (s *Shell) Logout(ctx context.Context, popup bool) (string, error) {
	var (
		next string
		err  error
	)
	if popup {
		next, err = s.client.LogoutPopup(ctx, identity.LogoutRequest{
			PostLogoutRedirectURI: s.opts.PostLogoutRedirectURI,
			MainWindowRedirectURI: rootPath,
		})
	} else {
		next, err = s.client.LogoutRedirect(ctx, identity.LogoutRequest{
			PostLogoutRedirectURI: s.opts.PostLogoutRedirectURI,
		})
	}
	if err != nil {
		s.setError(err)
		return "", err
	}
	return next, nil
}

// SetViewport records the browser's viewport width.
func (s *Shell) SetViewport(width int) {
	s.mu.Lock()
	s.state.IsHandset = width < HandsetMaxWidth
	s.mu.Unlock()
}

// State returns a snapshot of the display state.
func (s *Shell) State() DisplayState {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	if st.ActiveAccount != nil {
		a := *st.ActiveAccount
		st.ActiveAccount = &a
	}
	st.InteractionStatus = s.client.InteractionStatus()
	return st
}

// Ready is closed once the first reconciliation has run.
func (s *Shell) Ready() <-chan struct{} {
	return s.ready
}

// DismissError clears the error banner.
func (s *Shell) DismissError() {
	s.clearError()
}

// Close stops event processing and releases every subscription. Calling it
// more than once is a no-op, and Start fails with ErrClosed afterwards.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, events, statuses := s.cancel, s.events, s.statuses
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if events != nil {
			events.Unsubscribe()
		}
		if statuses != nil {
			statuses.Unsubscribe()
		}
		s.wg.Wait()
		s.logger.Info("shell closed")
	})
	return nil
}

func (s *Shell) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Shell) setError(err error) {
	s.logger.Warn("identity operation failed", zap.Error(err))
	s.mu.Lock()
	s.state.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Shell) clearError() {
	s.mu.Lock()
	s.state.LastError = ""
	s.mu.Unlock()
}
