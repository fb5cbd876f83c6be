// Package identitytest provides an in-memory identity.Client for tests.
package identitytest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/upb/entra-shell/identity"
	"go.uber.org/zap"
)

// FakeClient keeps accounts in memory and publishes the same events as the
// MSAL client. Interactive and token calls are mocked.
type FakeClient struct {
	mock.Mock

	mu              sync.Mutex
	accounts        []identity.Account
	active          *identity.Account
	storageEvents   int
	InitializeError error
	afterActiveRead func()

	bus *identity.EventBus
}

var _ identity.Client = (*FakeClient)(nil)

// NewFakeClient returns a client holding accounts, none of them active.
func NewFakeClient(accounts ...identity.Account) *FakeClient {
	return &FakeClient{
		accounts: append([]identity.Account(nil), accounts...),
		bus:      identity.NewEventBus(zap.NewNop()),
	}
}

// AddAccount caches an account and publishes AccountAdded.
func (f *FakeClient) AddAccount(a identity.Account) {
	f.mu.Lock()
	f.accounts = append(f.accounts, a)
	f.mu.Unlock()
	f.bus.Publish(identity.EventMessage{Type: identity.EventAccountAdded, Account: &a})
}

// RemoveAccount drops an account and publishes AccountRemoved.
func (f *FakeClient) RemoveAccount(homeAccountID string) {
	f.mu.Lock()
	var removed *identity.Account
	kept := f.accounts[:0]
	for _, a := range f.accounts {
		if a.HomeAccountID == homeAccountID {
			a := a
			removed = &a
			continue
		}
		kept = append(kept, a)
	}
	f.accounts = kept
	if f.active != nil && f.active.HomeAccountID == homeAccountID {
		f.active = nil
	}
	f.mu.Unlock()
	if removed != nil {
		f.bus.Publish(identity.EventMessage{Type: identity.EventAccountRemoved, Account: removed})
	}
}

// StorageEventsEnabled returns how many times EnableAccountStorageEvents was called.
func (f *FakeClient) StorageEventsEnabled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storageEvents
}

func (f *FakeClient) Initialize(ctx context.Context) error {
	if f.InitializeError != nil {
		return f.InitializeError
	}
	f.bus.SetStatus(identity.InteractionStatusNone)
	return nil
}

func (f *FakeClient) HandleRedirect(ctx context.Context, resp identity.RedirectResponse) (*identity.AuthResult, error) {
	args := f.Called(ctx, resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	res := args.Get(0).(*identity.AuthResult)
	f.AddAccount(res.Account)
	return res, nil
}

func (f *FakeClient) Accounts(ctx context.Context) ([]identity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.Account(nil), f.accounts...), nil
}

// SetAfterActiveRead installs fn to run after every ActiveAccount read,
// before the read value is returned.
func (f *FakeClient) SetAfterActiveRead(fn func()) {
	f.mu.Lock()
	f.afterActiveRead = fn
	f.mu.Unlock()
}

func (f *FakeClient) ActiveAccount() *identity.Account {
	f.mu.Lock()
	var out *identity.Account
	if f.active != nil {
		a := *f.active
		out = &a
	}
	hook := f.afterActiveRead
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out
}

func (f *FakeClient) SetActiveAccount(ctx context.Context, account *identity.Account) error {
	f.mu.Lock()
	if account == nil {
		f.active = nil
	} else {
		a := *account
		f.active = &a
	}
	f.mu.Unlock()
	f.bus.Publish(identity.EventMessage{Type: identity.EventActiveAccountChanged, Account: account})
	return nil
}

func (f *FakeClient) LoginRedirect(ctx context.Context, req identity.AuthRequest) (*identity.RedirectStart, error) {
	args := f.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.RedirectStart), args.Error(1)
}

func (f *FakeClient) LoginPopup(ctx context.Context, req identity.AuthRequest) (*identity.AuthResult, error) {
	args := f.Called(ctx, req)
	if args.Get(0) == nil {
		f.bus.Publish(identity.EventMessage{Type: identity.EventLoginFailure, InteractionType: identity.InteractionTypePopup, Error: args.Error(1)})
		return nil, args.Error(1)
	}
	res := args.Get(0).(*identity.AuthResult)
	f.bus.Publish(identity.EventMessage{Type: identity.EventLoginSuccess, InteractionType: identity.InteractionTypePopup, Account: &res.Account})
	f.AddAccount(res.Account)
	return res, nil
}

func (f *FakeClient) LogoutRedirect(ctx context.Context, req identity.LogoutRequest) (string, error) {
	args := f.Called(ctx, req)
	if args.Error(1) == nil {
		f.removeFor(req)
	}
	return args.String(0), args.Error(1)
}

func (f *FakeClient) LogoutPopup(ctx context.Context, req identity.LogoutRequest) (string, error) {
	args := f.Called(ctx, req)
	if args.Error(1) == nil {
		f.removeFor(req)
	}
	return args.String(0), args.Error(1)
}

func (f *FakeClient) AcquireTokenSilent(ctx context.Context, req identity.AuthRequest) (*identity.AuthResult, error) {
	args := f.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.AuthResult), args.Error(1)
}

func (f *FakeClient) EnableAccountStorageEvents(ctx context.Context) {
	f.mu.Lock()
	f.storageEvents++
	f.mu.Unlock()
}

func (f *FakeClient) InteractionStatus() identity.InteractionStatus {
	return f.bus.Status()
}

func (f *FakeClient) Events() *identity.EventBus {
	return f.bus
}

func (f *FakeClient) removeFor(req identity.LogoutRequest) {
	if req.Account != nil {
		f.RemoveAccount(req.Account.HomeAccountID)
		return
	}
	accounts, _ := f.Accounts(context.Background())
	for _, a := range accounts {
		f.RemoveAccount(a.HomeAccountID)
	}
}
