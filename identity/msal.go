package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.uber.org/zap"
)

const (
	activeAccountKey   = "active_account"
	pendingRedirectTTL = 10 * time.Minute
)

// publicClient is the subset of public.Client the adapter drives.
type publicClient interface {
	Accounts(ctx context.Context) ([]public.Account, error)
	RemoveAccount(ctx context.Context, account public.Account) error
	AcquireTokenSilent(ctx context.Context, scopes []string, opts ...public.AcquireSilentOption) (public.AuthResult, error)
	AcquireTokenInteractive(ctx context.Context, scopes []string, opts ...public.AcquireInteractiveOption) (public.AuthResult, error)
	AuthCodeURL(ctx context.Context, clientID, redirectURI string, scopes []string, opts ...public.AuthCodeURLOption) (string, error)
	AcquireTokenByAuthCode(ctx context.Context, code string, redirectURI string, scopes []string, opts ...public.AcquireByAuthCodeOption) (public.AuthResult, error)
}

// StateStore persists small pieces of shell state next to the token cache.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// Options configures an MSALClient.
type Options struct {
	ClientID              string
	AuthorityHost         string
	DefaultTenant         string
	PopupRedirectURI      string
	PostLogoutRedirectURI string
	PollInterval          time.Duration
	PiiLogging            bool
	// OpenURL opens interactive pages in the system browser. Defaults to browser.OpenURL.
	OpenURL func(url string) error
	State   StateStore
}

// MSALClient adapts the MSAL Go public client to Client. MSAL Go has no event
// bus or active-account notion, so both live here.
type MSALClient struct {
	pca    publicClient
	opts   Options
	bus    *EventBus
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	active  *Account
	known   []Account
	pending map[string]PendingRedirect

	initOnce sync.Once
	initErr  error
	pollOnce sync.Once
}

// New creates an MSALClient. A nil accessor keeps the token cache in memory.
func New(opts Options, accessor cache.ExportReplace, logger *zap.Logger) (*MSALClient, error) {
	popts := []public.Option{public.WithAuthority(Authority(opts.AuthorityHost, opts.DefaultTenant))}
	if accessor != nil {
		popts = append(popts, public.WithCache(accessor))
	}
	pca, err := public.New(opts.ClientID, popts...)
	if err != nil {
		return nil, fmt.Errorf("creating public client application: %w", err)
	}
	return newMSALClient(pca, opts, logger), nil
}

func newMSALClient(pca publicClient, opts Options, logger *zap.Logger) *MSALClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.OpenURL == nil {
		opts.OpenURL = browser.OpenURL
	}
	return &MSALClient{
		pca:     pca,
		opts:    opts,
		bus:     NewEventBus(logger),
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]PendingRedirect),
	}
}

// Authority joins an authority host and a tenant.
func Authority(host, tenant string) string {
	return strings.TrimSuffix(host, "/") + "/" + tenant
}

// TenantFromAuthority returns the tenant segment of an authority URL.
func TenantFromAuthority(authority string) string {
	u, err := url.Parse(authority)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[0]
}

// Events returns the broadcast bus.
func (c *MSALClient) Events() *EventBus {
	return c.bus
}

// InteractionStatus returns the current interaction status.
func (c *MSALClient) InteractionStatus() InteractionStatus {
	return c.bus.Status()
}

// Initialize loads the cached accounts and restores the persisted active account.
// Only the first call does any work.
func (c *MSALClient) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		defer c.bus.SetStatus(InteractionStatusNone)

		accounts, err := c.Accounts(ctx)
		if err != nil {
			c.initErr = err
			return
		}
		c.mu.Lock()
		c.known = accounts
		c.mu.Unlock()

		if c.opts.State == nil {
			return
		}
		id, ok, err := c.opts.State.GetState(ctx, activeAccountKey)
		if err != nil {
			c.logger.Warn("failed to restore active account", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		for _, a := range accounts {
			if a.HomeAccountID == id {
				acct := a
				c.mu.Lock()
				c.active = &acct
				c.mu.Unlock()
				return
			}
		}
		if err := c.opts.State.DeleteState(ctx, activeAccountKey); err != nil {
			c.logger.Warn("failed to clear stale active account", zap.Error(err))
		}
	})
	return c.initErr
}

// Accounts lists cached accounts in the order the library returns them.
func (c *MSALClient) Accounts(ctx context.Context) ([]Account, error) {
	raw, err := c.pca.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	out := make([]Account, 0, len(raw))
	for _, a := range raw {
		out = append(out, fromMSALAccount(a))
	}
	return out, nil
}

// ActiveAccount returns a copy of the active account, or nil.
func (c *MSALClient) ActiveAccount() *Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	acct := *c.active
	return &acct
}

// SetActiveAccount designates account as active. nil clears it.
func (c *MSALClient) SetActiveAccount(ctx context.Context, account *Account) error {
	c.mu.Lock()
	if account == nil {
		c.active = nil
	} else {
		acct := *account
		c.active = &acct
	}
	c.mu.Unlock()

	if c.opts.State != nil {
		var err error
		if account == nil {
			err = c.opts.State.DeleteState(ctx, activeAccountKey)
		} else {
			err = c.opts.State.SetState(ctx, activeAccountKey, account.HomeAccountID)
		}
		if err != nil {
			return fmt.Errorf("persisting active account: %w", err)
		}
	}

	c.bus.Publish(EventMessage{Type: EventActiveAccountChanged, Account: account})
	return nil
}

// LoginRedirect builds the authorize URL for a redirect login and remembers the
// pending request until its response comes back.
func (c *MSALClient) LoginRedirect(ctx context.Context, req AuthRequest) (*RedirectStart, error) {
	if req.RedirectURI == "" {
		return nil, NewAuthError(ErrorTypeConfiguration, "redirect URI is required", nil)
	}
	c.bus.SetStatus(InteractionStatusLogin)
	defer c.bus.SetStatus(InteractionStatusNone)

	var opts []public.AuthCodeURLOption
	if req.LoginHint != "" {
		opts = append(opts, public.WithLoginHint(req.LoginHint))
	}
	if tenant := c.tenantOverride(req.Authority); tenant != "" {
		opts = append(opts, public.WithTenantID(tenant))
	}
	authURL, err := c.pca.AuthCodeURL(ctx, c.opts.ClientID, req.RedirectURI, req.Scopes, opts...)
	if err != nil {
		aerr := NewAuthError(ErrorTypeConfiguration, "building authorize URL", err)
		c.publishFailure(EventLoginFailure, InteractionTypeRedirect, aerr)
		return nil, aerr
	}

	verifier, challenge, err := newPKCE()
	if err != nil {
		return nil, fmt.Errorf("generating PKCE verifier: %w", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("parsing authorize URL: %w", err)
	}

	state := uuid.NewString()
	q := u.Query()
	for k, v := range req.ExtraQueryParameters {
		q.Set(k, v)
	}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	if req.CorrelationID != "" {
		q.Set("client-request-id", req.CorrelationID)
	}
	u.RawQuery = q.Encode()

	pending := PendingRedirect{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
		Scopes:       append([]string(nil), req.Scopes...),
		CreatedAt:    c.now(),
	}
	c.mu.Lock()
	c.prunePendingLocked()
	c.pending[state] = pending
	c.mu.Unlock()

	c.logger.Debug("redirect login started", zap.String("state", state))
	return &RedirectStart{URL: u.String(), Pending: pending}, nil
}

// HandleRedirect redeems a redirect response. An empty response is not an error:
// there was simply nothing pending.
func (c *MSALClient) HandleRedirect(ctx context.Context, resp RedirectResponse) (*AuthResult, error) {
	if resp.Empty() {
		return nil, nil
	}
	c.bus.SetStatus(InteractionStatusHandleRedirect)
	defer c.bus.SetStatus(InteractionStatusNone)
	defer c.bus.Publish(EventMessage{Type: EventHandleRedirectEnd, InteractionType: InteractionTypeRedirect})

	pending, ok := c.takePending(resp.State)
	if !ok && resp.Pending != nil && resp.Pending.State == resp.State && resp.State != "" {
		pending, ok = *resp.Pending, true
	}
	if !ok {
		aerr := NewAuthError(ErrorTypeInvalidState, "no pending login for redirect state", nil)
		c.publishFailure(EventLoginFailure, InteractionTypeRedirect, aerr)
		return nil, aerr
	}
	if resp.Error != "" {
		aerr := NewAuthError(ErrorTypeServer, strings.TrimSpace(resp.Error+" "+resp.ErrorDescription), nil)
		c.publishFailure(EventLoginFailure, InteractionTypeRedirect, aerr)
		return nil, aerr
	}

	res, err := c.pca.AcquireTokenByAuthCode(ctx, resp.Code, pending.RedirectURI, pending.Scopes,
		public.WithChallenge(pending.CodeVerifier))
	if err != nil {
		aerr := classifyInteractive("redeeming authorization code", err)
		c.publishFailure(EventLoginFailure, InteractionTypeRedirect, aerr)
		return nil, aerr
	}

	result := toAuthResult(res)
	c.logger.Info("redirect login completed", c.accountField(result.Account))
	c.bus.Publish(EventMessage{Type: EventLoginSuccess, InteractionType: InteractionTypeRedirect, Account: &result.Account})
	c.refreshAccounts(ctx)
	return result, nil
}

// LoginPopup signs in through the system browser and returns once the user is done.
func (c *MSALClient) LoginPopup(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	c.bus.SetStatus(InteractionStatusLogin)
	defer c.bus.SetStatus(InteractionStatusNone)

	opts := []public.AcquireInteractiveOption{
		public.WithRedirectURI(c.opts.PopupRedirectURI),
		public.WithOpenURL(c.opts.OpenURL),
	}
	if req.LoginHint != "" {
		opts = append(opts, public.WithLoginHint(req.LoginHint))
	}
	if tenant := c.tenantOverride(req.Authority); tenant != "" {
		opts = append(opts, public.WithTenantID(tenant))
	}

	res, err := c.pca.AcquireTokenInteractive(ctx, req.Scopes, opts...)
	if err != nil {
		aerr := classifyInteractive("interactive login", err)
		c.publishFailure(EventLoginFailure, InteractionTypePopup, aerr)
		return nil, aerr
	}

	result := toAuthResult(res)
	c.logger.Info("popup login completed", c.accountField(result.Account))
	c.bus.Publish(EventMessage{Type: EventLoginSuccess, InteractionType: InteractionTypePopup, Account: &result.Account})
	c.refreshAccounts(ctx)
	return result, nil
}

// LogoutRedirect removes the signed-out accounts from the cache and returns the
// end-session URL the main window must navigate to.
func (c *MSALClient) LogoutRedirect(ctx context.Context, req LogoutRequest) (string, error) {
	c.bus.SetStatus(InteractionStatusLogout)
	defer c.bus.SetStatus(InteractionStatusNone)

	if err := c.removeAccounts(ctx, req.Account); err != nil {
		c.publishFailure(EventLogoutFailure, InteractionTypeRedirect, err)
		return "", err
	}
	c.bus.Publish(EventMessage{Type: EventLogoutSuccess, InteractionType: InteractionTypeRedirect, Account: req.Account})
	c.refreshAccounts(ctx)
	return c.endSessionURL(req), nil
}

// LogoutPopup removes the accounts, opens the end-session page in the system
// browser and returns where the main window must go afterwards.
func (c *MSALClient) LogoutPopup(ctx context.Context, req LogoutRequest) (string, error) {
	if req.MainWindowRedirectURI == "" {
		return "", NewAuthError(ErrorTypeConfiguration, "popup logout requires a main window redirect URI", nil)
	}
	c.bus.SetStatus(InteractionStatusLogout)
	defer c.bus.SetStatus(InteractionStatusNone)

	if err := c.removeAccounts(ctx, req.Account); err != nil {
		c.publishFailure(EventLogoutFailure, InteractionTypePopup, err)
		return "", err
	}
	if err := c.opts.OpenURL(c.endSessionURL(req)); err != nil {
		c.logger.Warn("failed to open end-session page", zap.Error(err))
	}
	c.bus.Publish(EventMessage{Type: EventLogoutSuccess, InteractionType: InteractionTypePopup, Account: req.Account})
	c.refreshAccounts(ctx)
	return req.MainWindowRedirectURI, nil
}

// AcquireTokenSilent returns a cached or refreshed token for the request's
// account, falling back to the active account.
func (c *MSALClient) AcquireTokenSilent(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	acct := req.Account
	if acct == nil {
		acct = c.ActiveAccount()
	}
	if acct == nil {
		aerr := NewAuthError(ErrorTypeInteractionRequired, "no active account", nil)
		c.publishFailure(EventAcquireTokenFailure, InteractionTypeSilent, aerr)
		return nil, aerr
	}

	raw, ok, err := c.findAccount(ctx, acct.HomeAccountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		aerr := NewAuthError(ErrorTypeInteractionRequired, "account is not in the token cache", nil)
		c.publishFailure(EventAcquireTokenFailure, InteractionTypeSilent, aerr)
		return nil, aerr
	}

	opts := []public.AcquireSilentOption{public.WithSilentAccount(raw)}
	if tenant := c.tenantOverride(req.Authority); tenant != "" {
		opts = append(opts, public.WithTenantID(tenant))
	}
	res, err := c.pca.AcquireTokenSilent(ctx, req.Scopes, opts...)
	if err != nil {
		aerr := classifySilent("silent token acquisition", err)
		c.publishFailure(EventAcquireTokenFailure, InteractionTypeSilent, aerr)
		return nil, aerr
	}

	result := toAuthResult(res)
	c.bus.Publish(EventMessage{Type: EventAcquireTokenSuccess, InteractionType: InteractionTypeSilent, Account: &result.Account})
	return result, nil
}

// EnableAccountStorageEvents watches the shared token cache for accounts added
// or removed by other processes until ctx is done. Only the first call starts a watcher.
func (c *MSALClient) EnableAccountStorageEvents(ctx context.Context) {
	c.pollOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.opts.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.refreshAccounts(ctx)
				}
			}
		}()
	})
}

// refreshAccounts diffs the cached accounts against the last known list and
// publishes account added/removed events.
func (c *MSALClient) refreshAccounts(ctx context.Context) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		c.logger.Warn("failed to refresh accounts", zap.Error(err))
		return
	}

	current := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		current[a.HomeAccountID] = true
	}

	c.mu.Lock()
	previous := make(map[string]bool, len(c.known))
	for _, a := range c.known {
		previous[a.HomeAccountID] = true
	}
	var added, removed []Account
	for _, a := range accounts {
		if !previous[a.HomeAccountID] {
			added = append(added, a)
		}
	}
	for _, a := range c.known {
		if !current[a.HomeAccountID] {
			removed = append(removed, a)
		}
	}
	c.known = accounts
	activeGone := c.active != nil && !current[c.active.HomeAccountID]
	c.mu.Unlock()

	if activeGone {
		if err := c.SetActiveAccount(ctx, nil); err != nil {
			c.logger.Warn("failed to clear removed active account", zap.Error(err))
		}
	}
	for i := range added {
		c.bus.Publish(EventMessage{Type: EventAccountAdded, Account: &added[i]})
	}
	for i := range removed {
		c.bus.Publish(EventMessage{Type: EventAccountRemoved, Account: &removed[i]})
	}
}

func (c *MSALClient) removeAccounts(ctx context.Context, target *Account) error {
	raw, err := c.pca.Accounts(ctx)
	if err != nil {
		return NewAuthError(ErrorTypeServer, "listing accounts", err)
	}
	for _, a := range raw {
		if target != nil && a.HomeAccountID != target.HomeAccountID {
			continue
		}
		if err := c.pca.RemoveAccount(ctx, a); err != nil {
			return NewAuthError(ErrorTypeServer, "removing account", err)
		}
	}
	return nil
}

func (c *MSALClient) findAccount(ctx context.Context, homeAccountID string) (public.Account, bool, error) {
	raw, err := c.pca.Accounts(ctx)
	if err != nil {
		return public.Account{}, false, fmt.Errorf("listing accounts: %w", err)
	}
	for _, a := range raw {
		if a.HomeAccountID == homeAccountID {
			return a, true, nil
		}
	}
	return public.Account{}, false, nil
}

func (c *MSALClient) endSessionURL(req LogoutRequest) string {
	tenant := c.opts.DefaultTenant
	if req.Account != nil && req.Account.TenantID != "" {
		tenant = req.Account.TenantID
	}
	redirect := req.PostLogoutRedirectURI
	if redirect == "" {
		redirect = c.opts.PostLogoutRedirectURI
	}
	q := url.Values{}
	if redirect != "" {
		q.Set("post_logout_redirect_uri", redirect)
	}
	endpoint := Authority(c.opts.AuthorityHost, tenant) + "/oauth2/v2.0/logout"
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

// tenantOverride returns the tenant to request when authority differs from the
// client's default tenant.
func (c *MSALClient) tenantOverride(authority string) string {
	if authority == "" {
		return ""
	}
	tenant := TenantFromAuthority(authority)
	if tenant == "" || strings.EqualFold(tenant, c.opts.DefaultTenant) {
		return ""
	}
	return tenant
}

func (c *MSALClient) takePending(state string) (PendingRedirect, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[state]
	if ok {
		delete(c.pending, state)
	}
	if ok && c.now().Sub(p.CreatedAt) > pendingRedirectTTL {
		return PendingRedirect{}, false
	}
	return p, ok
}

func (c *MSALClient) prunePendingLocked() {
	for state, p := range c.pending {
		if c.now().Sub(p.CreatedAt) > pendingRedirectTTL {
			delete(c.pending, state)
		}
	}
}

func (c *MSALClient) publishFailure(event EventType, interaction InteractionType, err error) {
	c.logger.Warn("identity operation failed",
		zap.String("event", string(event)),
		zap.String("interaction", string(interaction)),
		zap.Error(err))
	c.bus.Publish(EventMessage{Type: event, InteractionType: interaction, Error: err})
}

// accountField logs the username only when PII logging is enabled.
func (c *MSALClient) accountField(a Account) zap.Field {
	if c.opts.PiiLogging {
		return zap.String("username", a.Username)
	}
	return zap.String("tenant_id", a.TenantID)
}

func fromMSALAccount(a public.Account) Account {
	return Account{
		HomeAccountID:  a.HomeAccountID,
		TenantID:       a.Realm,
		Username:       a.PreferredUsername,
		Name:           a.Name,
		Environment:    a.Environment,
		LocalAccountID: a.LocalAccountID,
	}
}

func toAuthResult(res public.AuthResult) *AuthResult {
	return &AuthResult{
		Account:     fromMSALAccount(res.Account),
		AccessToken: res.AccessToken,
		IDToken:     res.IDToken.RawToken,
		ExpiresOn:   res.ExpiresOn,
		Scopes:      res.GrantedScopes,
	}
}
