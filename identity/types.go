package identity

import (
	"context"
	"time"
)

// InteractionStatus reports whether the identity library is in the middle of a flow.
type InteractionStatus string

const (
	InteractionStatusNone           InteractionStatus = "none"
	InteractionStatusStartup        InteractionStatus = "startup"
	InteractionStatusLogin          InteractionStatus = "login"
	InteractionStatusLogout         InteractionStatus = "logout"
	InteractionStatusAcquireToken   InteractionStatus = "acquireToken"
	InteractionStatusHandleRedirect InteractionStatus = "handleRedirect"
)

// InteractionType is how a user interaction is presented.
type InteractionType string

const (
	InteractionTypeRedirect InteractionType = "redirect"
	InteractionTypePopup    InteractionType = "popup"
	InteractionTypeSilent   InteractionType = "silent"
)

// EventType identifies a broadcast event.
type EventType string

const (
	EventAccountAdded         EventType = "msal:accountAdded"
	EventAccountRemoved       EventType = "msal:accountRemoved"
	EventActiveAccountChanged EventType = "msal:activeAccountChanged"
	EventLoginSuccess         EventType = "msal:loginSuccess"
	EventLoginFailure         EventType = "msal:loginFailure"
	EventLogoutSuccess        EventType = "msal:logoutSuccess"
	EventLogoutFailure        EventType = "msal:logoutFailure"
	EventAcquireTokenSuccess  EventType = "msal:acquireTokenSuccess"
	EventAcquireTokenFailure  EventType = "msal:acquireTokenFailure"
	EventHandleRedirectEnd    EventType = "msal:handleRedirectEnd"
)

// Account is the identity provider's record of a signed-in user. It is owned by
// the identity library; the shell only reads accounts and picks an active one.
type Account struct {
	HomeAccountID  string `json:"homeAccountId"`
	TenantID       string `json:"tenantId"`
	Username       string `json:"username"`
	Name           string `json:"name,omitempty"`
	Environment    string `json:"environment,omitempty"`
	LocalAccountID string `json:"localAccountId,omitempty"`
}

// AuthRequest carries the parameters of a login or token request.
type AuthRequest struct {
	Scopes      []string
	Authority   string
	Account     *Account
	LoginHint   string
	RedirectURI string
	// ExtraQueryParameters are appended to the authorize URL of redirect logins.
	ExtraQueryParameters map[string]string
	CorrelationID        string
}

// Clone returns a deep copy so callers can rewrite a request without touching the original.
func (r AuthRequest) Clone() AuthRequest {
	out := r
	if r.Scopes != nil {
		out.Scopes = append([]string(nil), r.Scopes...)
	}
	if r.Account != nil {
		acct := *r.Account
		out.Account = &acct
	}
	if r.ExtraQueryParameters != nil {
		out.ExtraQueryParameters = make(map[string]string, len(r.ExtraQueryParameters))
		for k, v := range r.ExtraQueryParameters {
			out.ExtraQueryParameters[k] = v
		}
	}
	return out
}

// TenantID returns the tenant carried by the request's account, if any.
func (r AuthRequest) TenantID() string {
	if r.Account == nil {
		return ""
	}
	return r.Account.TenantID
}

// LogoutRequest describes a logout.
type LogoutRequest struct {
	// Account to sign out. When nil every cached account is removed.
	Account               *Account
	PostLogoutRedirectURI string
	// MainWindowRedirectURI is where the main window goes once a popup logout finishes.
	MainWindowRedirectURI string
}

// AuthResult is the outcome of a successful token or login request.
type AuthResult struct {
	Account     Account
	AccessToken string
	IDToken     string
	ExpiresOn   time.Time
	Scopes      []string
}

// RedirectStart is returned by LoginRedirect: the URL to navigate the main window
// to and the pending state that must come back on the redirect response.
type RedirectStart struct {
	URL     string
	Pending PendingRedirect
}

// PendingRedirect is the state kept between starting a redirect login and handling its response.
type PendingRedirect struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"verifier"`
	RedirectURI  string    `json:"redirectUri"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RedirectResponse is what the identity provider sent back to the redirect URI.
type RedirectResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	// Pending is set when the auth state travelled in a cookie instead of server memory.
	Pending *PendingRedirect
}

// Empty reports whether the response carries nothing to process.
func (r RedirectResponse) Empty() bool {
	return r.Code == "" && r.Error == ""
}

// EventMessage is a single broadcast event.
type EventMessage struct {
	Type            EventType
	InteractionType InteractionType
	Account         *Account
	Error           error
	Timestamp       time.Time
}

// Client is the identity library as seen by the shell, the interceptor and the guard.
type Client interface {
	Initialize(ctx context.Context) error
	HandleRedirect(ctx context.Context, resp RedirectResponse) (*AuthResult, error)
	Accounts(ctx context.Context) ([]Account, error)
	ActiveAccount() *Account
	SetActiveAccount(ctx context.Context, account *Account) error
	LoginRedirect(ctx context.Context, req AuthRequest) (*RedirectStart, error)
	LoginPopup(ctx context.Context, req AuthRequest) (*AuthResult, error)
	LogoutRedirect(ctx context.Context, req LogoutRequest) (string, error)
	LogoutPopup(ctx context.Context, req LogoutRequest) (string, error)
	AcquireTokenSilent(ctx context.Context, req AuthRequest) (*AuthResult, error)
	EnableAccountStorageEvents(ctx context.Context)
	InteractionStatus() InteractionStatus
	Events() *EventBus
}
