// Package interceptor attaches bearer tokens to outgoing calls to protected resources.
package interceptor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/identity"
	"go.uber.org/zap"
)

const defaultClientTimeout = 30 * time.Second

// Transport is an http.RoundTripper that acquires a token silently for every
// request to a protected resource and sends it as a bearer credential.
type Transport struct {
	base   http.RoundTripper
	client identity.Client
	config authconfig.InterceptorConfig
	logger *zap.Logger
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, client identity.Client, cfg authconfig.InterceptorConfig, logger *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.ProtectedResources == nil {
		cfg.ProtectedResources = authconfig.NewProtectedResourceMap()
	}
	if cfg.AuthRequest == nil {
		cfg.AuthRequest = authconfig.SelectAuthorityForRequest
	}
	return &Transport{base: base, client: client, config: cfg, logger: logger}
}

// NewHTTPClient returns an http.Client whose calls go through the interceptor.
func NewHTTPClient(base http.RoundTripper, client identity.Client, cfg authconfig.InterceptorConfig, logger *zap.Logger) *http.Client {
	return &http.Client{
		Transport: NewTransport(base, client, cfg, logger),
		Timeout:   defaultClientTimeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()

	if strings.Contains(target, "/login") {
		return t.base.RoundTrip(req)
	}

	entry, ok := t.config.ProtectedResources.Match(target)
	if !ok || !entry.RequiresToken() {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	account := t.client.ActiveAccount()
	if account == nil {
		if accounts, err := t.client.Accounts(ctx); err == nil && len(accounts) > 0 {
			account = &accounts[0]
		}
	}

	authReq := t.config.AuthRequest(identity.AuthRequest{
		Scopes:  entry.Scopes,
		Account: account,
	}, target)

	result, err := t.client.AcquireTokenSilent(ctx, authReq)
	if err != nil {
		closeBody(req)
		t.logger.Warn("token acquisition failed",
			zap.String("host", req.URL.Host),
			zap.String("interaction_type", string(t.config.InteractionType)),
			zap.Error(err),
		)
		// keep the client's classification; anything else needs sign-in
		errType := identity.ErrorTypeInteractionRequired
		var authErr *identity.AuthError
		if errors.As(err, &authErr) {
			errType = authErr.Type
		}
		return nil, identity.NewAuthError(errType,
			fmt.Sprintf("token for %s requires %s sign-in", req.URL.Host, t.config.InteractionType), err)
	}

	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+result.AccessToken)

	t.logger.Debug("attached bearer token",
		zap.String("host", req.URL.Host),
		zap.Strings("scopes", entry.Scopes),
	)
	return t.base.RoundTrip(out)
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
