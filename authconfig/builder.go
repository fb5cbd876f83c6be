// Package authconfig builds the identity client, guard and interceptor
// configuration from the environment.
package authconfig

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/upb/entra-shell/config"
	"github.com/upb/entra-shell/identity"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultAuthorityHost = "https://login.microsoftonline.com"
	OrganizationsTenant  = "organizations"

	LoginFailedRoute = "/login"
)

// LoginScopes are consented to at sign-in.
var LoginScopes = []string{"user.read", "organization.read.all"}

// Environment is the deployment-specific input to the builders.
type Environment struct {
	ClientID                    string
	AuthorityHost               string
	RedirectURI                 string
	PostLogoutRedirectURI       string
	CacheLocation               string
	AuthenticationEndpoint      string
	AuthenticationEndpointScope string
	LogLevel                    string
	PiiLogging                  bool
}

// EnvironmentFromConfig extracts the builder input from the application config.
func EnvironmentFromConfig(cfg *config.Config) Environment {
	return Environment{
		ClientID:                    cfg.Auth.ClientID,
		AuthorityHost:               cfg.Auth.AuthorityHost,
		RedirectURI:                 cfg.Auth.RedirectURI,
		PostLogoutRedirectURI:       cfg.Auth.PostLogoutRedirectURI,
		CacheLocation:               cfg.Cache.Location,
		AuthenticationEndpoint:      cfg.Auth.AuthenticationEndpoint,
		AuthenticationEndpointScope: cfg.Auth.AuthenticationEndpointScope,
		LogLevel:                    cfg.Observability.AuthLogLevel,
		PiiLogging:                  cfg.Observability.AuthPiiLogging,
	}
}

func (e Environment) host() string {
	if e.AuthorityHost == "" {
		return DefaultAuthorityHost
	}
	return strings.TrimRight(e.AuthorityHost, "/")
}

// LogLevel is the identity library's log verbosity.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarning
	LogLevelInfo
	LogLevelVerbose
	LogLevelTrace
)

// ParseLogLevel maps a config value to a LogLevel. Unknown values fall back to Warning.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "error":
		return LogLevelError
	case "info":
		return LogLevelInfo
	case "verbose":
		return LogLevelVerbose
	case "trace":
		return LogLevelTrace
	default:
		return LogLevelWarning
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelTrace:
		return "trace"
	default:
		return "warning"
	}
}

// ZapLevel is the minimum zap level that corresponds to l.
func (l LogLevel) ZapLevel() zapcore.Level {
	switch l {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarning:
		return zapcore.WarnLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// LoggerOptions controls identity library logging.
type LoggerOptions struct {
	Level             LogLevel
	PiiLoggingEnabled bool
}

// AuthConfiguration is the identity client configuration.
type AuthConfiguration struct {
	ClientID              string
	Authority             string
	RedirectURI           string
	PostLogoutRedirectURI string
	CacheLocation         string
	// StoreAuthStateInCookie carries the redirect state in a cookie for
	// browsers that lose it across the redirect.
	StoreAuthStateInCookie bool
	Logging                LoggerOptions
}

// BuildClientConfig produces the identity client configuration for a browser
// identified by userAgent.
func BuildClientConfig(env Environment, userAgent string) AuthConfiguration {
	cacheLocation := env.CacheLocation
	if cacheLocation == "" {
		cacheLocation = config.CacheLocationLocalStorage
	}
	return AuthConfiguration{
		ClientID:               env.ClientID,
		Authority:              identity.Authority(env.host(), OrganizationsTenant),
		RedirectURI:            env.RedirectURI,
		PostLogoutRedirectURI:  env.PostLogoutRedirectURI,
		CacheLocation:          cacheLocation,
		StoreAuthStateInCookie: IsLegacyBrowser(userAgent),
		Logging: LoggerOptions{
			Level:             ParseLogLevel(env.LogLevel),
			PiiLoggingEnabled: env.PiiLogging,
		},
	}
}

// IsLegacyBrowser reports whether the user agent is Internet Explorer.
func IsLegacyBrowser(userAgent string) bool {
	return strings.Contains(userAgent, "MSIE ") || strings.Contains(userAgent, "Trident/")
}

// ResolveURI resolves a configured, possibly relative, URI against the shell's base URL.
func ResolveURI(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", ref, err)
	}
	return base.ResolveReference(r).String(), nil
}

// AuthorityRule rewrites the token request used for an outgoing call to targetURL.
type AuthorityRule func(original identity.AuthRequest, targetURL string) identity.AuthRequest

// AuthoritySelector returns the per-request authority rule for an authority host.
// Calls to login pages keep the original request. Every other call is sent to
// the tenant of the request's account, or to the organizations authority when
// the account carries no tenant.
func AuthoritySelector(host string) AuthorityRule {
	host = strings.TrimRight(host, "/")
	return func(original identity.AuthRequest, targetURL string) identity.AuthRequest {
		if strings.Contains(targetURL, "/login") {
			return original
		}
		out := original.Clone()
		tenant := original.TenantID()
		if tenant == "" {
			tenant = OrganizationsTenant
		}
		out.Authority = identity.Authority(host, tenant)
		return out
	}
}

// SelectAuthorityForRequest applies AuthoritySelector for the public cloud host.
func SelectAuthorityForRequest(original identity.AuthRequest, targetURL string) identity.AuthRequest {
	return AuthoritySelector(DefaultAuthorityHost)(original, targetURL)
}

// GuardConfig drives route protection.
type GuardConfig struct {
	InteractionType  identity.InteractionType
	AuthRequest      identity.AuthRequest
	LoginFailedRoute string
}

// Request returns a copy of the default login request.
func (g GuardConfig) Request() identity.AuthRequest {
	return g.AuthRequest.Clone()
}

// BuildGuardConfig returns the route guard configuration.
func BuildGuardConfig() GuardConfig {
	return GuardConfig{
		InteractionType: identity.InteractionTypeRedirect,
		AuthRequest: identity.AuthRequest{
			Scopes: append([]string(nil), LoginScopes...),
		},
		LoginFailedRoute: LoginFailedRoute,
	}
}

// InterceptorConfig drives bearer token injection for outgoing calls.
type InterceptorConfig struct {
	InteractionType    identity.InteractionType
	ProtectedResources *ProtectedResourceMap
	AuthRequest        AuthorityRule
}

// BuildInterceptorConfig returns the interceptor configuration for env.
func BuildInterceptorConfig(env Environment) InterceptorConfig {
	return InterceptorConfig{
		InteractionType:    identity.InteractionTypeRedirect,
		ProtectedResources: BuildProtectedResourceMap(env),
		AuthRequest:        AuthoritySelector(env.host()),
	}
}
