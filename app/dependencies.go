package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/upb/entra-shell/auth"
	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/config"
	"github.com/upb/entra-shell/identity"
	"github.com/upb/entra-shell/interceptor"
	"github.com/upb/entra-shell/internal/observability"
	"github.com/upb/entra-shell/middleware"
	"github.com/upb/entra-shell/shell"
	"github.com/upb/entra-shell/tokencache"
	"github.com/upb/entra-shell/views"
	"go.uber.org/zap"
)

// Dependencies holds every long-lived component of the shell.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	Logger     *zap.Logger
	TokenCache *tokencache.Store

	// Identity
	Identity          identity.Client
	Environment       authconfig.Environment
	GuardConfig       authconfig.GuardConfig
	InterceptorConfig authconfig.InterceptorConfig

	// Shell
	Shell     *shell.Shell
	Navigator *middleware.Navigator
	Guard     *middleware.Guard

	// HTTPClient attaches bearer tokens to calls to protected resources.
	HTTPClient *http.Client
	Views      *views.Views

	authHandler *auth.Handler
}

// AuthHandler returns the auth handler for route wiring
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies, backed by
// the MSAL public client.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Environment: authconfig.EnvironmentFromConfig(cfg),
	}

	if cfg.PersistentCache() {
		if err := deps.initTokenCache(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize token cache: %w", err)
		}
	}

	client, err := deps.newIdentityClient(cfg)
	if err != nil {
		deps.closeTokenCache()
		return nil, fmt.Errorf("failed to initialize identity client: %w", err)
	}

	if err := deps.wire(client); err != nil {
		deps.closeTokenCache()
		return nil, err
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// NewDependenciesWithClient wires the shell around an existing identity client.
// No token cache is opened.
func NewDependenciesWithClient(cfg *config.Config, logger *zap.Logger, client identity.Client) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Environment: authconfig.EnvironmentFromConfig(cfg),
	}
	if err := deps.wire(client); err != nil {
		return nil, err
	}
	return deps, nil
}

// initTokenCache opens the shared token cache database
func (d *Dependencies) initTokenCache(ctx context.Context, cfg *config.Config) error {
	store, err := tokencache.Open(ctx, cfg.Cache.Driver, cfg.Cache.DSN, d.Logger.Named("tokencache"))
	if err != nil {
		return err
	}
	d.TokenCache = store
	return nil
}

func (d *Dependencies) newIdentityClient(cfg *config.Config) (*identity.MSALClient, error) {
	postLogout, err := authconfig.ResolveURI(cfg.Server.BaseURL(), cfg.Auth.PostLogoutRedirectURI)
	if err != nil {
		return nil, err
	}

	clientCfg := authconfig.BuildClientConfig(d.Environment, "")
	opts := identity.Options{
		ClientID:              clientCfg.ClientID,
		AuthorityHost:         cfg.Auth.AuthorityHost,
		DefaultTenant:         cfg.Auth.DefaultTenant,
		PopupRedirectURI:      cfg.Auth.PopupRedirectURI,
		PostLogoutRedirectURI: postLogout,
		PollInterval:          cfg.Auth.AccountPollInterval,
		PiiLogging:            clientCfg.Logging.PiiLoggingEnabled,
	}

	// untyped nils keep MSAL on its in-memory cache
	var accessor cache.ExportReplace
	if d.TokenCache != nil {
		accessor = d.TokenCache
		opts.State = d.TokenCache
	}

	return identity.New(opts, accessor, observability.IdentityLogger(d.Logger, clientCfg.Logging))
}

// wire builds everything that sits on top of the identity client
func (d *Dependencies) wire(client identity.Client) error {
	cfg := d.Config
	d.Identity = client
	d.GuardConfig = authconfig.BuildGuardConfig()
	d.InterceptorConfig = authconfig.BuildInterceptorConfig(d.Environment)

	if cfg.Auth.ProtectedResourcesFile != "" {
		if err := d.InterceptorConfig.ProtectedResources.LoadResourceMapFile(cfg.Auth.ProtectedResourcesFile); err != nil {
			return fmt.Errorf("failed to load protected resources: %w", err)
		}
		d.Logger.Info("protected resources loaded",
			zap.String("file", cfg.Auth.ProtectedResourcesFile),
			zap.Int("entries", d.InterceptorConfig.ProtectedResources.Len()))
	}

	redirectURI, err := authconfig.ResolveURI(cfg.Server.BaseURL(), cfg.Auth.RedirectURI)
	if err != nil {
		return fmt.Errorf("failed to resolve redirect uri: %w", err)
	}
	postLogout, err := authconfig.ResolveURI(cfg.Server.BaseURL(), cfg.Auth.PostLogoutRedirectURI)
	if err != nil {
		return fmt.Errorf("failed to resolve post logout redirect uri: %w", err)
	}

	d.Navigator = middleware.NewNavigator(d.Logger)
	d.Shell = shell.New(client, d.Navigator, shell.Options{
		Guard:                 d.GuardConfig,
		RedirectURI:           redirectURI,
		PostLogoutRedirectURI: postLogout,
		AccountStorageEvents:  cfg.Auth.AccountStorageEvents,
	}, d.Logger.Named("shell"))

	d.HTTPClient = interceptor.NewHTTPClient(nil, client, d.InterceptorConfig, d.Logger.Named("interceptor"))
	d.Guard = middleware.NewGuard(d.Shell, d.GuardConfig, d.Logger)
	d.authHandler = auth.NewHandler(d.Shell, d.Environment, d.Logger)

	v, err := views.New()
	if err != nil {
		return fmt.Errorf("failed to load views: %w", err)
	}
	d.Views = v

	d.Logger.Info("shell wired",
		zap.String("redirect_uri", redirectURI),
		zap.Bool("persistent_cache", d.TokenCache != nil))
	return nil
}

// Start initializes the identity client and starts the shell's event loop.
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.Shell.Start(ctx); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Shell != nil {
		if err := d.Shell.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop shell: %w", err))
		}
	}

	if d.TokenCache != nil {
		if err := d.TokenCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close token cache: %w", err))
		} else {
			d.Logger.Info("token cache closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeTokenCache() {
	if d.TokenCache != nil {
		_ = d.TokenCache.Close()
		d.TokenCache = nil
	}
}
