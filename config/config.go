package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Cache locations understood by the identity layer.
const (
	CacheLocationLocalStorage   = "localStorage"
	CacheLocationSessionStorage = "sessionStorage"
	CacheLocationMemoryStorage  = "memoryStorage"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `validate:"required"`
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// AuthConfig holds the Entra ID application registration and the protected API
// the shell calls on behalf of the signed-in user.
type AuthConfig struct {
	ClientID                    string `validate:"required"`
	AuthorityHost               string `validate:"required,url"`
	DefaultTenant               string `validate:"required"`
	RedirectURI                 string `validate:"required"`
	PostLogoutRedirectURI       string `validate:"required"`
	PopupRedirectURI            string `validate:"required,url"`
	AuthenticationEndpoint      string `validate:"omitempty,url"`
	AuthenticationEndpointScope string
	ProtectedResourcesFile      string
	AccountStorageEvents        bool
	AccountPollInterval         time.Duration `validate:"gt=0"`
}

// CacheConfig selects where the token cache lives. localStorage persists it in
// a database shared by every shell process; the other locations keep it in memory.
type CacheConfig struct {
	Location string `validate:"oneof=localStorage sessionStorage memoryStorage"`
	Driver   string `validate:"oneof=sqlite postgres"`
	DSN      string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required"`
	LogFormat      string `validate:"oneof=json console"`
	AuthLogLevel   string `validate:"oneof=error warning info verbose trace"`
	AuthPiiLogging bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "127.0.0.1"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			// popup sign-in holds the request open while the user is in the browser
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 6*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			ClientID:                    getEnv("CLIENT_ID", ""),
			AuthorityHost:               strings.TrimSuffix(getEnv("AUTHORITY_HOST", "https://login.microsoftonline.com"), "/"),
			DefaultTenant:               getEnv("DEFAULT_TENANT", "organizations"),
			RedirectURI:                 getEnv("REDIRECT_URI", "/products"),
			PostLogoutRedirectURI:       getEnv("POST_LOGOUT_REDIRECT_URI", "/discover"),
			PopupRedirectURI:            getEnv("POPUP_REDIRECT_URI", "http://localhost"),
			AuthenticationEndpoint:      getEnv("AUTHENTICATION_ENDPOINT", ""),
			AuthenticationEndpointScope: getEnv("AUTHENTICATION_ENDPOINT_SCOPE", ""),
			ProtectedResourcesFile:      getEnv("PROTECTED_RESOURCES_FILE", ""),
			AccountStorageEvents:        getEnvAsBool("ACCOUNT_STORAGE_EVENTS", true),
			AccountPollInterval:         getEnvAsDuration("ACCOUNT_POLL_INTERVAL", 5*time.Second),
		},
		Cache: CacheConfig{
			Location: getEnv("CACHE_LOCATION", CacheLocationLocalStorage),
			Driver:   getEnv("CACHE_DRIVER", "sqlite"),
			DSN:      getEnv("CACHE_DSN", ".shell/cache.db"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			AuthLogLevel:   strings.ToLower(getEnv("AUTH_LOG_LEVEL", "warning")),
			AuthPiiLogging: getEnvAsBool("AUTH_PII_LOGGING", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules the tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Auth.AuthenticationEndpoint != "" && c.Auth.AuthenticationEndpointScope == "" {
		return fmt.Errorf("authentication endpoint scope is required when an authentication endpoint is set")
	}

	if c.PersistentCache() && c.Cache.DSN == "" {
		return fmt.Errorf("cache DSN is required for cache location %s", c.Cache.Location)
	}

	return nil
}

// PersistentCache reports whether the token cache outlives the process
func (c *Config) PersistentCache() bool {
	return c.Cache.Location == CacheLocationLocalStorage
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL is the origin the shell is served from; relative redirect URIs resolve against it
func (c *ServerConfig) BaseURL() string {
	return "http://" + c.Address()
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 4200)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 4200
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
