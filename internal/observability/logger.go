// Package observability builds the process logger.
package observability

import (
	"context"
	"fmt"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from the observability config. The json
// format uses zap's production encoder; console uses the development one.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	switch cfg.LogFormat {
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// IdentityLogger returns the named logger for the identity library, filtered
// to the library's configured verbosity.
func IdentityLogger(base *zap.Logger, opts authconfig.LoggerOptions) *zap.Logger {
	return base.Named("identity").
		WithOptions(zap.IncreaseLevel(opts.Level.ZapLevel())).
		With(zap.Bool("pii_logging", opts.PiiLoggingEnabled))
}

// FromContext returns base annotated with the request id carried by ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := chimw.GetReqID(ctx); id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}
