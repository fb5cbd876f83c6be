package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/entra-shell/app"
	"github.com/upb/entra-shell/utils"
	"go.uber.org/zap"
)

// HealthCheck returns a simple health check handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessCheck reports ready once the shell has reconciled and the token cache answers
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		checks := map[string]string{}

		select {
		case <-deps.Shell.Ready():
			checks["shell"] = "ready"
		default:
			status = "unhealthy"
			checks["shell"] = "starting"
		}

		if deps.TokenCache == nil {
			checks["token_cache"] = "memory"
		} else if err := deps.TokenCache.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			checks["token_cache"] = "unhealthy"
			deps.Logger.Error("token cache health check failed", zap.Error(err))
		} else {
			checks["token_cache"] = "healthy"
		}

		code := http.StatusOK
		if status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		_ = utils.WriteJSON(w, code, utils.SuccessResponse{Data: map[string]interface{}{
			"status": status,
			"checks": checks,
		}})
	}
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, map[string]interface{}{
			"version":           "0.1.0",
			"environment":       deps.Config.Environment,
			"cache_location":    deps.Config.Cache.Location,
			"protected_entries": deps.InterceptorConfig.ProtectedResources.Len(),
		})
	}
}
