package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/upb/entra-shell/app"
	"github.com/upb/entra-shell/authconfig"
	"github.com/upb/entra-shell/middleware"
	"github.com/upb/entra-shell/shell"
	"github.com/upb/entra-shell/utils"
	"go.uber.org/zap"
)

// GraphMeURL is the signed-in user's Microsoft Graph profile.
const GraphMeURL = authconfig.GraphEndpoint + "me"

// SessionResponse is what the browser polls to keep the navigation bar current.
type SessionResponse struct {
	shell.DisplayState
	NavigateTo string `json:"navigateTo,omitempty"`
}

// ViewportRequest reports the browser's viewport width.
type ViewportRequest struct {
	Width int `json:"width" validate:"min=1"`
}

// SessionHandler returns the current display state and any scheduled navigation
func SessionHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SessionResponse{DisplayState: deps.Shell.State()}
		if path, ok := deps.Navigator.Pending(); ok {
			resp.NavigateTo = path
		}
		_ = utils.WriteOK(w, resp)
	}
}

// ViewportHandler records the viewport width and returns the updated state
func ViewportHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ViewportRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			_ = utils.WriteDecodeError(w, err)
			return
		}
		deps.Shell.SetViewport(req.Width)
		_ = utils.WriteOK(w, deps.Shell.State())
	}
}

// DismissErrorHandler clears the error banner
func DismissErrorHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Shell.DismissError()
		utils.WriteNoContent(w)
	}
}

// APINotFoundHandler answers unknown API paths with a JSON error
func APINotFoundHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, fmt.Sprintf("no API endpoint at %s", r.URL.Path))
	}
}

// ProfileAPIHandler returns the signed-in user's Graph profile
func ProfileAPIHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := fetchGraphProfile(r.Context(), deps.HTTPClient)
		if err != nil {
			deps.Logger.Warn("graph profile request failed",
				zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
				zap.Error(err))
			_ = utils.WriteAuthError(w, err)
			return
		}
		_ = utils.WriteOK(w, profile)
	}
}

func fetchGraphProfile(ctx context.Context, client *http.Client) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GraphMeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading graph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph returned %d", resp.StatusCode)
	}

	var profile map[string]interface{}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decoding graph response: %w", err)
	}
	delete(profile, "@odata.context")
	return profile, nil
}
