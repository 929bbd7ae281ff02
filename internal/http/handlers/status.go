package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// ActiveSource supplies the current non-idle recording sessions. Satisfied
// by *recorder.Manager.
type ActiveSource interface {
	ActiveSessions(ctx context.Context) (any, error)
}

// StatusHandler handles the polling counterpart of the websocket feed.
type StatusHandler struct {
	active ActiveSource
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(active ActiveSource) *StatusHandler {
	return &StatusHandler{active: active}
}

// Register registers the status routes with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getActiveRecordings",
		Method:      "GET",
		Path:        "/api/v1/status/active",
		Summary:     "Active recording sessions",
		Tags:        []string{"System"},
	}, h.Active)
}

// ActiveOutput is the output for active sessions.
type ActiveOutput struct {
	Body struct {
		Sessions any `json:"sessions"`
	}
}

// Active returns a snapshot of non-idle sessions.
func (h *StatusHandler) Active(ctx context.Context, _ *struct{}) (*ActiveOutput, error) {
	sessions, err := h.active.ActiveSessions(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &ActiveOutput{}
	resp.Body.Sessions = sessions
	return resp, nil
}
