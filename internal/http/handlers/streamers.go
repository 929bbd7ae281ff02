package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/service"
)

// StreamerHandler handles streamer management endpoints.
type StreamerHandler struct {
	streamers *service.StreamerService
}

// NewStreamerHandler creates a new streamer handler.
func NewStreamerHandler(streamers *service.StreamerService) *StreamerHandler {
	return &StreamerHandler{streamers: streamers}
}

// Register registers the streamer routes with the API.
func (h *StreamerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreamers",
		Method:      "GET",
		Path:        "/api/v1/streamers",
		Summary:     "List streamers",
		Tags:        []string{"Streamers"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "addStreamer",
		Method:      "POST",
		Path:        "/api/v1/streamers",
		Summary:     "Add a streamer",
		Description: "Resolves the Twitch login, persists the streamer, and subscribes to its EventSub topics",
		Tags:        []string{"Streamers"},
	}, h.Add)

	huma.Register(api, huma.Operation{
		OperationID: "getStreamer",
		Method:      "GET",
		Path:        "/api/v1/streamers/{id}",
		Summary:     "Get a streamer",
		Tags:        []string{"Streamers"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateStreamer",
		Method:      "PATCH",
		Path:        "/api/v1/streamers/{id}",
		Summary:     "Update streamer settings",
		Description: "Updates the enabled flag and per-streamer recording overrides",
		Tags:        []string{"Streamers"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID: "removeStreamer",
		Method:      "DELETE",
		Path:        "/api/v1/streamers/{id}",
		Summary:     "Remove a streamer",
		Description: "Deletes the streamer, its EventSub subscriptions, and all dependent rows. Files on disk are kept.",
		Tags:        []string{"Streamers"},
	}, h.Remove)

	huma.Register(api, huma.Operation{
		OperationID: "forceStartRecording",
		Method:      "POST",
		Path:        "/api/v1/streamers/{id}/force-start",
		Summary:     "Force-start a recording",
		Description: "Begins a capture session regardless of the enabled flag or reported live state",
		Tags:        []string{"Streamers"},
	}, h.ForceStart)

	huma.Register(api, huma.Operation{
		OperationID: "forceStopRecording",
		Method:      "POST",
		Path:        "/api/v1/streamers/{id}/force-stop",
		Summary:     "Force-stop a recording",
		Tags:        []string{"Streamers"},
	}, h.ForceStop)
}

// ListStreamersOutput is the output for listing streamers.
type ListStreamersOutput struct {
	Body struct {
		Items []*models.Streamer `json:"items"`
		Total int                `json:"total"`
	}
}

// List returns all streamers.
func (h *StreamerHandler) List(ctx context.Context, _ *struct{}) (*ListStreamersOutput, error) {
	streamers, err := h.streamers.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	resp := &ListStreamersOutput{}
	resp.Body.Items = streamers
	resp.Body.Total = len(streamers)
	return resp, nil
}

// AddStreamerInput is the input for adding a streamer.
type AddStreamerInput struct {
	Body struct {
		Login   string `json:"login" minLength:"1" maxLength:"64" doc:"Twitch login name"`
		Enabled *bool  `json:"enabled,omitempty" doc:"Whether online events start recordings (default true)"`
	}
}

// StreamerOutput wraps a single streamer.
type StreamerOutput struct {
	Body *models.Streamer
}

// Add resolves a login and creates the streamer.
func (h *StreamerHandler) Add(ctx context.Context, input *AddStreamerInput) (*StreamerOutput, error) {
	streamer, err := h.streamers.Add(ctx, input.Body.Login, input.Body.Enabled)
	if err != nil {
		return nil, mapError(err)
	}
	return &StreamerOutput{Body: streamer}, nil
}

// StreamerIDInput identifies a streamer by path id.
type StreamerIDInput struct {
	ID string `path:"id" doc:"Streamer ID (ULID)"`
}

// Get returns one streamer.
func (h *StreamerHandler) Get(ctx context.Context, input *StreamerIDInput) (*StreamerOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid streamer ID format", err)
	}
	streamer, err := h.streamers.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return &StreamerOutput{Body: streamer}, nil
}

// UpdateStreamerInput is the input for updating streamer settings. Absent
// fields are left unchanged.
type UpdateStreamerInput struct {
	ID   string `path:"id" doc:"Streamer ID (ULID)"`
	Body struct {
		Enabled          *bool   `json:"enabled,omitempty"`
		Quality          *string `json:"quality,omitempty"`
		FilenameTemplate *string `json:"filename_template,omitempty"`
		ProxyHTTP        *string `json:"proxy_http,omitempty"`
		ProxyHTTPS       *string `json:"proxy_https,omitempty"`
		MaxStreams       *int    `json:"max_streams,omitempty"`
		OAuthToken       *string `json:"oauth_token,omitempty"`
	}
}

// Update applies partial streamer changes.
func (h *StreamerHandler) Update(ctx context.Context, input *UpdateStreamerInput) (*StreamerOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid streamer ID format", err)
	}
	streamer, err := h.streamers.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	b := input.Body
	if b.Enabled != nil {
		streamer.Enabled = b.Enabled
	}
	if b.Quality != nil {
		streamer.Quality = *b.Quality
	}
	if b.FilenameTemplate != nil {
		streamer.FilenameTemplate = *b.FilenameTemplate
	}
	if b.ProxyHTTP != nil {
		streamer.ProxyHTTP = *b.ProxyHTTP
	}
	if b.ProxyHTTPS != nil {
		streamer.ProxyHTTPS = *b.ProxyHTTPS
	}
	if b.MaxStreams != nil {
		streamer.MaxStreams = b.MaxStreams
	}
	if b.OAuthToken != nil {
		streamer.OAuthToken = *b.OAuthToken
	}

	if err := h.streamers.Update(ctx, streamer); err != nil {
		return nil, mapError(err)
	}
	return &StreamerOutput{Body: streamer}, nil
}

// Remove deletes a streamer.
func (h *StreamerHandler) Remove(ctx context.Context, input *StreamerIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid streamer ID format", err)
	}
	if err := h.streamers.Remove(ctx, id); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// ForceStart begins a recording session for the streamer.
func (h *StreamerHandler) ForceStart(ctx context.Context, input *StreamerIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid streamer ID format", err)
	}
	if err := h.streamers.ForceStart(ctx, id); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}

// ForceStop ends the streamer's active recording session.
func (h *StreamerHandler) ForceStop(ctx context.Context, input *StreamerIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid streamer ID format", err)
	}
	if err := h.streamers.ForceStop(ctx, id); err != nil {
		return nil, mapError(err)
	}
	return &struct{}{}, nil
}
