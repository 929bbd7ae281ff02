package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/service"
)

// SettingsHandler handles the global recording settings endpoints.
type SettingsHandler struct {
	settings *service.SettingsService
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRecordingSettings",
		Method:      "GET",
		Path:        "/api/v1/settings/recording",
		Summary:     "Get global recording settings",
		Tags:        []string{"Settings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateRecordingSettings",
		Method:      "PUT",
		Path:        "/api/v1/settings/recording",
		Summary:     "Replace global recording settings",
		Description: "Cached effective configs are dropped; the change applies to the next session of every streamer",
		Tags:        []string{"Settings"},
	}, h.Update)
}

// SettingsOutput wraps the global settings row.
type SettingsOutput struct {
	Body *models.Settings
}

// Get returns the global settings.
func (h *SettingsHandler) Get(ctx context.Context, _ *struct{}) (*SettingsOutput, error) {
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &SettingsOutput{Body: settings}, nil
}

// UpdateSettingsInput is the input for replacing the global settings.
type UpdateSettingsInput struct {
	Body struct {
		Enabled          *bool  `json:"enabled,omitempty"`
		Quality          string `json:"quality,omitempty"`
		SupportedCodecs  string `json:"supported_codecs,omitempty" doc:"JSON array of codec names in preference order"`
		FilenameTemplate string `json:"filename_template,omitempty"`
		LayoutPreset     string `json:"layout_preset,omitempty"`
		ProxyHTTP        string `json:"proxy_http,omitempty"`
		ProxyHTTPS       string `json:"proxy_https,omitempty"`
		MaxStreams       *int   `json:"max_streams,omitempty"`
	}
}

// Update replaces the global settings.
func (h *SettingsHandler) Update(ctx context.Context, input *UpdateSettingsInput) (*SettingsOutput, error) {
	b := input.Body
	updated, err := h.settings.Update(ctx, &models.Settings{
		Enabled:          b.Enabled,
		Quality:          b.Quality,
		SupportedCodecs:  b.SupportedCodecs,
		FilenameTemplate: b.FilenameTemplate,
		LayoutPreset:     b.LayoutPreset,
		ProxyHTTP:        b.ProxyHTTP,
		ProxyHTTPS:       b.ProxyHTTPS,
		MaxStreams:       b.MaxStreams,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &SettingsOutput{Body: updated}, nil
}
