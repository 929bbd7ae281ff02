package service

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// SettingsService provides business logic for the global recording settings.
type SettingsService struct {
	settings repository.SettingsRepository
	resolver Invalidator
	logger   *slog.Logger
}

// NewSettingsService creates a new settings service.
func NewSettingsService(settings repository.SettingsRepository, resolver Invalidator) *SettingsService {
	return &SettingsService{
		settings: settings,
		resolver: resolver,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *SettingsService) WithLogger(logger *slog.Logger) *SettingsService {
	s.logger = logger
	return s
}

// Get retrieves the global settings row, creating it when missing.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	return s.settings.GetGlobal(ctx)
}

// Update persists the global settings and drops every cached effective
// config, so the change applies to the next session of every streamer.
func (s *SettingsService) Update(ctx context.Context, settings *models.Settings) (*models.Settings, error) {
	current, err := s.settings.GetGlobal(ctx)
	if err != nil {
		return nil, err
	}

	current.Enabled = settings.Enabled
	current.Quality = settings.Quality
	current.SupportedCodecs = settings.SupportedCodecs
	current.FilenameTemplate = settings.FilenameTemplate
	current.LayoutPreset = settings.LayoutPreset
	current.ProxyHTTP = settings.ProxyHTTP
	current.ProxyHTTPS = settings.ProxyHTTPS
	current.MaxStreams = settings.MaxStreams

	if _, err := current.Codecs(); err != nil {
		return nil, recerr.Wrap(recerr.KindConfig, "service.settings.update", err)
	}

	if err := s.settings.Update(ctx, current); err != nil {
		return nil, err
	}
	if s.resolver != nil {
		s.resolver.Invalidate()
	}
	s.logger.Info("updated global settings", "quality", current.Quality)
	return current, nil
}
