// Package service provides the business logic layer for vodarr operations.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/twitch"
)

// TwitchClient is the slice of the Helix client streamer management needs.
type TwitchClient interface {
	GetUserByLogin(ctx context.Context, login string) (*twitch.User, error)
	CreateEventSubSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) (*twitch.Subscription, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
}

// RecorderControl exposes the manual session operations of the recording
// manager.
type RecorderControl interface {
	ForceStart(ctx context.Context, streamerID models.ULID) error
	ForceStop(ctx context.Context, streamerID models.ULID) error
}

// ArtworkRefresher fetches streamer imagery. Satisfied by *artwork.Fetcher.
type ArtworkRefresher interface {
	Refresh(ctx context.Context, streamer *models.Streamer) error
}

// Invalidator drops cached effective configs after writes. Satisfied by
// *resolver.Resolver.
type Invalidator interface {
	Invalidate()
}

// StreamerService provides business logic for streamer management.
type StreamerService struct {
	streamers repository.StreamerRepository
	twitch    TwitchClient
	recorder  RecorderControl
	artwork   ArtworkRefresher
	resolver  Invalidator

	callbackURL   string
	webhookSecret string
	logger        *slog.Logger
}

// NewStreamerService creates a new streamer service. twitchClient, recorder,
// artwork and resolver may be nil in reduced setups; the corresponding side
// effects are skipped.
func NewStreamerService(
	streamers repository.StreamerRepository,
	twitchClient TwitchClient,
	recorder RecorderControl,
	artwork ArtworkRefresher,
	resolver Invalidator,
	callbackURL, webhookSecret string,
) *StreamerService {
	return &StreamerService{
		streamers:     streamers,
		twitch:        twitchClient,
		recorder:      recorder,
		artwork:       artwork,
		resolver:      resolver,
		callbackURL:   callbackURL,
		webhookSecret: webhookSecret,
		logger:        slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *StreamerService) WithLogger(logger *slog.Logger) *StreamerService {
	s.logger = logger
	return s
}

// Add resolves a Twitch login, persists the streamer, and subscribes to its
// EventSub topics. Subscription or artwork failures do not fail the add;
// startup verification repairs missing subscriptions later.
func (s *StreamerService) Add(ctx context.Context, login string, enabled *bool) (*models.Streamer, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return nil, recerr.New(recerr.KindConfig, "service.streamer.add", "login is required")
	}

	if existing, err := s.streamers.GetByLogin(ctx, login); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, recerr.New(recerr.KindConfig, "service.streamer.add",
			"streamer %s already exists", login)
	}

	user, err := s.twitch.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, recerr.New(recerr.KindStreamerNotFound, "service.streamer.add",
			"twitch login %s not found", login)
	}

	streamer := &models.Streamer{
		TwitchID:        user.ID,
		Login:           user.Login,
		DisplayName:     user.DisplayName,
		ProfileImageURL: user.ProfileImageURL,
		OfflineImageURL: user.OfflineImageURL,
		Enabled:         enabled,
	}
	if err := s.streamers.Create(ctx, streamer); err != nil {
		return nil, fmt.Errorf("creating streamer: %w", err)
	}

	if err := s.subscribe(ctx, streamer); err != nil {
		s.logger.Warn("eventsub subscription incomplete, startup verification will retry",
			"streamer", streamer.Login, "error", err)
	}

	if s.artwork != nil {
		if err := s.artwork.Refresh(ctx, streamer); err != nil {
			s.logger.Warn("initial artwork fetch failed",
				"streamer", streamer.Login, "error", err)
		}
	}

	s.logger.Info("added streamer",
		"id", streamer.ID.String(),
		"login", streamer.Login,
		"twitch_id", streamer.TwitchID,
	)
	return streamer, nil
}

// subscribe creates the three EventSub subscriptions and stores their ids.
func (s *StreamerService) subscribe(ctx context.Context, streamer *models.Streamer) error {
	if s.callbackURL == "" {
		return fmt.Errorf("no public callback URL configured")
	}

	wanted := []struct {
		subType string
		id      *string
	}{
		{twitch.SubTypeStreamOnline, &streamer.EventSubOnlineID},
		{twitch.SubTypeStreamOffline, &streamer.EventSubOfflineID},
		{twitch.SubTypeChannelUpdate, &streamer.EventSubUpdateID},
	}
	for _, w := range wanted {
		if *w.id != "" {
			continue
		}
		sub, err := s.twitch.CreateEventSubSubscription(ctx, w.subType,
			streamer.TwitchID, s.callbackURL, s.webhookSecret)
		if err != nil {
			return fmt.Errorf("subscribing %s: %w", w.subType, err)
		}
		*w.id = sub.ID
	}
	return s.streamers.Update(ctx, streamer)
}

// Get retrieves a streamer by id.
func (s *StreamerService) Get(ctx context.Context, id models.ULID) (*models.Streamer, error) {
	streamer, err := s.streamers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if streamer == nil {
		return nil, recerr.New(recerr.KindStreamerNotFound, "service.streamer.get",
			"streamer %s not found", id)
	}
	return streamer, nil
}

// List retrieves all streamers.
func (s *StreamerService) List(ctx context.Context) ([]*models.Streamer, error) {
	return s.streamers.GetAll(ctx)
}

// Update persists streamer changes and drops cached effective configs so the
// next session start observes the new overrides.
func (s *StreamerService) Update(ctx context.Context, streamer *models.Streamer) error {
	if err := streamer.Validate(); err != nil {
		return recerr.Wrap(recerr.KindConfig, "service.streamer.update", err)
	}
	if err := s.streamers.Update(ctx, streamer); err != nil {
		return err
	}
	if s.resolver != nil {
		s.resolver.Invalidate()
	}
	s.logger.Info("updated streamer", "id", streamer.ID.String(), "login", streamer.Login)
	return nil
}

// Remove deletes a streamer, its EventSub subscriptions, and all dependent
// rows. Recording files on disk are left in place.
func (s *StreamerService) Remove(ctx context.Context, id models.ULID) error {
	streamer, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.recorder != nil {
		// Best effort: a live session for this streamer must not keep
		// writing after the row is gone.
		if err := s.recorder.ForceStop(ctx, id); err != nil {
			s.logger.Debug("no active session to stop", "login", streamer.Login)
		}
	}

	for _, subID := range []string{streamer.EventSubOnlineID, streamer.EventSubOfflineID, streamer.EventSubUpdateID} {
		if subID == "" {
			continue
		}
		if err := s.twitch.DeleteEventSubSubscription(ctx, subID); err != nil {
			s.logger.Warn("eventsub unsubscribe failed",
				"streamer", streamer.Login, "subscription_id", subID, "error", err)
		}
	}

	if err := s.streamers.Delete(ctx, id); err != nil {
		return err
	}
	if s.resolver != nil {
		s.resolver.Invalidate()
	}
	s.logger.Info("removed streamer", "id", id.String(), "login", streamer.Login)
	return nil
}

// ForceStart begins a recording session regardless of the enabled flag.
func (s *StreamerService) ForceStart(ctx context.Context, id models.ULID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.recorder.ForceStart(ctx, id)
}

// ForceStop ends the streamer's active recording session.
func (s *StreamerService) ForceStop(ctx context.Context, id models.ULID) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.recorder.ForceStop(ctx, id)
}
