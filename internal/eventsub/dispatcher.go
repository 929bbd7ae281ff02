package eventsub

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// Lifecycle receives translated lifecycle inputs. Implementations must not
// block: the dispatcher acknowledges the webhook as soon as Dispatch returns,
// so handoff happens through per-streamer mailboxes.
type Lifecycle interface {
	Online(streamer *models.Streamer, ev EventPayload)
	Offline(streamer *models.Streamer, ev EventPayload)
	Update(streamer *models.Streamer, ev EventPayload)
}

// Dispatcher turns verified webhook notifications into lifecycle inputs.
type Dispatcher struct {
	dedup        *Deduplicator
	streamerRepo repository.StreamerRepository
	lifecycle    Lifecycle
	log          *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(dedup *Deduplicator, streamerRepo repository.StreamerRepository, lifecycle Lifecycle, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		dedup:        dedup,
		streamerRepo: streamerRepo,
		lifecycle:    lifecycle,
		log:          observability.WithComponent(log, "eventsub"),
	}
}

// Dispatch processes one verified notification. It always succeeds from the
// webhook's point of view: duplicates and unknown broadcasters are dropped
// after logging, because Twitch retries anything not acknowledged with a 2xx.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID, subType string, ev EventPayload) {
	if d.dedup.Seen(messageID, ev.BroadcasterUserID, subType) {
		d.log.Debug("duplicate delivery dropped",
			slog.String("message_id", messageID),
			slog.String("type", subType),
			slog.String("broadcaster", ev.BroadcasterUserID))
		return
	}

	streamer, err := d.streamerRepo.GetByTwitchID(ctx, ev.BroadcasterUserID)
	if err != nil {
		d.log.Error("streamer lookup failed",
			slog.String("broadcaster", ev.BroadcasterUserID),
			slog.Any("error", err))
		return
	}
	if streamer == nil {
		d.log.Debug("notification for unknown broadcaster dropped",
			slog.String("broadcaster", ev.BroadcasterUserID),
			slog.String("login", ev.BroadcasterUserLogin))
		return
	}

	switch subType {
	case TypeStreamOnline:
		d.lifecycle.Online(streamer, ev)
	case TypeStreamOffline:
		d.lifecycle.Offline(streamer, ev)
	case TypeChannelUpdate:
		d.lifecycle.Update(streamer, ev)
	default:
		d.log.Warn("unhandled subscription type", slog.String("type", subType))
	}
}

// HandleRevocation records that Twitch revoked a subscription. The affected
// streamer keeps its rows; re-subscription happens on the next recovery pass.
func (d *Dispatcher) HandleRevocation(ctx context.Context, sub SubscriptionRef) {
	d.log.Warn("eventsub subscription revoked",
		slog.String("subscription_id", sub.ID),
		slog.String("type", sub.Type),
		slog.String("status", sub.Status))
}
