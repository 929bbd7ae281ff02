package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/recerr"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/testutil"
	"github.com/jmylchreest/vodarr/internal/twitch"
)

type fakeTwitch struct {
	users   map[string]*twitch.User
	created []string
	deleted []string
	nextSub int
}

func (f *fakeTwitch) GetUserByLogin(ctx context.Context, login string) (*twitch.User, error) {
	return f.users[login], nil
}

func (f *fakeTwitch) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) (*twitch.Subscription, error) {
	f.nextSub++
	f.created = append(f.created, subType)
	return &twitch.Subscription{ID: "sub-" + subType, Status: "enabled"}, nil
}

func (f *fakeTwitch) DeleteEventSubSubscription(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRecorder struct {
	started []models.ULID
	stopped []models.ULID
}

func (f *fakeRecorder) ForceStart(ctx context.Context, id models.ULID) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRecorder) ForceStop(ctx context.Context, id models.ULID) error {
	f.stopped = append(f.stopped, id)
	return nil
}

type fakeInvalidator struct {
	calls int
}

func (f *fakeInvalidator) Invalidate() { f.calls++ }

func newStreamerService(t *testing.T) (*StreamerService, *fakeTwitch, *fakeRecorder, *fakeInvalidator, repository.StreamerRepository) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	streamers := repository.NewStreamerRepository(db)
	tw := &fakeTwitch{users: map[string]*twitch.User{}}
	rec := &fakeRecorder{}
	inv := &fakeInvalidator{}
	svc := NewStreamerService(streamers, tw, rec, nil, inv,
		"https://vodarr.test/api/v1/eventsub/callback", "s3cret")
	return svc, tw, rec, inv, streamers
}

func TestAddResolvesLoginAndSubscribes(t *testing.T) {
	svc, tw, _, _, streamers := newStreamerService(t)
	ctx := context.Background()

	tw.users["alice"] = &twitch.User{
		ID:              "123",
		Login:           "alice",
		DisplayName:     "Alice",
		ProfileImageURL: "https://cdn/avatar.png",
	}

	streamer, err := svc.Add(ctx, "  Alice ", nil)
	require.NoError(t, err)
	assert.Equal(t, "123", streamer.TwitchID)
	assert.Equal(t, "alice", streamer.Login)
	assert.True(t, streamer.RecordingEnabled())

	assert.ElementsMatch(t, []string{
		twitch.SubTypeStreamOnline, twitch.SubTypeStreamOffline, twitch.SubTypeChannelUpdate,
	}, tw.created)

	stored, err := streamers.GetByLogin(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "sub-"+twitch.SubTypeStreamOnline, stored.EventSubOnlineID)
	assert.Equal(t, "sub-"+twitch.SubTypeStreamOffline, stored.EventSubOfflineID)
	assert.Equal(t, "sub-"+twitch.SubTypeChannelUpdate, stored.EventSubUpdateID)
}

func TestAddUnknownLogin(t *testing.T) {
	svc, _, _, _, _ := newStreamerService(t)

	_, err := svc.Add(context.Background(), "nobody", nil)
	require.Error(t, err)
	assert.Equal(t, recerr.KindStreamerNotFound, recerr.KindOf(err))
}

func TestAddDuplicateLogin(t *testing.T) {
	svc, tw, _, _, _ := newStreamerService(t)
	ctx := context.Background()
	tw.users["alice"] = &twitch.User{ID: "123", Login: "alice"}

	_, err := svc.Add(ctx, "alice", nil)
	require.NoError(t, err)

	_, err = svc.Add(ctx, "alice", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRemoveDeletesSubscriptions(t *testing.T) {
	svc, tw, rec, _, streamers := newStreamerService(t)
	ctx := context.Background()
	tw.users["alice"] = &twitch.User{ID: "123", Login: "alice"}

	streamer, err := svc.Add(ctx, "alice", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, streamer.ID))

	assert.Len(t, tw.deleted, 3)
	assert.Equal(t, []models.ULID{streamer.ID}, rec.stopped)

	gone, err := streamers.GetByID(ctx, streamer.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestUpdateInvalidatesResolverCache(t *testing.T) {
	svc, tw, _, inv, _ := newStreamerService(t)
	ctx := context.Background()
	tw.users["alice"] = &twitch.User{ID: "123", Login: "alice"}

	streamer, err := svc.Add(ctx, "alice", nil)
	require.NoError(t, err)

	streamer.Quality = "720p60"
	require.NoError(t, svc.Update(ctx, streamer))
	assert.Equal(t, 1, inv.calls)
}

func TestForceStartDelegatesToRecorder(t *testing.T) {
	svc, tw, rec, _, _ := newStreamerService(t)
	ctx := context.Background()
	tw.users["alice"] = &twitch.User{ID: "123", Login: "alice"}

	streamer, err := svc.Add(ctx, "alice", nil)
	require.NoError(t, err)

	require.NoError(t, svc.ForceStart(ctx, streamer.ID))
	assert.Equal(t, []models.ULID{streamer.ID}, rec.started)

	err = svc.ForceStart(ctx, models.NewULID())
	require.Error(t, err)
	assert.Equal(t, recerr.KindStreamerNotFound, recerr.KindOf(err))
}
