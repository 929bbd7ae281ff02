package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/service"
	"github.com/jmylchreest/vodarr/internal/testutil"
	"github.com/jmylchreest/vodarr/internal/twitch"
)

type stubTwitch struct {
	users map[string]*twitch.User
}

func (s *stubTwitch) GetUserByLogin(ctx context.Context, login string) (*twitch.User, error) {
	return s.users[login], nil
}

func (s *stubTwitch) CreateEventSubSubscription(ctx context.Context, subType, broadcasterID, callbackURL, secret string) (*twitch.Subscription, error) {
	return &twitch.Subscription{ID: "sub-" + subType, Status: "enabled"}, nil
}

func (s *stubTwitch) DeleteEventSubSubscription(ctx context.Context, id string) error {
	return nil
}

type stubRecorder struct{}

func (stubRecorder) ForceStart(ctx context.Context, id models.ULID) error { return nil }
func (stubRecorder) ForceStop(ctx context.Context, id models.ULID) error  { return nil }

func newStreamerAPI(t *testing.T) (humatest.TestAPI, *stubTwitch) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	tw := &stubTwitch{users: map[string]*twitch.User{}}
	svc := service.NewStreamerService(
		repository.NewStreamerRepository(db), tw, stubRecorder{}, nil, nil,
		"https://vodarr.test/api/v1/eventsub/callback", "s3cret")

	_, api := humatest.New(t)
	NewStreamerHandler(svc).Register(api)
	return api, tw
}

func TestAddAndGetStreamerOverHTTP(t *testing.T) {
	api, tw := newStreamerAPI(t)
	tw.users["alice"] = &twitch.User{ID: "123", Login: "alice", DisplayName: "Alice"}

	created := api.Post("/api/v1/streamers", map[string]any{"login": "alice"})
	require.Equal(t, http.StatusOK, created.Code, created.Body.String())
	assert.Contains(t, created.Body.String(), `"twitch_id":"123"`)

	listed := api.Get("/api/v1/streamers")
	require.Equal(t, http.StatusOK, listed.Code)
	assert.Contains(t, listed.Body.String(), `"total":1`)
}

func TestAddUnknownLoginIs404(t *testing.T) {
	api, _ := newStreamerAPI(t)

	resp := api.Post("/api/v1/streamers", map[string]any{"login": "nobody"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetStreamerBadID(t *testing.T) {
	api, _ := newStreamerAPI(t)

	resp := api.Get("/api/v1/streamers/not-a-ulid")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	missing := api.Get("/api/v1/streamers/" + models.NewULID().String())
	assert.Equal(t, http.StatusNotFound, missing.Code)
}
