package eventsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/testutil"
)

type recordedInput struct {
	kind     string
	streamer *models.Streamer
	event    EventPayload
}

type fakeLifecycle struct {
	mu     sync.Mutex
	inputs []recordedInput
}

func (f *fakeLifecycle) record(kind string, s *models.Streamer, ev EventPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, recordedInput{kind: kind, streamer: s, event: ev})
}

func (f *fakeLifecycle) Online(s *models.Streamer, ev EventPayload)  { f.record("online", s, ev) }
func (f *fakeLifecycle) Offline(s *models.Streamer, ev EventPayload) { f.record("offline", s, ev) }
func (f *fakeLifecycle) Update(s *models.Streamer, ev EventPayload)  { f.record("update", s, ev) }

func (f *fakeLifecycle) recorded() []recordedInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedInput(nil), f.inputs...)
}

func setupDispatcher(t *testing.T) (*Dispatcher, *fakeLifecycle, *models.Streamer) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	streamer := testutil.CreateStreamer(t, db, "alice")
	streamer.TwitchID = "111"
	require.NoError(t, db.Save(streamer).Error)

	lc := &fakeLifecycle{}
	d := NewDispatcher(NewDeduplicator(), repository.NewStreamerRepository(db), lc, nil)
	return d, lc, streamer
}

func TestDispatchTranslatesByType(t *testing.T) {
	d, lc, streamer := setupDispatcher(t)
	ctx := context.Background()

	online := EventPayload{
		ID:                "s42",
		BroadcasterUserID: "111",
		StartedAt:         time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	d.Dispatch(ctx, "m1", TypeStreamOnline, online)
	d.Dispatch(ctx, "m2", TypeStreamOffline, EventPayload{BroadcasterUserID: "111"})
	d.Dispatch(ctx, "m3", TypeChannelUpdate, EventPayload{BroadcasterUserID: "111", Title: "new title"})

	inputs := lc.recorded()
	require.Len(t, inputs, 3)
	assert.Equal(t, "online", inputs[0].kind)
	assert.Equal(t, streamer.ID, inputs[0].streamer.ID)
	assert.Equal(t, "s42", inputs[0].event.ID)
	assert.Equal(t, "offline", inputs[1].kind)
	assert.Equal(t, "update", inputs[2].kind)
	assert.Equal(t, "new title", inputs[2].event.Title)
}

func TestDispatchDropsDuplicates(t *testing.T) {
	d, lc, _ := setupDispatcher(t)
	ctx := context.Background()

	ev := EventPayload{ID: "s42", BroadcasterUserID: "111"}
	d.Dispatch(ctx, "m1", TypeStreamOnline, ev)
	d.Dispatch(ctx, "m1", TypeStreamOnline, ev)

	assert.Len(t, lc.recorded(), 1)
}

func TestDispatchDropsUnknownBroadcaster(t *testing.T) {
	d, lc, _ := setupDispatcher(t)

	d.Dispatch(context.Background(), "m1", TypeStreamOnline, EventPayload{BroadcasterUserID: "999"})
	assert.Empty(t, lc.recorded())
}

func TestDispatchIgnoresUnknownType(t *testing.T) {
	d, lc, _ := setupDispatcher(t)

	d.Dispatch(context.Background(), "m1", "channel.follow", EventPayload{BroadcasterUserID: "111"})
	assert.Empty(t, lc.recorded())
}
