package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/domain/track"
	"github.com/tunejam/tunejam/internal/store"
	"github.com/tunejam/tunejam/internal/store/memory"
	"github.com/tunejam/tunejam/internal/transport/transporttest"
)

const (
	testThreshold = 1.2
	testGrace     = 20 * time.Millisecond
)

type fixture struct {
	st     *memory.Store
	fake   *transporttest.Fake
	engine *Engine
	id     string
}

// newFixture creates a session hosted by host-1, mutates the record, starts
// an engine for clientID against it, and waits for the first snapshot.
func newFixture(t *testing.T, clientID string, mutate func(*session.Record)) *fixture {
	t.Helper()

	st := memory.New()
	t.Cleanup(st.Close)

	rec := session.New("host-1", "Alice")
	rec.Users["guest-1"] = "Bob"
	if mutate != nil {
		mutate(rec)
	}

	id, err := st.Create(context.Background(), rec)
	require.NoError(t, err)

	fake := transporttest.New()
	engine := New(Config{ClientID: clientID, DriftThreshold: testThreshold, EndedGrace: testGrace}, st, fake)
	t.Cleanup(engine.Stop)

	require.NoError(t, engine.Start(context.Background(), id))
	require.Eventually(t, func() bool { return engine.State() == StateSynced }, time.Second, 5*time.Millisecond)

	return &fixture{st: st, fake: fake, engine: engine, id: id}
}

func (f *fixture) record(t *testing.T) *session.Record {
	t.Helper()
	snap, err := f.st.Get(context.Background(), f.id)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	return snap.Record
}

func nextNotice(t *testing.T, e *Engine) Notice {
	t.Helper()
	select {
	case n := <-e.Notices():
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func TestEngine_FirstSnapshotLoadsAndPlays(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", Title: "First", URL: "url-a"}
		rec.Playlist = []track.Track{song}
		rec.CurrentSong = &song
		rec.IsPlaying = true
	})

	assert.Eventually(t, func() bool {
		return f.fake.Source() == "url-a" && f.fake.Loads() == 1 && f.fake.Playing()
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_DriftCorrection(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
		rec.CurrentTime = 100.0
	})

	assert.Eventually(t, func() bool {
		seeks := f.fake.Seeks()
		return len(seeks) == 1 && seeks[0] == 100.0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_DriftBelowThresholdLeftAlone(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
		rec.CurrentTime = 0.8
	})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.fake.Seeks(), "sub-threshold divergence must not re-seek")
}

func TestEngine_DriftCorrectionSkippedWhileSeeking(t *testing.T) {
	st := memory.New()
	t.Cleanup(st.Close)

	song := track.Track{ID: "a", URL: "url-a"}
	rec := session.New("host-1", "Alice")
	rec.CurrentSong = &song
	rec.CurrentTime = 100.0

	id, err := st.Create(context.Background(), rec)
	require.NoError(t, err)

	fake := transporttest.New()
	fake.SetSeeking(true)

	engine := New(Config{ClientID: "guest-1", DriftThreshold: testThreshold, EndedGrace: testGrace}, st, fake)
	t.Cleanup(engine.Stop)
	require.NoError(t, engine.Start(context.Background(), id))
	require.Eventually(t, func() bool { return engine.State() == StateSynced }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fake.Seeks(), "a transport mid-seek must not be corrected")
}

func TestEngine_PlayPauseReconciliation(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
	})
	ctx := context.Background()

	playing := true
	require.NoError(t, f.st.Apply(ctx, f.id, store.Update{IsPlaying: &playing}))
	assert.Eventually(t, func() bool { return f.fake.Playing() }, time.Second, 5*time.Millisecond)

	playing = false
	require.NoError(t, f.st.Apply(ctx, f.id, store.Update{IsPlaying: &playing}))
	assert.Eventually(t, func() bool { return !f.fake.Playing() }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.fake.Pauses(), 1)
}

func TestEngine_PlaybackBlockedNotice(t *testing.T) {
	st := memory.New()
	t.Cleanup(st.Close)

	song := track.Track{ID: "a", URL: "url-a"}
	rec := session.New("host-1", "Alice")
	rec.CurrentSong = &song
	rec.IsPlaying = true

	id, err := st.Create(context.Background(), rec)
	require.NoError(t, err)

	fake := transporttest.New()
	fake.PlayErr = errors.New("autoplay blocked")

	engine := New(Config{ClientID: "guest-1", DriftThreshold: testThreshold, EndedGrace: testGrace}, st, fake)
	t.Cleanup(engine.Stop)
	require.NoError(t, engine.Start(context.Background(), id))

	n := nextNotice(t, engine)
	assert.Equal(t, NoticePlaybackBlocked, n.Type)
	assert.False(t, fake.Playing())

	// The local failure never leaks into the shared record.
	snap, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, snap.Record.IsPlaying)
}

func TestEngine_ControllerPropagatesPosition(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
	})

	f.fake.EmitPosition(30.0)

	assert.Eventually(t, func() bool {
		return f.record(t).CurrentTime == 30.0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_ControllerPositionWithinThresholdNotPropagated(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentTime = 30.0
		rec.CurrentSong = &song
	})

	f.fake.SetLocalPosition(30.0)
	f.fake.EmitPosition(30.5)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 30.0, f.record(t).CurrentTime, "small divergence is not echoed back")
}

func TestEngine_NonControllerNeverWrites(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.Playlist = []track.Track{song, {ID: "b", URL: "url-b"}}
		rec.CurrentSong = &song
	})
	ctx := context.Background()

	f.fake.EmitPosition(50.0)
	f.fake.EmitEnded()

	time.Sleep(50 * time.Millisecond)
	rec := f.record(t)
	assert.Equal(t, 0.0, rec.CurrentTime, "non-controller position events are dropped")
	assert.Equal(t, "a", rec.CurrentSong.ID, "non-controller ended events are dropped")

	// Every rejection is explicit, and none of them touched the store.
	assert.True(t, errors.Is(f.engine.TogglePlayback(ctx), ErrPermissionDenied))
	assert.True(t, errors.Is(f.engine.Seek(ctx, 10), ErrPermissionDenied))
	assert.True(t, errors.Is(f.engine.ChangeTrack(ctx, "b"), ErrPermissionDenied))
	assert.True(t, errors.Is(f.engine.RemoveTrack(ctx, "b"), ErrPermissionDenied))
	assert.True(t, errors.Is(f.engine.SetAllPermissions(ctx, true), ErrPermissionDenied))
	_, err := f.engine.AppendTrack(ctx, track.Track{Title: "New"})
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	after := f.record(t)
	assert.Equal(t, rec.CurrentTime, after.CurrentTime)
	assert.Len(t, after.Playlist, 2)
	assert.False(t, after.AllPermissions)
}

func TestEngine_TrackAdvance(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		wantNextID string
	}{
		{name: "advances to the following entry", current: "a", wantNextID: "b"},
		{name: "wraps from the last entry", current: "c", wantNextID: "a"},
		{name: "dangling current wraps to the first entry", current: "removed", wantNextID: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "host-1", func(rec *session.Record) {
				rec.Playlist = []track.Track{
					{ID: "a", URL: "url-a"},
					{ID: "b", URL: "url-b"},
					{ID: "c", URL: "url-c"},
				}
				rec.CurrentSong = &track.Track{ID: tt.current, URL: "url-" + tt.current}
				rec.CurrentTime = 180.0
				rec.IsPlaying = true
			})

			f.fake.EmitEnded()

			assert.Eventually(t, func() bool {
				rec := f.record(t)
				return rec.CurrentSong.ID == tt.wantNextID && rec.CurrentTime == 0.0 && rec.IsPlaying
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestEngine_PlaybackResumesAfterTrackEnds(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		a := track.Track{ID: "a", URL: "url-a"}
		rec.Playlist = []track.Track{a, {ID: "b", URL: "url-b"}}
		rec.CurrentSong = &a
		rec.IsPlaying = true
	})

	require.Eventually(t, func() bool { return f.fake.Playing() }, time.Second, 5*time.Millisecond)

	// A real transport stops itself at end of track and emits only the
	// ended event, never a pause.
	f.fake.Pause()
	f.fake.EmitEnded()

	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return rec.CurrentSong.ID == "b" && rec.IsPlaying &&
			f.fake.Source() == "url-b" && f.fake.Playing()
	}, time.Second, 5*time.Millisecond, "the advance must restart the self-stopped transport")
}

func TestEngine_GuestTransportResumesAfterTrackEnds(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		a := track.Track{ID: "a", URL: "url-a"}
		rec.Playlist = []track.Track{a, {ID: "b", URL: "url-b"}}
		rec.CurrentSong = &a
		rec.IsPlaying = true
	})
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.fake.Playing() }, time.Second, 5*time.Millisecond)

	// The guest's transport ends locally; the advance arrives from the
	// controller through the store.
	f.fake.Pause()
	f.fake.EmitEnded()
	time.Sleep(50 * time.Millisecond)

	b := track.Track{ID: "b", URL: "url-b"}
	zero := 0.0
	playing := true
	require.NoError(t, f.st.Apply(ctx, f.id, store.Update{CurrentSong: &b, CurrentTime: &zero, IsPlaying: &playing}))

	assert.Eventually(t, func() bool {
		return f.fake.Source() == "url-b" && f.fake.Playing()
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_TrackAdvance_EmptyPlaylistStops(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		rec.CurrentSong = &track.Track{ID: "a", URL: "url-a"}
		rec.IsPlaying = true
		rec.CurrentTime = 180.0
	})

	f.fake.EmitEnded()

	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return !rec.IsPlaying && rec.CurrentTime == 0.0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_TogglePlayback(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
		rec.IsPlaying = true
	})
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.fake.Playing() }, time.Second, 5*time.Millisecond)
	f.fake.SetLocalPosition(33.0)

	// Pause pins the shared position to the local playhead.
	require.NoError(t, f.engine.TogglePlayback(ctx))
	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return !rec.IsPlaying && rec.CurrentTime == 33.0
	}, time.Second, 5*time.Millisecond)

	// Wait for the engine to observe the paused state before resuming.
	require.Eventually(t, func() bool {
		rec := f.engine.Record()
		return rec != nil && !rec.IsPlaying
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.engine.TogglePlayback(ctx))
	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return rec.IsPlaying && rec.CurrentTime == 33.0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SeekAndChangeTrack(t *testing.T) {
	f := newFixture(t, "host-1", func(rec *session.Record) {
		a := track.Track{ID: "a", URL: "url-a"}
		rec.Playlist = []track.Track{a, {ID: "b", URL: "url-b"}}
		rec.CurrentSong = &a
		rec.CurrentTime = 10.0
	})
	ctx := context.Background()

	require.NoError(t, f.engine.Seek(ctx, 90.0))
	assert.Eventually(t, func() bool {
		return f.record(t).CurrentTime == 90.0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.engine.ChangeTrack(ctx, "b"))
	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return rec.CurrentSong.ID == "b" && rec.CurrentTime == 0.0 && rec.IsPlaying
	}, time.Second, 5*time.Millisecond)

	err := f.engine.ChangeTrack(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTrackNotInList))
}

func TestEngine_AppendTrack_BootstrapException(t *testing.T) {
	f := newFixture(t, "guest-1", nil)
	ctx := context.Background()

	// Anyone may seed an empty playlist; the first track starts playback.
	added, err := f.engine.AppendTrack(ctx, track.Track{Title: "Seed", URL: "u1"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec := f.record(t)
		return len(rec.Playlist) == 1 && rec.CurrentSong != nil && rec.CurrentSong.ID == added.ID && rec.IsPlaying
	}, time.Second, 5*time.Millisecond)

	// Once non-empty the same guest is back behind the gate; the bootstrap
	// exception covers appending only, never seek or toggle.
	require.Eventually(t, func() bool {
		rec := f.engine.Record()
		return rec != nil && len(rec.Playlist) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = f.engine.AppendTrack(ctx, track.Track{Title: "Second", URL: "u2"})
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.True(t, errors.Is(f.engine.Seek(ctx, 30.0), ErrPermissionDenied))
	assert.Equal(t, 0.0, f.record(t).CurrentTime, "the rejected seek never reached the store")
}

func TestEngine_HostPauseReachesEveryListener(t *testing.T) {
	st := memory.New()
	t.Cleanup(st.Close)
	ctx := context.Background()

	song := track.Track{ID: "a", URL: "url-a"}
	rec := session.New("host-1", "Alice")
	rec.Users["guest-1"] = "Bob"
	rec.Playlist = []track.Track{song}
	rec.CurrentSong = &song
	rec.IsPlaying = true

	id, err := st.Create(ctx, rec)
	require.NoError(t, err)

	hostFake := transporttest.New()
	host := New(Config{ClientID: "host-1", DriftThreshold: testThreshold, EndedGrace: testGrace}, st, hostFake)
	t.Cleanup(host.Stop)
	require.NoError(t, host.Start(ctx, id))

	guestFake := transporttest.New()
	guest := New(Config{ClientID: "guest-1", DriftThreshold: testThreshold, EndedGrace: testGrace}, st, guestFake)
	t.Cleanup(guest.Stop)
	require.NoError(t, guest.Start(ctx, id))

	require.Eventually(t, func() bool {
		return hostFake.Playing() && guestFake.Playing()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, host.TogglePlayback(ctx))

	assert.Eventually(t, func() bool {
		return !hostFake.Playing() && !guestFake.Playing()
	}, time.Second, 5*time.Millisecond, "one toggle pauses every subscriber's transport")
}

func TestEngine_OpenPermissionsHandsOverControl(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.Playlist = []track.Track{song}
		rec.CurrentSong = &song
		rec.AllPermissions = true
	})
	ctx := context.Background()

	require.NoError(t, f.engine.TogglePlayback(ctx))
	assert.Eventually(t, func() bool {
		return f.record(t).IsPlaying
	}, time.Second, 5*time.Millisecond)

	// Flipping the flag and removing tracks stay host-only.
	err := f.engine.SetAllPermissions(ctx, false)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	err = f.engine.RemoveTrack(ctx, "a")
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.Len(t, f.record(t).Playlist, 1)
}

func TestEngine_SetAllPermissions(t *testing.T) {
	f := newFixture(t, "host-1", nil)
	ctx := context.Background()

	require.NoError(t, f.engine.SetAllPermissions(ctx, true))
	assert.Eventually(t, func() bool {
		return f.record(t).AllPermissions
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SessionEnded(t *testing.T) {
	f := newFixture(t, "guest-1", func(rec *session.Record) {
		song := track.Track{ID: "a", URL: "url-a"}
		rec.CurrentSong = &song
		rec.IsPlaying = true
	})

	require.Eventually(t, func() bool { return f.fake.Playing() }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.st.Delete(context.Background(), f.id))

	first := nextNotice(t, f.engine)
	assert.Equal(t, NoticeSessionEnded, first.Type)
	assert.NotEmpty(t, first.Message)

	second := nextNotice(t, f.engine)
	assert.Equal(t, NoticeReturnHome, second.Type)

	assert.False(t, f.fake.Playing())
	assert.Equal(t, StateSessionEnded, f.engine.State())

	select {
	case <-f.engine.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after session end")
	}
}

func TestEngine_OpsBeforeFirstSnapshot(t *testing.T) {
	st := memory.New()
	t.Cleanup(st.Close)

	engine := New(Config{ClientID: "host-1"}, st, transporttest.New())
	ctx := context.Background()

	assert.True(t, errors.Is(engine.TogglePlayback(ctx), ErrNotSynced))
	_, err := engine.AppendTrack(ctx, track.Track{Title: "x"})
	assert.True(t, errors.Is(err, ErrNotSynced))
}

func TestEngine_DoubleStart(t *testing.T) {
	st := memory.New()
	t.Cleanup(st.Close)

	id, err := st.Create(context.Background(), session.New("host-1", "Alice"))
	require.NoError(t, err)

	engine := New(Config{ClientID: "host-1"}, st, transporttest.New())
	t.Cleanup(engine.Stop)

	require.NoError(t, engine.Start(context.Background(), id))
	assert.Error(t, engine.Start(context.Background(), id))
}
