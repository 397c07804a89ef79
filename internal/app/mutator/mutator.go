// Package mutator builds the transactional playlist mutations. Playlist
// edits go through the store's transaction primitive because a lost append
// is not self-healing, unlike transport-field divergence which drift
// correction repairs.
package mutator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/domain/track"
	"github.com/tunejam/tunejam/internal/store"
)

// ErrTrackNotFound is returned by RemoveTrack when the track is not in the
// playlist at transaction time.
var ErrTrackNotFound = errors.New("track not in playlist")

// Mutator builds and runs playlist transactions against one session.
type Mutator struct {
	store store.Store
}

// New creates a playlist mutator.
func New(st store.Store) *Mutator {
	return &Mutator{store: st}
}

// AppendTrack atomically appends a track to the playlist. If and only if
// nothing was playing at transaction read time, the new track also becomes
// the current song, from position zero, playing. Concurrent appenders are
// serialized by the store's conflict retry; only retry-budget exhaustion
// surfaces here, and it is returned, never swallowed.
func (m *Mutator) AppendTrack(ctx context.Context, sessionID string, t track.Track) (track.Track, error) {
	t = t.WithID()

	err := m.store.Transact(ctx, sessionID, func(rec *session.Record) (store.Update, error) {
		u := store.Update{
			Playlist:    append(append([]track.Track(nil), rec.Playlist...), t),
			SetPlaylist: true,
		}
		if rec.CurrentSong == nil {
			playing := true
			zero := 0.0
			u.CurrentSong = &t
			u.CurrentTime = &zero
			u.IsPlaying = &playing
		}
		return u, nil
	})
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "append track %q", t.Title)
	}
	return t, nil
}

// RemoveTrack atomically removes a track by ID. The current song is left
// untouched even when it is the removed track: the ended-track advance
// handles a current song that is no longer in the playlist by wrapping to
// the first entry.
func (m *Mutator) RemoveTrack(ctx context.Context, sessionID, trackID string) error {
	err := m.store.Transact(ctx, sessionID, func(rec *session.Record) (store.Update, error) {
		idx := rec.IndexOf(trackID)
		if idx < 0 {
			return store.Update{}, errors.Wrapf(ErrTrackNotFound, "remove %s", trackID)
		}
		playlist := make([]track.Track, 0, len(rec.Playlist)-1)
		playlist = append(playlist, rec.Playlist[:idx]...)
		playlist = append(playlist, rec.Playlist[idx+1:]...)
		return store.Update{Playlist: playlist, SetPlaylist: true}, nil
	})
	if err != nil {
		return errors.Wrapf(err, "remove track %s", trackID)
	}
	return nil
}
