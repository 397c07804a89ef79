// Package store defines the narrow session store interface the sync engine
// consumes. The store is the only shared mutable resource and the only
// source of cross-client ordering: subscribers observe a monotonically
// advancing sequence of full-document snapshots (intermediate writes may be
// collapsed), and Transact is the single conflict-detecting primitive.
package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/domain/track"
)

var (
	// ErrNotFound is returned by point reads and writes against a session
	// that does not exist (never created, or already deleted).
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Transact once the retry budget is
	// exhausted. It is never returned for a conflict that was retried away.
	ErrConflict = errors.New("transaction conflict")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("session store unavailable")
)

// Snapshot is a full-document observation of a session record.
// Exists is false when the record was deleted (or never created); Record is
// nil in that case.
type Snapshot struct {
	Exists bool
	Record *session.Record
}

// Update is a typed partial write, shallow-merged into the record.
// Nil fields are left unchanged. Setting CurrentSong to null is a distinct
// intent from leaving it alone, hence ClearCurrentSong; likewise SetPlaylist
// and SetJoinRequests distinguish a deliberate empty list from "unchanged".
// Removing a users entry is deliberately NOT expressible here; that is the
// separate RemoveUser operation.
type Update struct {
	CurrentSong      *track.Track
	ClearCurrentSong bool
	CurrentTime      *float64
	IsPlaying        *bool
	Playlist         []track.Track
	SetPlaylist      bool
	AllPermissions   *bool
	PutUsers         map[string]string
	JoinRequests     []string
	SetJoinRequests  bool
}

// MergeInto applies the update to a record, shallow, last-value-wins.
// Shared by store implementations.
func (u Update) MergeInto(rec *session.Record) {
	switch {
	case u.ClearCurrentSong:
		rec.CurrentSong = nil
	case u.CurrentSong != nil:
		cs := *u.CurrentSong
		rec.CurrentSong = &cs
	}
	if u.CurrentTime != nil {
		rec.CurrentTime = *u.CurrentTime
	}
	if u.IsPlaying != nil {
		rec.IsPlaying = *u.IsPlaying
	}
	if u.SetPlaylist {
		rec.Playlist = append([]track.Track(nil), u.Playlist...)
	}
	if u.AllPermissions != nil {
		rec.AllPermissions = *u.AllPermissions
	}
	if len(u.PutUsers) > 0 {
		if rec.Users == nil {
			rec.Users = make(map[string]string, len(u.PutUsers))
		}
		for k, v := range u.PutUsers {
			rec.Users[k] = v
		}
	}
	if u.SetJoinRequests {
		rec.JoinRequests = append([]string(nil), u.JoinRequests...)
	}
}

// SnapshotFunc receives every observed snapshot, including the deletion
// tombstone. Implementations collapse intermediate snapshots for slow
// consumers; the latest value always arrives.
type SnapshotFunc func(Snapshot)

// CancelFunc stops a subscription. Idempotent.
type CancelFunc func()

// TransactFunc reads a consistent snapshot of the record and returns the
// writes to apply. It may be invoked multiple times on conflict and must be
// side-effect free apart from its return value.
type TransactFunc func(rec *session.Record) (Update, error)

// Store is the replicated document store consumed by the engine.
type Store interface {
	// Subscribe registers fn for the session's snapshot stream. fn fires
	// once with the current state (including Exists=false for a missing
	// record) and then on every observed change.
	Subscribe(ctx context.Context, id string, fn SnapshotFunc) (CancelFunc, error)

	// Get performs a point read.
	Get(ctx context.Context, id string) (Snapshot, error)

	// Create stores a new record and returns its generated identifier.
	Create(ctx context.Context, rec *session.Record) (string, error)

	// Apply shallow-merges a partial update, last-value-wins. Used for
	// transport fields where divergence is self-correcting.
	Apply(ctx context.Context, id string, u Update) error

	// RemoveUser deletes one entry from the users map.
	RemoveUser(ctx context.Context, id, clientID string) error

	// Transact runs fn against a consistent read of the record and applies
	// its writes atomically, re-invoking fn on write conflict until success
	// or the retry budget is exhausted (ErrConflict).
	Transact(ctx context.Context, id string, fn TransactFunc) error

	// Delete removes the record; subscribers observe Exists=false.
	Delete(ctx context.Context, id string) error
}
