package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tunejam/tunejam/internal/domain/track"
)

func TestNew(t *testing.T) {
	rec := New("host-1", "Alice")

	assert.Equal(t, "host-1", rec.HostID)
	assert.Empty(t, rec.Playlist)
	assert.Nil(t, rec.CurrentSong)
	assert.False(t, rec.IsPlaying)
	assert.Equal(t, map[string]string{"host-1": "Alice"}, rec.Users)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestIndexOf(t *testing.T) {
	rec := &Record{Playlist: []track.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	assert.Equal(t, 0, rec.IndexOf("a"))
	assert.Equal(t, 2, rec.IndexOf("c"))
	assert.Equal(t, -1, rec.IndexOf("missing"))
}

func TestNextAfter(t *testing.T) {
	playlist := []track.Track{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		name     string
		playlist []track.Track
		current  *track.Track
		wantID   string
		wantOK   bool
	}{
		{
			name:     "middle entry advances to the next",
			playlist: playlist,
			current:  &track.Track{ID: "a"},
			wantID:   "b",
			wantOK:   true,
		},
		{
			name:     "last entry wraps to the first",
			playlist: playlist,
			current:  &track.Track{ID: "c"},
			wantID:   "a",
			wantOK:   true,
		},
		{
			name:     "current no longer in playlist wraps to the first",
			playlist: playlist,
			current:  &track.Track{ID: "removed"},
			wantID:   "a",
			wantOK:   true,
		},
		{
			name:     "nil current starts from the first",
			playlist: playlist,
			current:  nil,
			wantID:   "a",
			wantOK:   true,
		},
		{
			name:     "empty playlist has no next",
			playlist: nil,
			current:  &track.Track{ID: "a"},
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{Playlist: tt.playlist}
			next, ok := rec.NextAfter(tt.current)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, next.ID)
			}
		})
	}
}

func TestMembership(t *testing.T) {
	rec := &Record{
		HostID:       "host-1",
		Users:        map[string]string{"host-1": "Alice", "guest-1": "Bob"},
		JoinRequests: []string{"pending-1"},
	}

	assert.True(t, rec.IsHost("host-1"))
	assert.False(t, rec.IsHost("guest-1"))
	assert.True(t, rec.IsMember("guest-1"))
	assert.False(t, rec.IsMember("stranger"))
	assert.True(t, rec.HasJoinRequest("pending-1"))
	assert.False(t, rec.HasJoinRequest("guest-1"))
}

func TestClone_DeepCopy(t *testing.T) {
	rec := &Record{
		ID:           "s1",
		HostID:       "host-1",
		CurrentSong:  &track.Track{ID: "a", Title: "Original"},
		Playlist:     []track.Track{{ID: "a"}, {ID: "b"}},
		Users:        map[string]string{"host-1": "Alice"},
		JoinRequests: []string{"pending-1"},
	}

	clone := rec.Clone()
	clone.CurrentSong.Title = "Edited"
	clone.Playlist[0].ID = "mutated"
	clone.Users["guest-1"] = "Bob"
	clone.JoinRequests[0] = "mutated"

	assert.Equal(t, "Original", rec.CurrentSong.Title)
	assert.Equal(t, "a", rec.Playlist[0].ID)
	assert.NotContains(t, rec.Users, "guest-1")
	assert.Equal(t, "pending-1", rec.JoinRequests[0])
}

func TestClone_Nil(t *testing.T) {
	var rec *Record
	assert.Nil(t, rec.Clone())
}
