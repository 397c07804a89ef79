// Package session provides the shared SessionRecord domain entity.
package session

import (
	"time"

	"github.com/tunejam/tunejam/internal/domain/track"
)

// Record is the single shared document describing a collaborative listening
// session. It is replicated through the session store; every field except ID
// and CreatedAt is concurrently writable by permitted clients.
//
// While the record exists HostID is a member of Users. Transport fields
// (CurrentSong, CurrentTime, IsPlaying) are written last-value-wins by the
// current controller; the playlist is only mutated transactionally.
type Record struct {
	ID             string            `json:"id"`
	HostID         string            `json:"hostId"`
	CurrentSong    *track.Track      `json:"currentSong"`
	CurrentTime    float64           `json:"currentTime"`
	IsPlaying      bool              `json:"isPlaying"`
	Playlist       []track.Track     `json:"playlist"`
	Users          map[string]string `json:"users"`
	AllPermissions bool              `json:"allPermissions"`
	CreatedAt      time.Time         `json:"createdAt"`

	// Private-session gating. Empty PasswordHash means the session is open.
	IsPrivate    bool     `json:"isPrivate,omitempty"`
	PasswordHash string   `json:"passwordHash,omitempty"`
	JoinRequests []string `json:"joinRequests,omitempty"`
}

// New creates a fresh record for a host: empty playlist, nothing playing.
func New(hostID, hostName string) *Record {
	return &Record{
		HostID:    hostID,
		Playlist:  []track.Track{},
		Users:     map[string]string{hostID: hostName},
		CreatedAt: time.Now(),
	}
}

// IndexOf returns the playlist index of the track with the given ID,
// or -1 when it is not present.
func (r *Record) IndexOf(trackID string) int {
	for i, t := range r.Playlist {
		if t.ID == trackID {
			return i
		}
	}
	return -1
}

// NextAfter returns the playlist entry that follows the given track,
// wrapping from the last entry to the first. A current track that is no
// longer in the playlist (index -1) also resolves to the first entry; that
// wrap-to-start is intentional and load-bearing for clients whose current
// song was edited out from under them. Returns false when the playlist is
// empty.
func (r *Record) NextAfter(current *track.Track) (track.Track, bool) {
	if len(r.Playlist) == 0 {
		return track.Track{}, false
	}
	idx := -1
	if current != nil {
		idx = r.IndexOf(current.ID)
	}
	return r.Playlist[(idx+1)%len(r.Playlist)], true
}

// IsHost reports whether the given client created the session.
func (r *Record) IsHost(clientID string) bool {
	return clientID == r.HostID
}

// IsMember reports whether the given client is in the users map.
func (r *Record) IsMember(clientID string) bool {
	_, ok := r.Users[clientID]
	return ok
}

// HasJoinRequest reports whether the client already has a pending request.
func (r *Record) HasJoinRequest(clientID string) bool {
	for _, id := range r.JoinRequests {
		if id == clientID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Handlers receive clones so that a slow handler
// never observes fields mutated by a later write.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.CurrentSong != nil {
		cs := *r.CurrentSong
		out.CurrentSong = &cs
	}
	out.Playlist = make([]track.Track, len(r.Playlist))
	copy(out.Playlist, r.Playlist)
	out.Users = make(map[string]string, len(r.Users))
	for k, v := range r.Users {
		out.Users[k] = v
	}
	if r.JoinRequests != nil {
		out.JoinRequests = make([]string, len(r.JoinRequests))
		copy(out.JoinRequests, r.JoinRequests)
	}
	return &out
}
