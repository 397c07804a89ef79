// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"math/rand"
	"time"
)

// Track represents a playable audio unit shared through a session record.
// URL is an opaque playable source; how the bytes are produced (local file,
// remote fetch) is outside the engine.
type Track struct {
	ID        string `json:"id" yaml:"id"`
	Title     string `json:"title" yaml:"title"`
	URL       string `json:"url" yaml:"url"`
	Artist    string `json:"artist,omitempty" yaml:"artist,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
}

// NewID generates a client-side track identifier (timestamp plus random
// suffix). Identifiers are never deduplicated against existing tracks, so
// two adds of the same source produce two distinct playlist entries.
func NewID() string {
	return fmt.Sprintf("%d-%06d", time.Now().UnixMilli(), rand.Intn(1000000))
}

// WithID returns a copy of the track with an ID assigned if it has none.
func (t Track) WithID() Track {
	if t.ID == "" {
		t.ID = NewID()
	}
	return t
}

// Equal reports whether two tracks are the same playlist entry.
// Identity is by ID only; metadata edits do not change identity.
func (t Track) Equal(other Track) bool {
	return t.ID == other.ID
}
