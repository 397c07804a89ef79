// Package transport defines the local audio transport consumed by the sync
// engine. The engine never touches audio bytes; it drives whatever plays
// them through this interface and listens to its events.
package transport

import "context"

// EventType represents a transport event type.
type EventType int

const (
	EventPlay          EventType = iota // playback started
	EventPause                          // playback paused
	EventPosition                       // playback position advanced
	EventEnded                          // end of track reached
	EventDurationKnown                  // track duration became available
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventPosition:
		return "position"
	case EventEnded:
		return "ended"
	case EventDurationKnown:
		return "duration_known"
	default:
		return "unknown"
	}
}

// Event represents a transport event.
type Event struct {
	Type     EventType
	Position float64 // seconds, for EventPosition
	Duration float64 // seconds, for EventDurationKnown
}

// Transport is the local audio player surface.
// Play is asynchronous in spirit: it may fail (autoplay policy) and the
// failure is local, never shared state.
type Transport interface {
	// SetSource points the transport at a playable URL.
	SetSource(url string)
	// Source returns the currently loaded URL.
	Source() string
	// Load (re)loads the current source.
	Load()
	// Play starts playback. A failure is surfaced, not fatal.
	Play(ctx context.Context) error
	// Pause pauses playback.
	Pause()
	// Position returns the playback position in seconds.
	Position() float64
	// SetPosition seeks to the given position in seconds.
	SetPosition(pos float64)
	// Duration returns the track duration in seconds, 0 if unknown.
	Duration() float64
	// Seeking reports whether a seek is in flight; drift correction leaves
	// a mid-seek transport alone.
	Seeking() bool
	// Events returns the transport event stream.
	Events() <-chan Event
}
