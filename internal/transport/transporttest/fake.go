// Package transporttest provides a scripted transport for engine tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/tunejam/tunejam/internal/transport"
)

// Fake is a controllable in-memory transport. Tests drive it directly and
// observe the calls the engine made.
type Fake struct {
	mu       sync.Mutex
	source   string
	position float64
	duration float64
	playing  bool
	seeking  bool

	// PlayErr, when set, is returned by Play (autoplay-blocked simulation).
	PlayErr error

	loads     int
	playCalls int
	pauses    int
	seeks     []float64

	events chan transport.Event
}

// New creates a fake transport.
func New() *Fake {
	return &Fake{events: make(chan transport.Event, 16)}
}

func (f *Fake) SetSource(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = url
}

func (f *Fake) Source() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.source
}

func (f *Fake) Load() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.position = 0
}

func (f *Fake) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	if f.PlayErr != nil {
		return f.PlayErr
	}
	f.playing = true
	return nil
}

func (f *Fake) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	f.playing = false
}

func (f *Fake) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Fake) SetPosition(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = pos
	f.seeks = append(f.seeks, pos)
}

func (f *Fake) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *Fake) Seeking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seeking
}

func (f *Fake) Events() <-chan transport.Event {
	return f.events
}

// Test controls below.

// SetSeeking marks the transport mid-seek.
func (f *Fake) SetSeeking(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeking = v
}

// SetLocalPosition moves the playhead without recording a seek call.
func (f *Fake) SetLocalPosition(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = pos
}

// EmitPosition publishes a position event at the given playhead.
func (f *Fake) EmitPosition(pos float64) {
	f.SetLocalPosition(pos)
	f.events <- transport.Event{Type: transport.EventPosition, Position: pos}
}

// EmitEnded publishes an end-of-track event.
func (f *Fake) EmitEnded() {
	f.events <- transport.Event{Type: transport.EventEnded}
}

// Playing reports the local play state.
func (f *Fake) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

// Loads returns how many times Load was called.
func (f *Fake) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// PlayCalls returns how many times Play was called.
func (f *Fake) PlayCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playCalls
}

// Pauses returns how many times Pause was called.
func (f *Fake) Pauses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

// Seeks returns every SetPosition argument in order.
func (f *Fake) Seeks() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.seeks...)
}
