// Package sim provides a clock-driven simulated audio transport for the CLI
// client. It plays nothing audible; it advances a playhead in real time and
// emits the same events a real player would, which is all the sync engine
// needs.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/tunejam/tunejam/internal/transport"
)

// DefaultTrackDuration is assumed for every source, since the simulator
// never inspects audio bytes.
const DefaultTrackDuration = 240.0

const tickInterval = 500 * time.Millisecond

// Player is a simulated transport.
type Player struct {
	mu       sync.Mutex
	source   string
	duration float64
	playing  bool
	basePos  float64
	baseAt   time.Time

	events chan transport.Event
	cancel context.CancelFunc
}

// New creates a simulated player and starts its clock.
func New() *Player {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		duration: DefaultTrackDuration,
		events:   make(chan transport.Event, 16),
		cancel:   cancel,
	}
	go p.tickLoop(ctx)
	return p
}

func (p *Player) SetSource(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = url
}

func (p *Player) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *Player) Load() {
	p.mu.Lock()
	p.basePos = 0
	p.baseAt = time.Now()
	p.duration = DefaultTrackDuration
	p.mu.Unlock()
	p.send(transport.Event{Type: transport.EventDurationKnown, Duration: DefaultTrackDuration})
}

func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	if !p.playing {
		p.playing = true
		p.baseAt = time.Now()
	}
	p.mu.Unlock()
	p.send(transport.Event{Type: transport.EventPlay})
	return nil
}

func (p *Player) Pause() {
	p.mu.Lock()
	if p.playing {
		p.basePos = p.positionLocked()
		p.playing = false
	}
	p.mu.Unlock()
	p.send(transport.Event{Type: transport.EventPause})
}

func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) SetPosition(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.basePos = pos
	p.baseAt = time.Now()
}

func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Seeking always reports false: simulated seeks are instantaneous.
func (p *Player) Seeking() bool {
	return false
}

func (p *Player) Events() <-chan transport.Event {
	return p.events
}

// Close stops the clock.
func (p *Player) Close() {
	p.cancel()
}

// positionLocked computes the playhead. Must be called with p.mu held.
func (p *Player) positionLocked() float64 {
	if !p.playing {
		return p.basePos
	}
	return p.basePos + time.Since(p.baseAt).Seconds()
}

func (p *Player) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.playing {
				p.mu.Unlock()
				continue
			}
			pos := p.positionLocked()
			ended := p.duration > 0 && pos >= p.duration
			if ended {
				p.basePos = p.duration
				p.playing = false
			}
			p.mu.Unlock()

			if ended {
				p.send(transport.Event{Type: transport.EventEnded})
				continue
			}
			p.send(transport.Event{Type: transport.EventPosition, Position: pos})
		}
	}
}

// send publishes an event without blocking; a full channel drops the event,
// the next tick carries fresher state anyway.
func (p *Player) send(e transport.Event) {
	select {
	case p.events <- e:
	default:
	}
}
