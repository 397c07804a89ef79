package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunejam/tunejam/internal/transport"
)

func TestPlayer_PositionAdvancesWhilePlaying(t *testing.T) {
	p := New()
	defer p.Close()

	p.SetSource("url-a")
	p.Load()
	require.NoError(t, p.Play(context.Background()))

	time.Sleep(60 * time.Millisecond)
	assert.Greater(t, p.Position(), 0.0)
}

func TestPlayer_PauseFreezesPosition(t *testing.T) {
	p := New()
	defer p.Close()

	p.Load()
	require.NoError(t, p.Play(context.Background()))
	time.Sleep(30 * time.Millisecond)
	p.Pause()

	frozen := p.Position()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, p.Position())
}

func TestPlayer_SetPosition(t *testing.T) {
	p := New()
	defer p.Close()

	p.SetPosition(90.0)
	assert.Equal(t, 90.0, p.Position())
	assert.False(t, p.Seeking(), "simulated seeks are instantaneous")
}

func TestPlayer_LoadResetsPosition(t *testing.T) {
	p := New()
	defer p.Close()

	p.SetPosition(90.0)
	p.Load()
	assert.Equal(t, 0.0, p.Position())
	assert.Equal(t, DefaultTrackDuration, p.Duration())
}

func TestPlayer_EmitsPlayPauseEvents(t *testing.T) {
	p := New()
	defer p.Close()

	require.NoError(t, p.Play(context.Background()))
	p.Pause()

	var types []transport.EventType
	timeout := time.After(time.Second)
	for len(types) < 2 {
		select {
		case ev := <-p.Events():
			if ev.Type == transport.EventPlay || ev.Type == transport.EventPause {
				types = append(types, ev.Type)
			}
		case <-timeout:
			t.Fatal("timed out waiting for play/pause events")
		}
	}
	assert.Equal(t, []transport.EventType{transport.EventPlay, transport.EventPause}, types)
}

func TestPlayer_EmitsEndedAtDuration(t *testing.T) {
	p := New()
	defer p.Close()

	p.Load()
	// Park the playhead just short of the end so the next tick crosses it.
	p.SetPosition(DefaultTrackDuration - 0.1)
	require.NoError(t, p.Play(context.Background()))

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Type == transport.EventEnded {
				assert.False(t, playing(p))
				assert.Equal(t, DefaultTrackDuration, p.Position())
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for ended event")
		}
	}
}

func playing(p *Player) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
