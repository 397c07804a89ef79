package syncengine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/tunejam/tunejam/internal/app/mutator"
	"github.com/tunejam/tunejam/internal/app/permission"
	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/domain/track"
	"github.com/tunejam/tunejam/internal/store"
	"github.com/tunejam/tunejam/internal/transport"
)

// Errors
var (
	ErrPermissionDenied = errors.New("you do not have playback control")
	ErrNotSynced        = errors.New("no session snapshot received yet")
	ErrTrackNotInList   = errors.New("track not in playlist")
)

// Config holds engine configuration.
type Config struct {
	ClientID       string
	DriftThreshold float64       // seconds; divergence below it is left alone
	EndedGrace     time.Duration // delay between farewell notice and return-home
}

// DefaultDriftThreshold leaves sub-second divergence uncorrected to avoid
// audible stutter from constant re-seeking.
const DefaultDriftThreshold = 1.2

// DefaultEndedGrace is the delay between the farewell notice and routing the
// user out of the session view.
const DefaultEndedGrace = 3 * time.Second

// Engine is the client-side sync state machine. One engine serves one client
// in one session: it subscribes to the session record, drives the local
// transport to match each snapshot, and writes permitted mutations back.
//
// All store interaction is asynchronous relative to local playback; the run
// loop is single-threaded and never blocks on a write.
type Engine struct {
	mu sync.RWMutex

	cfg       Config
	store     store.Store
	transport transport.Transport
	mutator   *mutator.Mutator

	sessionID string
	state     State
	// latest record snapshot; handlers always receive a clone taken at
	// dispatch time, never a live reference
	lastRecord   *session.Record
	localPlaying bool

	snapCh    chan store.Snapshot
	notices   chan Notice
	cancelSub store.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sync engine for one client.
func New(cfg Config, st store.Store, tr transport.Transport) *Engine {
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = DefaultDriftThreshold
	}
	if cfg.EndedGrace <= 0 {
		cfg.EndedGrace = DefaultEndedGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		store:     st,
		transport: tr,
		mutator:   mutator.New(st),
		state:     StateDisconnected,
		snapCh:    make(chan store.Snapshot, 1),
		notices:   make(chan Notice, 10),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Notices returns the user-facing notice stream.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// State returns the current sync state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Record returns a clone of the latest session snapshot, or nil before the
// first one arrives.
func (e *Engine) Record() *session.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRecord.Clone()
}

// Done is closed when the run loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start subscribes to the session and begins reconciling. A session that
// does not exist yet is not an error here; the subscription fires
// Exists=false and the engine routes the user home.
func (e *Engine) Start(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.sessionID = sessionID
	e.state = StateSyncing
	e.mu.Unlock()

	cancelSub, err := e.store.Subscribe(ctx, sessionID, func(snap store.Snapshot) {
		// Collapse to the latest snapshot; the run loop only needs the
		// newest full document.
		for {
			select {
			case e.snapCh <- snap:
				return
			default:
				select {
				case <-e.snapCh:
				default:
				}
			}
		}
	})
	if err != nil {
		e.mu.Lock()
		e.state = StateDisconnected
		e.mu.Unlock()
		return errors.Wrap(err, "subscribe to session")
	}

	e.mu.Lock()
	e.cancelSub = cancelSub
	e.mu.Unlock()

	go e.runLoop()
	return nil
}

// Stop cancels the subscription and terminates the run loop. In-flight
// writes are not cancelled; they complete or fail on their own.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancelSub != nil {
		e.cancelSub()
		e.cancelSub = nil
	}
	e.mu.Unlock()
	e.cancel()
}

// runLoop is the single event-driven loop: store snapshots in, transport
// events out, nothing blocking in between.
func (e *Engine) runLoop() {
	defer close(e.done)

	for {
		select {
		case <-e.ctx.Done():
			return
		case snap := <-e.snapCh:
			if ended := e.applySnapshot(snap); ended {
				return
			}
		case ev, ok := <-e.transport.Events():
			if !ok {
				return
			}
			e.handleTransportEvent(ev)
		}
	}
}

// applySnapshot reconciles the local transport against one inbound snapshot.
// Returns true when the session ended and the loop should exit.
func (e *Engine) applySnapshot(snap store.Snapshot) bool {
	if !snap.Exists {
		e.onSessionEnded()
		return true
	}

	rec := snap.Record

	e.mu.Lock()
	e.lastRecord = rec.Clone()
	if e.state == StateSyncing {
		e.state = StateSynced
		zlog.Info().Msgf("sync: first snapshot applied: session=%s users=%d", rec.ID, len(rec.Users))
	}
	localPlaying := e.localPlaying
	e.mu.Unlock()

	// Source change comes first: drift against the wrong track is
	// meaningless.
	if rec.CurrentSong != nil && rec.CurrentSong.URL != e.transport.Source() {
		zlog.Debug().Msgf("sync: loading new source: track=%s", rec.CurrentSong.Title)
		e.transport.SetSource(rec.CurrentSong.URL)
		e.transport.Load()
	}

	if rec.CurrentSong != nil {
		e.correctDrift(rec.CurrentTime)
	}

	switch {
	case rec.CurrentSong == nil && localPlaying:
		e.transport.Pause()
		e.setLocalPlaying(false)
	case rec.IsPlaying && !localPlaying:
		if err := e.transport.Play(e.ctx); err != nil {
			// Local-only failure (autoplay policy and the like); shared
			// state stays untouched.
			zlog.Warn().Msgf("sync: transport play blocked: %v", err)
			e.notify(Notice{Type: NoticePlaybackBlocked, Message: "Press play to join the stream."})
		} else {
			e.setLocalPlaying(true)
		}
	case !rec.IsPlaying && localPlaying:
		e.transport.Pause()
		e.setLocalPlaying(false)
	}

	return false
}

// correctDrift forces the local position onto the record when the gap
// exceeds the threshold. Smaller gaps are left alone; constant re-seeking
// stutters audibly.
func (e *Engine) correctDrift(remote float64) {
	drift := math.Abs(e.transport.Position() - remote)
	if drift <= e.cfg.DriftThreshold || e.transport.Seeking() {
		return
	}

	e.mu.Lock()
	prev := e.state
	e.state = StateCorrecting
	e.mu.Unlock()

	zlog.Debug().Msgf("sync: correcting drift: local=%.2f remote=%.2f drift=%.2f", e.transport.Position(), remote, drift)
	e.transport.SetPosition(remote)

	e.mu.Lock()
	if e.state == StateCorrecting {
		e.state = prev
	}
	e.mu.Unlock()
}

// onSessionEnded handles record deletion observed on the live subscription:
// stop the transport, say goodbye, and after the grace delay route the user
// back to where they came from.
func (e *Engine) onSessionEnded() {
	e.mu.Lock()
	e.state = StateSessionEnded
	if e.cancelSub != nil {
		e.cancelSub()
		e.cancelSub = nil
	}
	grace := e.cfg.EndedGrace
	e.mu.Unlock()

	e.transport.Pause()
	e.setLocalPlaying(false)

	zlog.Info().Msgf("sync: session ended: session=%s", e.sessionID)
	e.notify(Notice{Type: NoticeSessionEnded, Message: "The session has ended. Thanks for listening!"})

	time.AfterFunc(grace, func() {
		e.notify(Notice{Type: NoticeReturnHome})
	})
}

// handleTransportEvent propagates local transport activity back to the
// store. Only the controller writes, and position writes are rate-limited to
// drift above threshold so reconciliation and propagation cannot feed back
// into each other.
func (e *Engine) handleTransportEvent(ev transport.Event) {
	rec := e.Record()
	if rec == nil {
		return
	}

	switch ev.Type {
	case transport.EventPosition:
		if !permission.CanControl(rec, e.cfg.ClientID) {
			return
		}
		if math.Abs(ev.Position-rec.CurrentTime) <= e.cfg.DriftThreshold {
			return
		}
		pos := ev.Position
		e.applyAsync(store.Update{CurrentTime: &pos}, "propagate position")

	case transport.EventEnded:
		// The transport stops itself at end of track without a pause event;
		// the cached play state must follow or the next snapshot's
		// IsPlaying=true looks like a no-op and playback never resumes.
		e.setLocalPlaying(false)
		if !permission.CanControl(rec, e.cfg.ClientID) {
			return
		}
		e.advanceTrack(rec)

	case transport.EventPlay:
		e.setLocalPlaying(true)
	case transport.EventPause:
		e.setLocalPlaying(false)
	}
}

// advanceTrack writes the next-track state after end of track: the entry
// after the current song, wrapping, and wrapping to the first entry when the
// current song is no longer in the playlist at all. An empty playlist stops
// playback at position zero.
func (e *Engine) advanceTrack(rec *session.Record) {
	zero := 0.0
	next, ok := rec.NextAfter(rec.CurrentSong)
	if !ok {
		stopped := false
		e.applyAsync(store.Update{IsPlaying: &stopped, CurrentTime: &zero}, "stop after empty playlist")
		return
	}

	playing := true
	zlog.Info().Msgf("sync: advancing to next track: track=%s", next.Title)
	e.applyAsync(store.Update{CurrentSong: &next, CurrentTime: &zero, IsPlaying: &playing}, "advance track")
}

// TogglePlayback flips the shared playing flag. Pausing also pins the shared
// position to the local playhead so late joiners resume from the right spot.
func (e *Engine) TogglePlayback(ctx context.Context) error {
	rec, err := e.controlledRecord()
	if err != nil {
		return err
	}

	playing := !rec.IsPlaying
	u := store.Update{IsPlaying: &playing}
	if !playing {
		pos := e.transport.Position()
		u.CurrentTime = &pos
	}
	if err := e.store.Apply(ctx, e.sessionID, u); err != nil {
		return errors.Wrap(err, "toggle playback")
	}
	return nil
}

// Seek writes a new shared position.
func (e *Engine) Seek(ctx context.Context, pos float64) error {
	if _, err := e.controlledRecord(); err != nil {
		return err
	}
	if err := e.store.Apply(ctx, e.sessionID, store.Update{CurrentTime: &pos}); err != nil {
		return errors.Wrap(err, "seek")
	}
	return nil
}

// ChangeTrack makes a playlist entry the shared current song, from the top,
// playing.
func (e *Engine) ChangeTrack(ctx context.Context, trackID string) error {
	rec, err := e.controlledRecord()
	if err != nil {
		return err
	}

	idx := rec.IndexOf(trackID)
	if idx < 0 {
		return errors.Wrapf(ErrTrackNotInList, "change to %s", trackID)
	}

	t := rec.Playlist[idx]
	zero := 0.0
	playing := true
	u := store.Update{CurrentSong: &t, CurrentTime: &zero, IsPlaying: &playing}
	if err := e.store.Apply(ctx, e.sessionID, u); err != nil {
		return errors.Wrap(err, "change track")
	}
	return nil
}

// AppendTrack adds a track to the shared playlist. Anyone may add the first
// track to an empty playlist; after that, control is required.
func (e *Engine) AppendTrack(ctx context.Context, t track.Track) (track.Track, error) {
	rec, err := e.snapshotRecord()
	if err != nil {
		return track.Track{}, err
	}
	if !permission.CanAppendTrack(rec, e.cfg.ClientID) {
		return track.Track{}, errors.Wrap(ErrPermissionDenied, "append track")
	}
	return e.mutator.AppendTrack(ctx, e.sessionID, t)
}

// RemoveTrack removes a playlist entry. Host only.
func (e *Engine) RemoveTrack(ctx context.Context, trackID string) error {
	rec, err := e.snapshotRecord()
	if err != nil {
		return err
	}
	if !permission.CanRemoveTrack(rec, e.cfg.ClientID) {
		return errors.Wrap(ErrPermissionDenied, "remove track")
	}
	return e.mutator.RemoveTrack(ctx, e.sessionID, trackID)
}

// SetAllPermissions opens or closes playback control for everyone.
// Host only.
func (e *Engine) SetAllPermissions(ctx context.Context, open bool) error {
	rec, err := e.snapshotRecord()
	if err != nil {
		return err
	}
	if !permission.CanOpenPermissions(rec, e.cfg.ClientID) {
		return errors.Wrap(ErrPermissionDenied, "set permissions")
	}
	if err := e.store.Apply(ctx, e.sessionID, store.Update{AllPermissions: &open}); err != nil {
		return errors.Wrap(err, "set permissions")
	}
	return nil
}

// snapshotRecord returns the latest record clone, or ErrNotSynced.
func (e *Engine) snapshotRecord() (*session.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastRecord == nil {
		return nil, ErrNotSynced
	}
	return e.lastRecord.Clone(), nil
}

// controlledRecord returns the latest record clone after verifying the
// caller holds playback control. A denial produces zero store writes.
func (e *Engine) controlledRecord() (*session.Record, error) {
	rec, err := e.snapshotRecord()
	if err != nil {
		return nil, err
	}
	if !permission.CanControl(rec, e.cfg.ClientID) {
		return nil, ErrPermissionDenied
	}
	return rec, nil
}

// applyAsync fires a last-value-wins write without blocking the run loop.
// Failures are logged, never retried: transport fields are self-correcting.
func (e *Engine) applyAsync(u store.Update, what string) {
	go func() {
		if err := e.store.Apply(e.ctx, e.sessionID, u); err != nil {
			zlog.Warn().Msgf("sync: %s failed: %v", what, err)
		}
	}()
}

func (e *Engine) setLocalPlaying(v bool) {
	e.mu.Lock()
	e.localPlaying = v
	e.mu.Unlock()
}

// notify sends a notice without blocking.
func (e *Engine) notify(n Notice) {
	select {
	case e.notices <- n:
	default:
	}
}
