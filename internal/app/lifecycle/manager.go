// Package lifecycle handles session membership: create, join, rename,
// leave, and host-departure teardown. Leaves triggered by process
// termination are best effort; the process may not survive long enough for
// a retry, so failures are logged and nothing more.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/tunejam/tunejam/internal/app/permission"
	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/store"
)

var (
	// ErrWrongPassword is returned when a private session password does not
	// match.
	ErrWrongPassword = errors.New("wrong session password")
	// ErrNotHost is returned when a non-host manages join requests.
	ErrNotHost = errors.New("only the host can manage join requests")
	// ErrJoinPending is returned when a join request was queued instead of
	// joining directly.
	ErrJoinPending = errors.New("join request pending host approval")
)

// leaveTimeout bounds the best-effort leave on shutdown.
const leaveTimeout = 2 * time.Second

// Manager performs membership operations for one client identity.
type Manager struct {
	store       store.Store
	clientID    string
	displayName string
}

// New creates a lifecycle manager.
func New(st store.Store, clientID, displayName string) *Manager {
	return &Manager{store: st, clientID: clientID, displayName: displayName}
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Private  bool
	Password string // required for private sessions
}

// CreateSession creates a session record with this client as host: empty
// playlist, nothing playing, host as the only user.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (string, error) {
	rec := session.New(m.clientID, m.displayName)
	if opts.Private {
		if opts.Password == "" {
			return "", errors.New("private sessions require a password")
		}
		rec.IsPrivate = true
		rec.PasswordHash = HashPassword(opts.Password)
	}

	id, err := m.store.Create(ctx, rec)
	if err != nil {
		return "", errors.Wrap(err, "create session")
	}
	zlog.Info().Msgf("lifecycle: session created: session=%s host=%s", id, m.clientID)
	return id, nil
}

// EnsureMember upserts this client's users entry whenever the stored display
// name differs from the local one. One idempotent operation covers both
// first join and later renames.
func (m *Manager) EnsureMember(ctx context.Context, sessionID string) error {
	snap, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "read session")
	}
	if !snap.Exists {
		return errors.Wrapf(store.ErrNotFound, "join %s", sessionID)
	}

	if snap.Record.Users[m.clientID] == m.displayName {
		return nil
	}

	err = m.store.Apply(ctx, sessionID, store.Update{
		PutUsers: map[string]string{m.clientID: m.displayName},
	})
	if err != nil {
		return errors.Wrap(err, "upsert membership")
	}
	zlog.Info().Msgf("lifecycle: membership upserted: session=%s client=%s name=%s", sessionID, m.clientID, m.displayName)
	return nil
}

// Rename changes the local display name and pushes it to the record.
func (m *Manager) Rename(ctx context.Context, sessionID, displayName string) error {
	m.displayName = displayName
	return m.EnsureMember(ctx, sessionID)
}

// Join enters a session. Open sessions (and private ones given the correct
// password) add the client to the users map directly. A private session
// without a password queues a join request and returns ErrJoinPending; once
// the host approves, the waiting client's next EnsureMember fills in the
// display name.
func (m *Manager) Join(ctx context.Context, sessionID, password string) error {
	snap, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "read session")
	}
	if !snap.Exists {
		return errors.Wrapf(store.ErrNotFound, "join %s", sessionID)
	}

	rec := snap.Record
	if rec.IsMember(m.clientID) || !rec.IsPrivate {
		return m.EnsureMember(ctx, sessionID)
	}

	if password != "" {
		if HashPassword(password) != rec.PasswordHash {
			return ErrWrongPassword
		}
		return m.EnsureMember(ctx, sessionID)
	}

	// No password offered: queue a request for the host.
	err = m.store.Transact(ctx, sessionID, func(rec *session.Record) (store.Update, error) {
		if rec.HasJoinRequest(m.clientID) {
			return store.Update{JoinRequests: rec.JoinRequests, SetJoinRequests: true}, nil
		}
		return store.Update{
			JoinRequests:    append(append([]string(nil), rec.JoinRequests...), m.clientID),
			SetJoinRequests: true,
		}, nil
	})
	if err != nil {
		return errors.Wrap(err, "queue join request")
	}
	zlog.Info().Msgf("lifecycle: join request queued: session=%s client=%s", sessionID, m.clientID)
	return ErrJoinPending
}

// ApproveJoin moves a pending requester into the users map. Host only. The
// display name starts as a placeholder; the requester's own EnsureMember
// replaces it on their next sync.
func (m *Manager) ApproveJoin(ctx context.Context, sessionID, requesterID string) error {
	return m.resolveJoinRequest(ctx, sessionID, requesterID, true)
}

// DenyJoin drops a pending join request. Host only.
func (m *Manager) DenyJoin(ctx context.Context, sessionID, requesterID string) error {
	return m.resolveJoinRequest(ctx, sessionID, requesterID, false)
}

func (m *Manager) resolveJoinRequest(ctx context.Context, sessionID, requesterID string, approve bool) error {
	err := m.store.Transact(ctx, sessionID, func(rec *session.Record) (store.Update, error) {
		if !permission.CanManageJoinRequests(rec, m.clientID) {
			return store.Update{}, ErrNotHost
		}

		remaining := make([]string, 0, len(rec.JoinRequests))
		found := false
		for _, id := range rec.JoinRequests {
			if id == requesterID {
				found = true
				continue
			}
			remaining = append(remaining, id)
		}
		if !found {
			return store.Update{}, errors.Newf("no pending request from %s", requesterID)
		}

		u := store.Update{JoinRequests: remaining, SetJoinRequests: true}
		if approve {
			u.PutUsers = map[string]string{requesterID: "Guest"}
		}
		return u, nil
	})
	if err != nil {
		return errors.Wrap(err, "resolve join request")
	}
	return nil
}

// Leave exits the session. The host leaving deletes the record outright and
// ends the session for everyone; there is no host hand-off. Anyone else only
// removes their own users entry.
func (m *Manager) Leave(ctx context.Context, sessionID string) error {
	snap, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "read session")
	}
	if !snap.Exists {
		return nil
	}

	if snap.Record.IsHost(m.clientID) {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return errors.Wrap(err, "end session")
		}
		zlog.Info().Msgf("lifecycle: host left, session deleted: session=%s", sessionID)
		return nil
	}

	if err := m.store.RemoveUser(ctx, sessionID, m.clientID); err != nil {
		return errors.Wrap(err, "remove membership")
	}
	zlog.Info().Msgf("lifecycle: left session: session=%s client=%s", sessionID, m.clientID)
	return nil
}

// LeaveBestEffort is the termination-signal path: a bounded attempt whose
// failure is logged only. Delivery is not guaranteed, so a stale users entry
// can leak; subscribers tolerate that.
func (m *Manager) LeaveBestEffort(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := m.Leave(ctx, sessionID); err != nil {
		zlog.Warn().Msgf("lifecycle: best-effort leave failed: session=%s err=%v", sessionID, err)
	}
}

// HashPassword hashes a session password for storage and comparison.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
