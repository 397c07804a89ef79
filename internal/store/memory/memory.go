// Package memory provides an in-process session store. It backs tests and
// the single-machine client mode, and mirrors the semantics the engine
// relies on: push-based snapshot fan-out with collapsing, and optimistic
// transactions retried on version conflict.
package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/store"
)

// DefaultMaxRetries is the transaction retry budget.
const DefaultMaxRetries = 5

type document struct {
	rec     *session.Record
	version uint64
}

type subscriber struct {
	ch       chan store.Snapshot
	done     chan struct{}
	stopOnce sync.Once
}

// push delivers a snapshot, collapsing to the latest value when the
// subscriber is slow. The consumer goroutine always observes the final
// state, which is all the engine requires.
func (s *subscriber) push(snap store.Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Store is an in-memory session store.
type Store struct {
	mu         sync.RWMutex
	docs       map[string]*document
	subs       map[string]map[string]*subscriber
	maxRetries int

	// invoked between a transaction's read and its commit; lets tests
	// inject conflicting writers deterministically
	onTransactAttempt func()
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:       make(map[string]*document),
		subs:       make(map[string]map[string]*subscriber),
		maxRetries: DefaultMaxRetries,
	}
}

// Subscribe registers fn for the session's snapshot stream.
// The subscription is keyed by session id, not record existence: subscribing
// to a missing session fires Exists=false immediately and fires again if the
// record is later created.
func (s *Store) Subscribe(ctx context.Context, id string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	sub := &subscriber{
		ch:   make(chan store.Snapshot, 1),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	subID := uuid.New().String()
	if s.subs[id] == nil {
		s.subs[id] = make(map[string]*subscriber)
	}
	s.subs[id][subID] = sub
	sub.push(s.snapshotLocked(id))
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case snap := <-sub.ch:
				fn(snap)
			}
		}
	}()

	cancel := func() {
		s.mu.Lock()
		if m, ok := s.subs[id]; ok {
			delete(m, subID)
			if len(m) == 0 {
				delete(s.subs, id)
			}
		}
		s.mu.Unlock()
		sub.stop()
	}
	return cancel, nil
}

// Get performs a point read.
func (s *Store) Get(ctx context.Context, id string) (store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(id), nil
}

// Create stores a new record under a generated identifier.
func (s *Store) Create(ctx context.Context, rec *session.Record) (string, error) {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.ID = id
	s.docs[id] = &document{rec: stored, version: 1}
	s.notifyLocked(id)
	return id, nil
}

// Apply shallow-merges a partial update, last-value-wins.
func (s *Store) Apply(ctx context.Context, id string, u store.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "apply %s", id)
	}
	u.MergeInto(doc.rec)
	doc.version++
	s.notifyLocked(id)
	return nil
}

// RemoveUser deletes one entry from the users map.
func (s *Store) RemoveUser(ctx context.Context, id, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "remove user from %s", id)
	}
	delete(doc.rec.Users, clientID)
	doc.version++
	s.notifyLocked(id)
	return nil
}

// Transact runs fn against a consistent read and commits its writes only if
// no other writer advanced the document in between, retrying up to the
// budget.
func (s *Store) Transact(ctx context.Context, id string, fn store.TransactFunc) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.RLock()
		doc, ok := s.docs[id]
		if !ok {
			s.mu.RUnlock()
			return errors.Wrapf(store.ErrNotFound, "transact %s", id)
		}
		readVersion := doc.version
		rec := doc.rec.Clone()
		s.mu.RUnlock()

		u, err := fn(rec)
		if err != nil {
			return err
		}

		if s.onTransactAttempt != nil {
			s.onTransactAttempt()
		}

		s.mu.Lock()
		doc, ok = s.docs[id]
		if !ok {
			s.mu.Unlock()
			return errors.Wrapf(store.ErrNotFound, "transact %s", id)
		}
		if doc.version != readVersion {
			s.mu.Unlock()
			continue
		}
		u.MergeInto(doc.rec)
		doc.version++
		s.notifyLocked(id)
		s.mu.Unlock()
		return nil
	}
	return errors.Wrapf(store.ErrConflict, "transact %s: retry budget exhausted after %d attempts", id, s.maxRetries)
}

// Delete removes the record; subscribers observe Exists=false.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return errors.Wrapf(store.ErrNotFound, "delete %s", id)
	}
	delete(s.docs, id)
	s.notifyLocked(id)
	return nil
}

// Close stops all subscriptions.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.subs {
		for _, sub := range m {
			sub.stop()
		}
	}
	s.subs = make(map[string]map[string]*subscriber)
}

// snapshotLocked builds the current snapshot for a session id.
// Must be called with s.mu held.
func (s *Store) snapshotLocked(id string) store.Snapshot {
	doc, ok := s.docs[id]
	if !ok {
		return store.Snapshot{Exists: false}
	}
	return store.Snapshot{Exists: true, Record: doc.rec.Clone()}
}

// notifyLocked pushes the current snapshot to every subscriber.
// Must be called with s.mu held.
func (s *Store) notifyLocked(id string) {
	snap := s.snapshotLocked(id)
	for _, sub := range s.subs[id] {
		sub.push(snap)
	}
}
