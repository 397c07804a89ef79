// Package redis provides a Redis-backed session store. The record is one
// JSON document per session key; Transact maps onto WATCH/MULTI optimistic
// transactions, and the push-based subscription maps onto a pub/sub channel
// per session carrying full-document snapshots (deletion as a tombstone).
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/tunejam/tunejam/internal/domain/session"
	"github.com/tunejam/tunejam/internal/store"
)

const (
	keyPrefix     = "tunejam:session:"
	channelSuffix = ":updates"

	// DefaultMaxRetries is the WATCH transaction retry budget.
	DefaultMaxRetries = 5
)

// Config holds Redis connection settings.
type Config struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// document is the stored JSON value. Rev advances by one on every write
// under WATCH, so published snapshots are totally ordered per session.
type document struct {
	Rev    int64           `json:"rev"`
	Record *session.Record `json:"record"`
}

// envelope is the pub/sub wire format: a full snapshot or a tombstone.
type envelope struct {
	Exists bool            `json:"exists"`
	Rev    int64           `json:"rev,omitempty"`
	Record *session.Record `json:"record,omitempty"`
}

// newerThan reports whether the envelope should be forwarded after rev has
// already been delivered. A publish racing the subscriber's initial read can
// arrive behind a newer state; its revision exposes it as stale. Tombstones
// are terminal and always pass.
func (e envelope) newerThan(rev int64) bool {
	return !e.Exists || e.Rev > rev
}

// Store is a Redis-backed session store.
type Store struct {
	client     *redis.Client
	maxRetries int
}

// NewFromSettings builds a store from untyped config settings
// (store.settings in the YAML config).
func NewFromSettings(ctx context.Context, settings map[string]any) (*Store, error) {
	var cfg Config
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode redis store settings")
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis store requires addr")
	}
	return New(ctx, cfg)
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrapf(store.ErrUnavailable, "ping %s: %v", cfg.Addr, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Store{client: client, maxRetries: maxRetries}, nil
}

// Subscribe streams snapshots over the session's pub/sub channel.
// The current state is read and delivered first; a session created after the
// subscription still reaches the subscriber through its creation publish.
// Publishes that raced the initial read are dropped by revision so the
// delivered sequence never steps backwards.
func (s *Store) Subscribe(ctx context.Context, id string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	pubsub := s.client.Subscribe(ctx, keyPrefix+id+channelSuffix)
	// Force the subscription to be established before the initial read so
	// no write can fall between them unobserved.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrapf(store.ErrUnavailable, "subscribe %s: %v", id, err)
	}

	doc, exists, err := s.getDocument(ctx, id)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	var lastRev int64
	if exists {
		lastRev = doc.Rev
		fn(store.Snapshot{Exists: true, Record: doc.Record})
	} else {
		fn(store.Snapshot{Exists: false})
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				zlog.Warn().Msgf("store: dropping malformed snapshot payload: session=%s err=%v", id, err)
				continue
			}
			if !env.newerThan(lastRev) {
				continue
			}
			lastRev = env.Rev
			fn(store.Snapshot{Exists: env.Exists, Record: env.Record})
		}
	}()

	cancel := func() {
		_ = pubsub.Close()
	}
	return cancel, nil
}

// Get performs a point read.
func (s *Store) Get(ctx context.Context, id string) (store.Snapshot, error) {
	doc, exists, err := s.getDocument(ctx, id)
	if err != nil {
		return store.Snapshot{}, err
	}
	if !exists {
		return store.Snapshot{Exists: false}, nil
	}
	return store.Snapshot{Exists: true, Record: doc.Record}, nil
}

// Create stores a new record under a generated identifier.
func (s *Store) Create(ctx context.Context, rec *session.Record) (string, error) {
	id := uuid.New().String()
	stored := rec.Clone()
	stored.ID = id
	doc := document{Rev: 1, Record: stored}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "encode record")
	}
	pub, err := json.Marshal(envelope{Exists: true, Rev: doc.Rev, Record: stored})
	if err != nil {
		return "", errors.Wrap(err, "encode snapshot")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+id, data, 0)
	pipe.Publish(ctx, keyPrefix+id+channelSuffix, pub)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errors.Wrapf(err, "create %s", id)
	}
	return id, nil
}

// Apply shallow-merges a partial update. Redis has no server-side merge for
// JSON values, so the merge is a WATCH read-modify-write; a concurrent
// writer only costs a silent retry, which keeps the last-value-wins
// semantics the transport fields rely on.
func (s *Store) Apply(ctx context.Context, id string, u store.Update) error {
	return s.watchModify(ctx, id, func(rec *session.Record) error {
		u.MergeInto(rec)
		return nil
	})
}

// RemoveUser deletes one entry from the users map.
func (s *Store) RemoveUser(ctx context.Context, id, clientID string) error {
	return s.watchModify(ctx, id, func(rec *session.Record) error {
		delete(rec.Users, clientID)
		return nil
	})
}

// Transact runs fn under WATCH, retrying on conflict up to the budget.
func (s *Store) Transact(ctx context.Context, id string, fn store.TransactFunc) error {
	return s.watchModify(ctx, id, func(rec *session.Record) error {
		u, err := fn(rec.Clone())
		if err != nil {
			return err
		}
		u.MergeInto(rec)
		return nil
	})
}

// Delete removes the record and publishes the tombstone.
func (s *Store) Delete(ctx context.Context, id string) error {
	pub, err := json.Marshal(envelope{Exists: false})
	if err != nil {
		return errors.Wrap(err, "encode tombstone")
	}

	deleted, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return errors.Wrapf(err, "delete %s", id)
	}
	if deleted == 0 {
		return errors.Wrapf(store.ErrNotFound, "delete %s", id)
	}
	if err := s.client.Publish(ctx, keyPrefix+id+channelSuffix, pub).Err(); err != nil {
		return errors.Wrapf(err, "publish tombstone %s", id)
	}
	return nil
}

// Close releases the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// getDocument reads and decodes the stored document.
func (s *Store) getDocument(ctx context.Context, id string) (document, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return document{}, false, nil
	}
	if err != nil {
		return document{}, false, errors.Wrapf(err, "get %s", id)
	}
	doc, err := decode(data)
	if err != nil {
		return document{}, false, err
	}
	return doc, true, nil
}

// watchModify performs an optimistic read-modify-write of the session
// document, retrying on WATCH conflicts until the budget is exhausted.
func (s *Store) watchModify(ctx context.Context, id string, modify func(*session.Record) error) error {
	key := keyPrefix + id

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errors.Wrapf(store.ErrNotFound, "modify %s", id)
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", id)
		}

		doc, err := decode(data)
		if err != nil {
			return err
		}
		if err := modify(doc.Record); err != nil {
			return err
		}
		doc.Rev++

		out, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, "encode record")
		}
		pub, err := json.Marshal(envelope{Exists: true, Rev: doc.Rev, Record: doc.Record})
		if err != nil {
			return errors.Wrap(err, "encode snapshot")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			pipe.Publish(ctx, key+channelSuffix, pub)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Wrapf(store.ErrConflict, "modify %s: retry budget exhausted after %d attempts", id, s.maxRetries)
}

func decode(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, errors.Wrap(err, "decode record")
	}
	if doc.Record == nil {
		return document{}, errors.New("decode record: missing body")
	}
	return doc, nil
}
