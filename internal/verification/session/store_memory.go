// Package session stores verification sessions keyed by their opaque id.
package session

import (
	"context"
	"sync"
	"time"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/platform/shard"
	"tipline/pkg/requestcontext"
)

// MutateFunc derives the next session from the current one. Returning an
// error aborts the update and leaves the stored session unchanged.
type MutateFunc = func(models.Session) (models.Session, error)

// InMemoryStore keeps sessions in lock-striped maps. Sessions for different
// visitors only contend when they hash to the same stripe.
type InMemoryStore struct {
	shards []*memoryShard
}

type memoryShard struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func New() *InMemoryStore {
	s := &InMemoryStore{shards: make([]*memoryShard, shard.DefaultCount)}
	for i := range s.shards {
		s.shards[i] = &memoryShard{sessions: make(map[string]models.Session)}
	}
	return s
}

func (s *InMemoryStore) shardFor(id string) *memoryShard {
	return s.shards[shard.Index(id, len(s.shards))]
}

func (s *InMemoryStore) Create(_ context.Context, sess models.Session) error {
	sh := s.shardFor(sess.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[sess.ID]; ok {
		return sentinel.ErrConflict
	}
	sh.sessions[sess.ID] = sess
	return nil
}

// Get returns the session, ErrNotFound, or ErrExpired (the expired session is
// removed).
func (s *InMemoryStore) Get(ctx context.Context, id string) (models.Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.live(id, requestcontext.Now(ctx))
}

// Update applies fn atomically with respect to other updates of the same id.
func (s *InMemoryStore) Update(ctx context.Context, id string, fn MutateFunc) (models.Session, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, err := sh.live(id, requestcontext.Now(ctx))
	if err != nil {
		return models.Session{}, err
	}
	next, err := fn(current)
	if err != nil {
		return models.Session{}, err
	}
	sh.sessions[id] = next
	return next, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
	return nil
}

// DeleteExpired removes every session whose idle lifetime has elapsed.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.IsExpired(now) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// live must be called with sh.mu held.
func (sh *memoryShard) live(id string, now time.Time) (models.Session, error) {
	sess, ok := sh.sessions[id]
	if !ok {
		return models.Session{}, sentinel.ErrNotFound
	}
	if sess.IsExpired(now) {
		delete(sh.sessions, id)
		return models.Session{}, sentinel.ErrExpired
	}
	return sess, nil
}
