package otp

import (
	"context"
	"sync"
	"time"

	"tipline/pkg/platform/shard"
)

// InMemoryStore holds challenges in lock-striped maps; verifications for
// different handles only contend when they share a stripe.
type InMemoryStore struct {
	shards []*memoryShard
}

type memoryShard struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{shards: make([]*memoryShard, shard.DefaultCount)}
	for i := range s.shards {
		s.shards[i] = &memoryShard{challenges: make(map[string]Challenge)}
	}
	return s
}

func (s *InMemoryStore) shardFor(handle string) *memoryShard {
	return s.shards[shard.Index(handle, len(s.shards))]
}

func (s *InMemoryStore) Put(_ context.Context, c Challenge) error {
	sh := s.shardFor(c.Handle)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.challenges[c.Handle] = c
	return nil
}

func (s *InMemoryStore) Verify(_ context.Context, handle, code string, now time.Time) (bool, error) {
	sh := s.shardFor(handle)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.challenges[handle]
	if !ok {
		return false, nil
	}
	switch c.evaluate(code, now) {
	case verdictAccept:
		delete(sh.challenges, handle)
		return true, nil
	case verdictDelete:
		delete(sh.challenges, handle)
	case verdictIncrement:
		c.FailedAttempts++
		sh.challenges[handle] = c
	}
	return false, nil
}

func (s *InMemoryStore) Delete(_ context.Context, handle string) error {
	sh := s.shardFor(handle)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.challenges, handle)
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for handle, c := range sh.challenges {
			if !now.Before(c.ExpiresAt) {
				delete(sh.challenges, handle)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}
