// Package store persists provider verification records keyed by document hash.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
)

// InMemoryStore is the single-instance record store used when no database is
// configured.
type InMemoryStore struct {
	mu                sync.RWMutex
	byDocumentHash    map[string]*models.VerificationRecord
	byProviderSession map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byDocumentHash:    make(map[string]*models.VerificationRecord),
		byProviderSession: make(map[string]string),
	}
}

// Upsert creates the record for incoming.DocumentHash or merges into the
// existing one.
func (s *InMemoryStore) Upsert(ctx context.Context, incoming models.VerificationRecord) (models.VerificationRecord, error) {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byDocumentHash[incoming.DocumentHash]
	if !ok {
		rec := incoming
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if rec.Outcome == models.OutcomeVerified {
			verifiedAt := now
			rec.VerifiedAt = &verifiedAt
		}
		s.byDocumentHash[rec.DocumentHash] = &rec
		s.byProviderSession[rec.ProviderSessionID] = rec.DocumentHash
		return rec, nil
	}

	delete(s.byProviderSession, existing.ProviderSessionID)
	existing.Merge(incoming, now)
	s.byProviderSession[existing.ProviderSessionID] = existing.DocumentHash
	return *existing, nil
}

func (s *InMemoryStore) FindByProviderSessionID(_ context.Context, providerSessionID string) (models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.byProviderSession[providerSessionID]
	if !ok {
		return models.VerificationRecord{}, sentinel.ErrNotFound
	}
	return *s.byDocumentHash[hash], nil
}
