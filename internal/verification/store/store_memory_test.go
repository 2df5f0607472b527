package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
)

// AGENTS.MD JUSTIFICATION: idempotent upsert by document hash and the
// no-regression rule on VERIFIED are persistence invariants the reconciler
// relies on; duplicate webhook deliveries are hard to stage end to end.
type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
}

func verified(providerSessionID, documentHash string) models.VerificationRecord {
	return models.VerificationRecord{
		ProviderSessionID:       providerSessionID,
		DocumentHash:            documentHash,
		EncryptedDocumentNumber: "v1:cipher",
		Outcome:                 models.OutcomeVerified,
	}
}

func (s *InMemoryStoreSuite) TestUpsertCreatesRecord() {
	rec, err := s.store.Upsert(s.ctx, verified("sess-1", "hash-a"))
	s.Require().NoError(err)
	s.NotEmpty(rec.ID)
	s.Require().NotNil(rec.VerifiedAt)

	found, err := s.store.FindByProviderSessionID(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(rec.ID, found.ID)
}

func (s *InMemoryStoreSuite) TestReverificationUpdatesInPlace() {
	first, err := s.store.Upsert(s.ctx, verified("sess-1", "hash-a"))
	s.Require().NoError(err)
	second, err := s.store.Upsert(s.ctx, verified("sess-2", "hash-a"))
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)
	_, err = s.store.FindByProviderSessionID(s.ctx, "sess-1")
	s.ErrorIs(err, sentinel.ErrNotFound, "old provider session no longer resolves")
	found, err := s.store.FindByProviderSessionID(s.ctx, "sess-2")
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)
}

func (s *InMemoryStoreSuite) TestVerifiedNeverRegresses() {
	_, err := s.store.Upsert(s.ctx, verified("sess-1", "hash-a"))
	s.Require().NoError(err)

	failed := verified("sess-2", "hash-a")
	failed.Outcome = models.OutcomeFailed
	rec, err := s.store.Upsert(s.ctx, failed)
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, rec.Outcome)
}

func (s *InMemoryStoreSuite) TestConcurrentDeliveriesConverge() {
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Upsert(s.ctx, verified("sess-1", "hash-a"))
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Len(s.store.byDocumentHash, 1)
	s.Len(s.store.byProviderSession, 1)
}

func (s *InMemoryStoreSuite) TestUnknownProviderSession() {
	_, err := s.store.FindByProviderSessionID(s.ctx, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
