package reconciler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/internal/verification/models"
	"tipline/internal/verification/provider"
	"tipline/internal/verification/store"
	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/audit"
	"tipline/pkg/platform/audit/publisher"
	auditmemory "tipline/pkg/platform/audit/store/memory"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/secrets"
)

var webhookSecret = []byte("whsec-test")

// neverPersisting is a record store on which the webhook never lands.
type neverPersisting struct {
	lookups atomic.Int32
}

func (n *neverPersisting) Upsert(context.Context, models.VerificationRecord) (models.VerificationRecord, error) {
	return models.VerificationRecord{}, nil
}

func (n *neverPersisting) FindByProviderSessionID(context.Context, string) (models.VerificationRecord, error) {
	n.lookups.Add(1)
	return models.VerificationRecord{}, sentinel.ErrNotFound
}

// AGENTS.MD JUSTIFICATION: the bounded wait and webhook authentication are
// timing- and signature-sensitive; they are asserted here with a short poll
// budget instead of through the two-minute HTTP path.
type ReconcilerSuite struct {
	suite.Suite
	records    *store.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	hasher     *secrets.DocumentHasher
	rec        *Reconciler
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	var err error
	s.hasher, err = secrets.NewDocumentHasher([]byte(strings.Repeat("h", 32)))
	s.Require().NoError(err)
	cipher, err := secrets.NewFieldCipher([]byte(strings.Repeat("c", 32)))
	s.Require().NoError(err)

	s.records = store.NewInMemoryStore()
	s.auditStore = auditmemory.NewInMemoryStore()
	emitter := audit.NewEmitter(publisher.NewPublisher(s.auditStore), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.rec = New(s.records, s.hasher, cipher, webhookSecret,
		WithPolling(10*time.Millisecond, 5),
		WithAuditor(emitter),
	)
}

func (s *ReconcilerSuite) deliver(body string) (WebhookResult, error) {
	return s.rec.HandleWebhook(context.Background(), []byte(body), provider.Sign(webhookSecret, []byte(body)))
}

func (s *ReconcilerSuite) actions() []string {
	events, err := s.auditStore.ListAll(context.Background())
	s.Require().NoError(err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func (s *ReconcilerSuite) TestApprovedWebhookPersistsVerifiedRecord() {
	result, err := s.deliver(`{"session_id":"sess-1","status":"Approved","vendor_data":"vs-1","decision":{"id_verification":{"document_number":"1712345678"}}}`)
	s.Require().NoError(err)
	s.Equal(WebhookPersisted, result)

	rec, err := s.rec.AwaitVerified(context.Background(), "sess-1")
	s.Require().NoError(err)
	s.Equal(models.OutcomeVerified, rec.Outcome)
	s.Equal(s.hasher.Hash("1712345678"), rec.DocumentHash)
	s.NotContains(rec.EncryptedDocumentNumber, "1712345678")
	s.Contains(s.actions(), string(audit.EventWebhookAccepted))
}

func (s *ReconcilerSuite) TestDuplicateDeliveriesConverge() {
	body := `{"session_id":"sess-1","status":"Approved","document_number":"1712345678"}`
	for range 3 {
		_, err := s.deliver(body)
		s.Require().NoError(err)
	}
	_, err := s.deliver(`{"session_id":"sess-2","status":"Approved","document_number":"171-234-5678"}`)
	s.Require().NoError(err)

	first, err := s.records.FindByProviderSessionID(context.Background(), "sess-2")
	s.Require().NoError(err)
	s.Equal(s.hasher.Hash("1712345678"), first.DocumentHash, "normalized numbers share one record")
}

func (s *ReconcilerSuite) TestBadSignatureRejectedWithoutPersisting() {
	body := []byte(`{"session_id":"sess-1","status":"Approved","document_number":"1712345678"}`)
	_, err := s.rec.HandleWebhook(context.Background(), body, provider.Sign([]byte("wrong"), body))
	s.True(dErrors.HasCode(err, dErrors.CodeSignatureInvalid))

	_, err = s.records.FindByProviderSessionID(context.Background(), "sess-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal([]string{string(audit.EventWebhookRejected)}, s.actions())
}

func (s *ReconcilerSuite) TestNonApprovedStatusIsSilentNoop() {
	for _, status := range []string{"Declined", "In Review", "approved"} {
		result, err := s.deliver(`{"session_id":"sess-1","status":"` + status + `","document_number":"1712345678"}`)
		s.Require().NoError(err)
		s.Equal(WebhookIgnored, result)
	}
	_, err := s.records.FindByProviderSessionID(context.Background(), "sess-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ReconcilerSuite) TestMalformedPayload() {
	_, err := s.deliver(`{"status":"Approved"}`)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ReconcilerSuite) TestAuditDetailCarriesNoDocumentNumber() {
	_, err := s.deliver(`{"session_id":"sess-1","status":"Approved","vendor_data":"vs-1","document_number":"1712345678"}`)
	s.Require().NoError(err)
	events, err := s.auditStore.ListAll(context.Background())
	s.Require().NoError(err)
	for _, e := range events {
		s.NotContains(e.ActorID, "1712345678")
		for _, v := range e.Detail {
			s.NotContains(v, "1712345678")
		}
	}
}

func (s *ReconcilerSuite) TestAwaitFindsRecordWrittenMidWait() {
	go func() {
		time.Sleep(25 * time.Millisecond)
		_, _ = s.deliver(`{"session_id":"sess-late","status":"Approved","document_number":"0901234567"}`)
	}()
	rec, err := s.rec.AwaitVerified(context.Background(), "sess-late")
	s.Require().NoError(err)
	s.Equal("sess-late", rec.ProviderSessionID)
}

func TestAwaitVerifiedRespectsCeiling(t *testing.T) {
	const interval = 20 * time.Millisecond

	tests := []struct {
		name     string
		attempts int
	}{
		{name: "single interval", attempts: 1},
		{name: "several intervals", attempts: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &neverPersisting{}
			r := New(records, nil, nil, webhookSecret, WithPolling(interval, tt.attempts))

			start := time.Now()
			_, err := r.AwaitVerified(context.Background(), "sess-1")
			elapsed := time.Since(start)

			if !dErrors.HasCode(err, dErrors.CodeVerificationNotFound) {
				t.Fatalf("expected verification_not_found, got %v", err)
			}
			budget := interval * time.Duration(tt.attempts)
			if elapsed < budget {
				t.Fatalf("returned after %v, before the full budget %v", elapsed, budget)
			}
			if ceiling := budget + 500*time.Millisecond; elapsed > ceiling {
				t.Fatalf("returned after %v, beyond ceiling %v", elapsed, ceiling)
			}
			if got := records.lookups.Load(); got != int32(tt.attempts+1) {
				t.Fatalf("expected %d lookups, got %d", tt.attempts+1, got)
			}
		})
	}
}

func TestAwaitVerifiedExitsOnCancellation(t *testing.T) {
	r := New(&neverPersisting{}, nil, nil, webhookSecret, WithPolling(time.Second, 60))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.AwaitVerified(ctx, "sess-1")
	if !dErrors.HasCode(err, dErrors.CodeVerificationNotFound) {
		t.Fatalf("expected verification_not_found, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("cancellation not honoured, waited %v", elapsed)
	}
}
