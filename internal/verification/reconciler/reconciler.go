// Package reconciler correlates the user-facing provider redirect with the
// authoritative server-to-server webhook.
//
// The webhook path authenticates and persists the provider result. The
// redirect path never trusts its own query values; it waits, bounded, for the
// webhook-written record to appear.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tipline/internal/verification/models"
	"tipline/internal/verification/provider"
	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/audit"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
	"tipline/pkg/secrets"
)

// The provider offers no push signal to the orchestrator, so the callback
// polls. Interval × attempts bounds the worst-case wait at two minutes.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60
)

// WebhookResult describes what an authenticated webhook did.
type WebhookResult string

const (
	WebhookPersisted WebhookResult = "persisted"
	WebhookIgnored   WebhookResult = "ignored"
)

type RecordStore interface {
	Upsert(ctx context.Context, rec models.VerificationRecord) (models.VerificationRecord, error)
	FindByProviderSessionID(ctx context.Context, providerSessionID string) (models.VerificationRecord, error)
}

// Observer receives webhook and wait metrics.
type Observer interface {
	IncWebhook(result string)
	ObserveReconcileWait(d time.Duration)
}

type Reconciler struct {
	records       RecordStore
	hasher        *secrets.DocumentHasher
	cipher        *secrets.FieldCipher
	webhookSecret []byte
	pollInterval  time.Duration
	pollAttempts  int
	auditor       *audit.Emitter
	observer      Observer
	logger        *slog.Logger
}

type Option func(*Reconciler)

func WithPolling(interval time.Duration, attempts int) Option {
	return func(r *Reconciler) {
		if interval > 0 {
			r.pollInterval = interval
		}
		if attempts > 0 {
			r.pollAttempts = attempts
		}
	}
}

func WithAuditor(a *audit.Emitter) Option {
	return func(r *Reconciler) {
		r.auditor = a
	}
}

func WithObserver(o Observer) Option {
	return func(r *Reconciler) {
		r.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(records RecordStore, hasher *secrets.DocumentHasher, cipher *secrets.FieldCipher, webhookSecret []byte, opts ...Option) *Reconciler {
	r := &Reconciler{
		records:       records,
		hasher:        hasher,
		cipher:        cipher,
		webhookSecret: webhookSecret,
		pollInterval:  DefaultPollInterval,
		pollAttempts:  DefaultPollAttempts,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook authenticates body against signature and persists an approved
// result. Non-approved statuses are a silent no-op. The payload is never
// logged.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if err := provider.VerifySignature(r.webhookSecret, body, signature); err != nil {
		r.webhookOutcome(ctx, audit.EventWebhookRejected, audit.OutcomeFailure, "", "signature_invalid")
		return "", dErrors.Wrap(err, dErrors.CodeSignatureInvalid, "invalid signature")
	}

	payload, err := provider.ParseWebhook(body)
	if err != nil {
		r.webhookOutcome(ctx, audit.EventWebhookRejected, audit.OutcomeFailure, "", "malformed_payload")
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed payload")
	}
	if !payload.Approved() {
		r.webhookOutcome(ctx, audit.EventWebhookIgnored, audit.OutcomeIgnored, payload.VendorData, "status_not_approved")
		return WebhookIgnored, nil
	}
	if payload.DocumentNumber == "" {
		r.logger.WarnContext(ctx, "approved webhook without document number",
			"provider_session", secrets.HashIdentifier(payload.SessionID),
		)
		r.webhookOutcome(ctx, audit.EventWebhookIgnored, audit.OutcomeIgnored, payload.VendorData, "document_missing")
		return WebhookIgnored, nil
	}

	encrypted, err := r.cipher.Encrypt(secrets.NormalizeDocumentNumber(payload.DocumentNumber))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification")
	}
	rec, err := r.records.Upsert(ctx, models.VerificationRecord{
		ProviderSessionID:       payload.SessionID,
		DocumentHash:            r.hasher.Hash(payload.DocumentNumber),
		EncryptedDocumentNumber: encrypted,
		Outcome:                 models.OutcomeVerified,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification")
	}

	r.auditor.Record(ctx, audit.Event{
		Action:        string(audit.EventWebhookAccepted),
		Outcome:       audit.OutcomeSuccess,
		ActorID:       secrets.HashIdentifier(rec.DocumentHash),
		CorrelationID: correlationID(payload.VendorData),
		Detail: map[string]string{
			"outcome":          string(rec.Outcome),
			"provider_session": secrets.HashIdentifier(payload.SessionID),
		},
	})
	if r.observer != nil {
		r.observer.IncWebhook(string(WebhookPersisted))
	}
	return WebhookPersisted, nil
}

// AwaitVerified polls for the record written by the webhook for
// providerSessionID. It checks immediately and again after each of
// pollAttempts intervals, so a miss returns no earlier than
// pollAttempts × pollInterval. Context cancellation ends the wait early. Both
// the ceiling and cancellation yield CodeVerificationNotFound.
func (r *Reconciler) AwaitVerified(ctx context.Context, providerSessionID string) (models.VerificationRecord, error) {
	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveReconcileWait(time.Since(start))
		}
	}()

	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for waited := 0; ; waited++ {
		rec, err := r.records.FindByProviderSessionID(ctx, providerSessionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			if ctx.Err() != nil {
				return models.VerificationRecord{}, notFound(ctx.Err())
			}
			return models.VerificationRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "verification lookup failed")
		}
		if waited >= r.pollAttempts {
			return models.VerificationRecord{}, notFound(nil)
		}

		timer.Reset(r.pollInterval)
		select {
		case <-ctx.Done():
			return models.VerificationRecord{}, notFound(ctx.Err())
		case <-timer.C:
		}
	}
}

func notFound(cause error) error {
	if cause == nil {
		return dErrors.New(dErrors.CodeVerificationNotFound, "verification not completed, please try again")
	}
	return dErrors.Wrap(cause, dErrors.CodeVerificationNotFound, "verification not completed, please try again")
}

func (r *Reconciler) webhookOutcome(ctx context.Context, action audit.AuditEvent, outcome audit.Outcome, vendorData, reason string) {
	r.auditor.Record(ctx, audit.Event{
		Action:        string(action),
		Outcome:       outcome,
		CorrelationID: correlationID(vendorData),
		Detail:        map[string]string{"reason": reason},
	})
	if r.observer != nil {
		r.observer.IncWebhook(reason)
	}
	if action == audit.EventWebhookRejected {
		r.logger.WarnContext(ctx, "webhook rejected",
			"reason", reason,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

// correlationID hashes the verification session ID carried in vendor_data.
// The raw value doubles as the visitor's cookie and must not reach the log.
func correlationID(vendorData string) string {
	if vendorData == "" {
		return ""
	}
	return secrets.HashIdentifier(vendorData)
}
