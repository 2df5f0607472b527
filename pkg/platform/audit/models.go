package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers identity decisions with legal significance
	// (verification outcomes, role resolution, credential issuance).
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring:
	// rejected signatures, failed challenges, lockouts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine flow progress.
	CategoryOperations EventCategory = "operations"
)

// Outcome is the result recorded on an event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeIgnored Outcome = "ignored"
)

// Event is one append-only audit record. It never carries raw credentials
// or PII: ActorID and CorrelationID hold hashed or opaque identifiers and
// Detail holds only roles, counters and reason codes.
type Event struct {
	ID            string
	Timestamp     time.Time
	Category      EventCategory
	Action        string
	Outcome       Outcome
	ActorRole     string
	ActorID       string
	CorrelationID string
	RequestID     string
	Detail        map[string]string
}

type AuditEvent string

const (
	EventVerificationStarted   AuditEvent = "verification_started"
	EventProviderSessionFailed AuditEvent = "provider_session_failed"
	EventCallbackReceived      AuditEvent = "callback_received"
	EventVerificationNotFound  AuditEvent = "verification_not_found"
	EventVerificationRejected  AuditEvent = "verification_rejected"
	EventRoleResolved          AuditEvent = "role_resolved"
	EventSecretChallengeOpened AuditEvent = "secret_challenge_opened"
	EventSecretAccepted        AuditEvent = "secret_accepted"
	EventSecretRejected        AuditEvent = "secret_rejected"
	EventSecretLockout         AuditEvent = "secret_lockout"
	EventOTPAccepted           AuditEvent = "otp_accepted"
	EventOTPRejected           AuditEvent = "otp_rejected"
	EventOTPLockout            AuditEvent = "otp_lockout"
	EventTokenIssued           AuditEvent = "token_issued"
	EventSessionInvalidated    AuditEvent = "session_invalidated"
	EventSessionLoggedOut      AuditEvent = "session_logged_out"
	EventWebhookAccepted       AuditEvent = "webhook_accepted"
	EventWebhookRejected       AuditEvent = "webhook_rejected"
	EventWebhookIgnored        AuditEvent = "webhook_ignored"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationRejected: CategoryCompliance,
	EventRoleResolved:         CategoryCompliance,
	EventTokenIssued:          CategoryCompliance,
	EventWebhookAccepted:      CategoryCompliance,

	EventSecretRejected:     CategorySecurity,
	EventSecretLockout:      CategorySecurity,
	EventOTPRejected:        CategorySecurity,
	EventOTPLockout:         CategorySecurity,
	EventSessionInvalidated: CategorySecurity,
	EventWebhookRejected:    CategorySecurity,

	EventVerificationStarted:   CategoryOperations,
	EventProviderSessionFailed: CategoryOperations,
	EventCallbackReceived:      CategoryOperations,
	EventVerificationNotFound:  CategoryOperations,
	EventSecretChallengeOpened: CategoryOperations,
	EventSecretAccepted:        CategoryOperations,
	EventOTPAccepted:           CategoryOperations,
	EventSessionLoggedOut:      CategoryOperations,
	EventWebhookIgnored:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations are append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader is implemented by stores that can be queried back.
type Reader interface {
	ListByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
