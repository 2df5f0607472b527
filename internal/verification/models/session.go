package models

import (
	"fmt"
	"time"

	dErrors "tipline/pkg/domain-errors"
)

// MaxChallengeAttempts caps failures per challenge step. The secret and OTP
// steps count independently.
const MaxChallengeAttempts = 3

// State is a verification session state.
type State string

const (
	StateUnstarted              State = "UNSTARTED"
	StateAwaitingProvider       State = "AWAITING_PROVIDER"
	StateAwaitingReconciliation State = "AWAITING_RECONCILIATION"
	StateRoleResolved           State = "ROLE_RESOLVED"
	StateAwaitingSecret         State = "AWAITING_SECRET"
	StateAwaitingOTP            State = "AWAITING_OTP"
	StateAuthenticated          State = "AUTHENTICATED"
	StateFailed                 State = "FAILED"
)

// FailureReason is a non-sensitive reason code recorded when a session fails.
type FailureReason string

const (
	ReasonExpired              FailureReason = "expired"
	ReasonProviderRejected     FailureReason = "provider_rejected"
	ReasonVerificationNotFound FailureReason = "verification_not_found"
	ReasonSecretExhausted      FailureReason = "secret_attempts_exhausted"
	ReasonOTPExhausted         FailureReason = "otp_attempts_exhausted"
	ReasonStaffDisabled        FailureReason = "staff_disabled"
	ReasonProviderMismatch     FailureReason = "provider_session_mismatch"
	ReasonDeviceMismatch       FailureReason = "device_mismatch"
	ReasonNoContactChannel     FailureReason = "no_contact_channel"
	ReasonInternal             FailureReason = "internal_error"
)

// Session is the per-visitor verification state. It never holds a raw
// document number, secret or OTP code.
type Session struct {
	ID                    string
	ProviderSessionID     string
	DocumentHash          string
	Role                  Role
	StaffRole             StaffRole
	StaffID               string
	State                 State
	FailureReason         FailureReason
	SecretAttempts        int
	OTPHandle             string
	OTPAttempts           int
	DeviceFingerprintHash string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ExpiresAt             time.Time
}

// NewSession returns an UNSTARTED session.
func NewSession(id string, now time.Time, ttl time.Duration) Session {
	return Session{
		ID:        id,
		State:     StateUnstarted,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s Session) IsTerminal() bool {
	switch s.State {
	case StateFailed, StateAuthenticated:
		return true
	case StateRoleResolved:
		return s.Role == RoleReporter
	default:
		return false
	}
}

func (s Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Touch extends the idle lifetime.
func (s Session) Touch(now time.Time, ttl time.Duration) Session {
	s.ExpiresAt = now.Add(ttl)
	return s
}

// EventKind names a transition input.
type EventKind string

const (
	EventProviderSessionCreated EventKind = "provider_session_created"
	EventCallbackReceived       EventKind = "callback_received"
	EventReconciled             EventKind = "reconciled"
	EventSecretChallengeOpened  EventKind = "secret_challenge_opened"
	EventSecretAccepted         EventKind = "secret_accepted"
	EventSecretRejected         EventKind = "secret_rejected"
	EventOTPAccepted            EventKind = "otp_accepted"
	EventOTPRejected            EventKind = "otp_rejected"
	EventFail                   EventKind = "fail"
)

// Event is a transition input. Only the fields relevant to Kind are read.
type Event struct {
	Kind              EventKind
	ProviderSessionID string
	DocumentHash      string
	Resolution        Resolution
	OTPHandle         string
	Reason            FailureReason
}

// Apply returns the session after applying e at now. It has no side effects;
// the receiver is left untouched. Invalid transitions return CodeInvalidState.
func (s Session) Apply(e Event, now time.Time) (Session, error) {
	next := s
	next.UpdatedAt = now

	if e.Kind == EventFail {
		if s.State == StateFailed {
			return s, invalidTransition(s.State, e.Kind)
		}
		next.State = StateFailed
		next.FailureReason = e.Reason
		next.OTPHandle = ""
		return next, nil
	}

	switch s.State {
	case StateUnstarted:
		if e.Kind != EventProviderSessionCreated || e.ProviderSessionID == "" {
			return s, invalidTransition(s.State, e.Kind)
		}
		next.ProviderSessionID = e.ProviderSessionID
		next.State = StateAwaitingProvider

	case StateAwaitingProvider:
		if e.Kind != EventCallbackReceived {
			return s, invalidTransition(s.State, e.Kind)
		}
		if e.ProviderSessionID != s.ProviderSessionID {
			next.State = StateFailed
			next.FailureReason = ReasonProviderMismatch
			return next, nil
		}
		next.State = StateAwaitingReconciliation

	case StateAwaitingReconciliation:
		if e.Kind != EventReconciled || e.DocumentHash == "" {
			return s, invalidTransition(s.State, e.Kind)
		}
		next.DocumentHash = e.DocumentHash
		switch {
		case e.Resolution.Role == RoleStaff && e.Resolution.Disabled:
			next.State = StateFailed
			next.FailureReason = ReasonStaffDisabled
		case e.Resolution.Role == RoleStaff:
			next.Role = RoleStaff
			next.StaffRole = e.Resolution.StaffRole
			next.StaffID = e.Resolution.StaffID
			next.State = StateRoleResolved
		default:
			next.Role = RoleReporter
			next.State = StateRoleResolved
		}

	case StateRoleResolved:
		if e.Kind != EventSecretChallengeOpened || s.Role != RoleStaff {
			return s, invalidTransition(s.State, e.Kind)
		}
		next.State = StateAwaitingSecret

	case StateAwaitingSecret:
		switch e.Kind {
		case EventSecretAccepted:
			if e.OTPHandle == "" {
				return s, invalidTransition(s.State, e.Kind)
			}
			next.OTPHandle = e.OTPHandle
			next.State = StateAwaitingOTP
		case EventSecretRejected:
			next.SecretAttempts++
			if next.SecretAttempts >= MaxChallengeAttempts {
				next.State = StateFailed
				next.FailureReason = ReasonSecretExhausted
			}
		default:
			return s, invalidTransition(s.State, e.Kind)
		}

	case StateAwaitingOTP:
		switch e.Kind {
		case EventOTPAccepted:
			next.OTPHandle = ""
			next.SecretAttempts = 0
			next.OTPAttempts = 0
			next.State = StateAuthenticated
		case EventOTPRejected:
			next.OTPAttempts++
			if next.OTPAttempts >= MaxChallengeAttempts {
				next.OTPHandle = ""
				next.State = StateFailed
				next.FailureReason = ReasonOTPExhausted
			}
		default:
			return s, invalidTransition(s.State, e.Kind)
		}

	default:
		return s, invalidTransition(s.State, e.Kind)
	}
	return next, nil
}

func invalidTransition(state State, kind EventKind) error {
	return dErrors.Wrap(
		fmt.Errorf("event %s not allowed in state %s", kind, state),
		dErrors.CodeInvalidState,
		"verification session is not in the expected state",
	)
}
