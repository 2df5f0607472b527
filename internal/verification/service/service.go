// Package service orchestrates a visitor's verification session from the
// provider redirect through role resolution and, for staff, the secret-key
// and OTP challenges up to token issuance.
//
// The session value and its transition rules live in models; this package
// loads the session, applies one event, persists the result and records one
// audit event per transition.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tipline/internal/verification/models"
	"tipline/internal/verification/provider"
	"tipline/internal/verification/token"
	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/email"
	"tipline/pkg/platform/audit"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/requestcontext"
	"tipline/pkg/secrets"
)

const DefaultSessionTTL = 30 * time.Minute

// Challenge labels for metrics.
const (
	challengeSecret = "secret"
	challengeOTP    = "otp"
)

// SessionStore persists verification sessions.
type SessionStore interface {
	Create(ctx context.Context, sess models.Session) error
	Get(ctx context.Context, id string) (models.Session, error)
	Update(ctx context.Context, id string, fn func(models.Session) (models.Session, error)) (models.Session, error)
	Delete(ctx context.Context, id string) error
}

// Provider creates hosted verification sessions at the identity provider.
type Provider interface {
	CreateSession(ctx context.Context, vendorData string) (provider.Session, error)
}

// Reconciler waits for the webhook-written record of a provider session.
type Reconciler interface {
	AwaitVerified(ctx context.Context, providerSessionID string) (models.VerificationRecord, error)
}

// StaffDirectory looks staff up by document hash only.
type StaffDirectory interface {
	FindByDocumentHash(ctx context.Context, documentHash string) (models.StaffIdentity, error)
}

// OTPService issues and checks one-time codes.
type OTPService interface {
	Issue(ctx context.Context, destination string) (string, error)
	Verify(ctx context.Context, handle, code string) (bool, error)
	Discard(ctx context.Context, handle string) error
}

// TokenService signs and validates session tokens.
type TokenService interface {
	Issue(subjectHash, role string) (token.Token, error)
	Validate(tokenString string) (*token.Claims, error)
}

type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// DeviceBinder compares the fingerprint stored at start with the current one.
type DeviceBinder interface {
	CompareFingerprints(stored, current string) (matched bool, drift bool)
}

// ContactDecrypter opens the staff contact channel at rest.
type ContactDecrypter interface {
	Decrypt(encoded string) (string, error)
}

// Observer receives flow metrics.
type Observer interface {
	IncVerificationsStarted()
	IncCallbackOutcome(outcome string)
	IncRoleResolved(role string)
	IncChallengeFailure(challenge string)
	IncLockout(challenge string)
	IncTokensIssued()
}

// StartResult is what the browser needs to continue at the provider.
type StartResult struct {
	SessionID   string
	RedirectURL string
}

type Service struct {
	sessions    SessionStore
	provider    Provider
	reconciler  Reconciler
	staff       StaffDirectory
	otp         OTPService
	tokens      TokenService
	revocations RevocationList
	contacts    ContactDecrypter
	device      DeviceBinder
	auditor     *audit.Emitter
	observer    Observer
	logger      *slog.Logger
	sessionTTL  time.Duration
}

// Deps groups the collaborators every Service needs.
type Deps struct {
	Sessions    SessionStore
	Provider    Provider
	Reconciler  Reconciler
	Staff       StaffDirectory
	OTP         OTPService
	Tokens      TokenService
	Revocations RevocationList
	Contacts    ContactDecrypter
}

type Option func(*Service)

func WithAuditor(a *audit.Emitter) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDeviceBinding invalidates sessions whose device fingerprint drifts.
func WithDeviceBinding(d DeviceBinder) Option {
	return func(s *Service) {
		s.device = d
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Provider == nil:
		return nil, errors.New("provider is required")
	case deps.Reconciler == nil:
		return nil, errors.New("reconciler is required")
	case deps.Staff == nil:
		return nil, errors.New("staff directory is required")
	case deps.OTP == nil:
		return nil, errors.New("otp service is required")
	case deps.Tokens == nil:
		return nil, errors.New("token service is required")
	case deps.Revocations == nil:
		return nil, errors.New("revocation list is required")
	case deps.Contacts == nil:
		return nil, errors.New("contact decrypter is required")
	}

	s := &Service{
		sessions:    deps.Sessions,
		provider:    deps.Provider,
		reconciler:  deps.Reconciler,
		staff:       deps.Staff,
		otp:         deps.OTP,
		tokens:      deps.Tokens,
		revocations: deps.Revocations,
		contacts:    deps.Contacts,
		observer:    noopObserver{},
		logger:      slog.Default(),
		sessionTTL:  DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer == nil {
		s.observer = noopObserver{}
	}
	return s, nil
}

// StartVerification opens a provider session. The verification session ID
// travels to the provider as vendor data and comes back on the webhook.
func (s *Service) StartVerification(ctx context.Context) (StartResult, error) {
	now := requestcontext.Now(ctx)
	sess := models.NewSession(uuid.NewString(), now, s.sessionTTL)
	sess.DeviceFingerprintHash = requestcontext.DeviceFingerprint(ctx)

	psess, err := s.provider.CreateSession(ctx, sess.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "provider session creation failed",
			"category", string(provider.GetCategory(err)),
			"error", err,
		)
		s.record(ctx, sess, audit.EventProviderSessionFailed, audit.OutcomeFailure, map[string]string{
			"category": string(provider.GetCategory(err)),
		})
		return StartResult{}, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "verification is unavailable, please try again later")
	}

	sess, err = sess.Apply(models.Event{Kind: models.EventProviderSessionCreated, ProviderSessionID: psess.ID}, now)
	if err != nil {
		return StartResult{}, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return StartResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to start verification")
	}

	s.record(ctx, sess, audit.EventVerificationStarted, audit.OutcomeSuccess, map[string]string{
		"provider_session": secrets.HashIdentifier(psess.ID),
	})
	s.observer.IncVerificationsStarted()
	return StartResult{SessionID: sess.ID, RedirectURL: psess.URL}, nil
}

// CompleteCallback handles the provider redirect. Status values on the
// redirect are never consulted: the outcome comes only from the record the
// authenticated webhook wrote.
func (s *Service) CompleteCallback(ctx context.Context, sessionID, providerSessionID string) (models.Role, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return models.RoleNone, err
	}

	sess, err = s.apply(ctx, sess.ID, models.Event{Kind: models.EventCallbackReceived, ProviderSessionID: providerSessionID})
	if err != nil {
		return models.RoleNone, err
	}
	if sess.State == models.StateFailed {
		s.invalidate(ctx, sess)
		s.observer.IncCallbackOutcome(string(sess.FailureReason))
		return models.RoleNone, sessionInvalid()
	}
	s.record(ctx, sess, audit.EventCallbackReceived, audit.OutcomeSuccess, nil)

	rec, err := s.reconciler.AwaitVerified(ctx, sess.ProviderSessionID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeVerificationNotFound) {
			s.fail(ctx, sess, models.ReasonVerificationNotFound, audit.EventVerificationNotFound)
			s.observer.IncCallbackOutcome(string(models.ReasonVerificationNotFound))
			return models.RoleNone, err
		}
		s.fail(ctx, sess, models.ReasonInternal, audit.EventSessionInvalidated)
		s.observer.IncCallbackOutcome(string(models.ReasonInternal))
		return models.RoleNone, dErrors.Wrap(err, dErrors.CodeInternal, "verification could not be completed, please try again")
	}
	if rec.Outcome != models.OutcomeVerified {
		s.fail(ctx, sess, models.ReasonProviderRejected, audit.EventVerificationRejected)
		s.observer.IncCallbackOutcome(string(models.ReasonProviderRejected))
		return models.RoleNone, dErrors.New(dErrors.CodeVerificationRejected, "verification could not be completed, please try again")
	}

	resolution, err := s.ResolveRole(ctx, rec.DocumentHash)
	if err != nil {
		return models.RoleNone, err
	}

	sess, err = s.apply(ctx, sess.ID, models.Event{
		Kind:         models.EventReconciled,
		DocumentHash: rec.DocumentHash,
		Resolution:   resolution,
	})
	if err != nil {
		return models.RoleNone, err
	}
	if sess.State == models.StateFailed {
		s.invalidate(ctx, sess)
		s.observer.IncCallbackOutcome(string(sess.FailureReason))
		return models.RoleNone, dErrors.New(dErrors.CodeVerificationRejected, "verification could not be completed, please try again")
	}
	s.observer.IncCallbackOutcome("verified")
	s.observer.IncRoleResolved(string(sess.Role))
	s.record(ctx, sess, audit.EventRoleResolved, audit.OutcomeSuccess, nil)

	if sess.IsTerminal() {
		return sess.Role, nil
	}

	sess, err = s.apply(ctx, sess.ID, models.Event{Kind: models.EventSecretChallengeOpened})
	if err != nil {
		return models.RoleNone, err
	}
	s.record(ctx, sess, audit.EventSecretChallengeOpened, audit.OutcomeSuccess, nil)
	return sess.Role, nil
}

// ResolveRole maps a document hash to a role. No staff entry means the
// visitor is an anonymous reporter.
func (s *Service) ResolveRole(ctx context.Context, documentHash string) (models.Resolution, error) {
	identity, err := s.staff.FindByDocumentHash(ctx, documentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Resolution{Role: models.RoleReporter}, nil
		}
		return models.Resolution{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve role")
	}
	return models.Resolution{
		Role:      models.RoleStaff,
		StaffRole: identity.Role,
		StaffID:   identity.ID,
		Disabled:  !identity.Enabled,
	}, nil
}

// ChallengeSecret checks the staff long-term secret. Success issues an OTP to
// the staff member's contact channel. The third failure ends the session.
func (s *Service) ChallengeSecret(ctx context.Context, sessionID, secret string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Role != models.RoleStaff {
		return dErrors.New(dErrors.CodeForbidden, "not permitted")
	}
	if sess.State != models.StateAwaitingSecret {
		return dErrors.New(dErrors.CodeInvalidState, "verification session is not in the expected state")
	}

	identity, err := s.staff.FindByDocumentHash(ctx, sess.DocumentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.fail(ctx, sess, models.ReasonStaffDisabled, audit.EventSessionInvalidated)
			return sessionInvalid()
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check secret")
	}
	if !identity.Enabled {
		s.fail(ctx, sess, models.ReasonStaffDisabled, audit.EventSessionInvalidated)
		return sessionInvalid()
	}

	if err := secrets.Verify(secret, identity.SecretHash); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check secret")
		}
		return s.rejectChallenge(ctx, sess, models.EventSecretRejected, challengeSecret)
	}

	contact, err := s.contactChannel(identity)
	if err != nil {
		s.logger.WarnContext(ctx, "staff contact channel unavailable",
			"staff", secrets.HashIdentifier(identity.ID),
			"error", err,
		)
		s.fail(ctx, sess, models.ReasonNoContactChannel, audit.EventSessionInvalidated)
		return dErrors.New(dErrors.CodeForbidden, "second factor is not available for this account")
	}

	handle, err := s.otp.Issue(ctx, contact)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to send verification code")
	}

	sess, err = s.apply(ctx, sess.ID, models.Event{Kind: models.EventSecretAccepted, OTPHandle: handle})
	if err != nil {
		return err
	}
	s.record(ctx, sess, audit.EventSecretAccepted, audit.OutcomeSuccess, map[string]string{
		"otp_channel": channelOf(contact),
	})
	return nil
}

// ChallengeOTP checks the one-time code. Success authenticates the session.
func (s *Service) ChallengeOTP(ctx context.Context, sessionID, code string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != models.StateAwaitingOTP {
		return dErrors.New(dErrors.CodeInvalidState, "verification session is not in the expected state")
	}

	ok, err := s.otp.Verify(ctx, sess.OTPHandle, code)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check code")
	}
	if !ok {
		return s.rejectChallenge(ctx, sess, models.EventOTPRejected, challengeOTP)
	}

	sess, err = s.apply(ctx, sess.ID, models.Event{Kind: models.EventOTPAccepted})
	if err != nil {
		return err
	}
	s.record(ctx, sess, audit.EventOTPAccepted, audit.OutcomeSuccess, nil)
	return nil
}

// IssueToken mints the session token for an AUTHENTICATED staff session.
func (s *Service) IssueToken(ctx context.Context, sessionID string) (token.Token, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return token.Token{}, err
	}
	if sess.State != models.StateAuthenticated || sess.Role != models.RoleStaff {
		return token.Token{}, dErrors.New(dErrors.CodeInvalidState, "verification session is not in the expected state")
	}

	tok, err := s.tokens.Issue(sess.DocumentHash, string(sess.StaffRole))
	if err != nil {
		return token.Token{}, err
	}
	s.record(ctx, sess, audit.EventTokenIssued, audit.OutcomeSuccess, map[string]string{
		"jti": tok.JTI,
	})
	s.observer.IncTokensIssued()
	return tok, nil
}

// Logout destroys the verification session and revokes the session token
// until it would have expired. Either value may be empty.
func (s *Service) Logout(ctx context.Context, sessionID, tokenValue string) error {
	var sess models.Session
	if sessionID != "" {
		if existing, err := s.sessions.Get(ctx, sessionID); err == nil {
			sess = existing
		}
		if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to log out")
		}
	}

	detail := map[string]string{}
	if tokenValue != "" {
		claims, err := s.tokens.Validate(tokenValue)
		if err == nil {
			ttl := claims.ExpiresAt.Sub(requestcontext.Now(ctx))
			if ttl > 0 {
				if err := s.revocations.RevokeToken(ctx, claims.ID, ttl); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to log out")
				}
				detail["jti"] = claims.ID
			}
			if sess.Role == models.RoleNone {
				sess.Role = models.RoleStaff
				sess.StaffRole = models.StaffRole(claims.Role)
				sess.DocumentHash = claims.Subject
			}
		}
	}
	if sessionID == "" && len(detail) == 0 {
		return nil
	}

	s.record(ctx, sess, audit.EventSessionLoggedOut, audit.OutcomeSuccess, detail)
	return nil
}

// rejectChallenge counts a failed attempt against prev. The attempt that
// exhausts the budget deletes the session and any outstanding OTP challenge.
func (s *Service) rejectChallenge(ctx context.Context, prev models.Session, kind models.EventKind, challenge string) error {
	sess, err := s.apply(ctx, prev.ID, models.Event{Kind: kind})
	if err != nil {
		return err
	}
	s.observer.IncChallengeFailure(challenge)

	attempts := sess.SecretAttempts
	rejected, lockout := audit.EventSecretRejected, audit.EventSecretLockout
	if challenge == challengeOTP {
		attempts = sess.OTPAttempts
		rejected, lockout = audit.EventOTPRejected, audit.EventOTPLockout
	}

	if sess.State == models.StateFailed {
		cleanupCtx := context.WithoutCancel(ctx)
		s.destroy(cleanupCtx, sess.ID)
		if err := s.otp.Discard(cleanupCtx, prev.OTPHandle); err != nil {
			s.logger.WarnContext(ctx, "failed to discard otp challenge after lockout", "error", err)
		}
		s.record(ctx, sess, lockout, audit.OutcomeFailure, map[string]string{
			"attempts": strconv.Itoa(models.MaxChallengeAttempts),
			"reason":   string(sess.FailureReason),
		})
		s.observer.IncLockout(challenge)
		return dErrors.New(dErrors.CodeAttemptsExhausted, "too many failed attempts, please start again")
	}

	s.record(ctx, sess, rejected, audit.OutcomeFailure, map[string]string{
		"attempts": strconv.Itoa(attempts),
	})
	return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
}

// load fetches a live session and enforces device binding. Expired and
// drifted sessions are removed.
func (s *Service) load(ctx context.Context, sessionID string) (models.Session, error) {
	if sessionID == "" {
		return models.Session{}, sessionInvalid()
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		s.record(ctx, models.Session{ID: sessionID}, audit.EventSessionInvalidated, audit.OutcomeFailure, map[string]string{
			"reason": string(models.ReasonExpired),
		})
		return models.Session{}, sessionInvalid()
	case errors.Is(err, sentinel.ErrNotFound):
		return models.Session{}, sessionInvalid()
	case err != nil:
		return models.Session{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification session")
	}

	if sess.State == models.StateFailed {
		return models.Session{}, sessionInvalid()
	}

	if s.device != nil {
		_, drift := s.device.CompareFingerprints(sess.DeviceFingerprintHash, requestcontext.DeviceFingerprint(ctx))
		if drift {
			s.fail(ctx, sess, models.ReasonDeviceMismatch, audit.EventSessionInvalidated)
			return models.Session{}, sessionInvalid()
		}
	}
	return sess, nil
}

// apply runs one transition through the store and extends the idle lifetime.
func (s *Service) apply(ctx context.Context, sessionID string, e models.Event) (models.Session, error) {
	now := requestcontext.Now(ctx)
	sess, err := s.sessions.Update(ctx, sessionID, func(cur models.Session) (models.Session, error) {
		next, err := cur.Apply(e, now)
		if err != nil {
			return cur, err
		}
		return next.Touch(now, s.sessionTTL), nil
	})
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return models.Session{}, err
		}
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			return models.Session{}, sessionInvalid()
		}
		return models.Session{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update verification session")
	}
	return sess, nil
}

// fail moves sess to FAILED, deletes it and records action. The cleanup must
// survive a cancelled request context.
func (s *Service) fail(ctx context.Context, sess models.Session, reason models.FailureReason, action audit.AuditEvent) {
	cleanupCtx := context.WithoutCancel(ctx)
	if failed, err := sess.Apply(models.Event{Kind: models.EventFail, Reason: reason}, requestcontext.Now(ctx)); err == nil {
		sess = failed
	}
	s.destroy(cleanupCtx, sess.ID)
	s.record(cleanupCtx, sess, action, audit.OutcomeFailure, map[string]string{"reason": string(reason)})
}

// invalidate deletes an already FAILED session and records why.
func (s *Service) invalidate(ctx context.Context, sess models.Session) {
	s.destroy(ctx, sess.ID)
	s.record(ctx, sess, audit.EventSessionInvalidated, audit.OutcomeFailure, map[string]string{
		"reason": string(sess.FailureReason),
	})
}

func (s *Service) destroy(ctx context.Context, sessionID string) {
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.ErrorContext(ctx, "failed to delete verification session", "error", err)
	}
}

func (s *Service) contactChannel(identity models.StaffIdentity) (string, error) {
	if identity.EncryptedContactChannel == "" {
		return "", errors.New("no contact channel configured")
	}
	contact, err := s.contacts.Decrypt(identity.EncryptedContactChannel)
	if err != nil {
		return "", err
	}
	if contact == "" {
		return "", errors.New("empty contact channel")
	}
	return contact, nil
}

// record emits the audit event for sess. The session ID is a bearer value,
// so only its hash is used as the correlation ID. The transition has already
// happened, so the event is written even if the caller went away.
func (s *Service) record(ctx context.Context, sess models.Session, action audit.AuditEvent, outcome audit.Outcome, detail map[string]string) {
	event := audit.Event{
		Action:    string(action),
		Outcome:   outcome,
		ActorRole: actorRole(sess),
		Detail:    detail,
	}
	if sess.ID != "" {
		event.CorrelationID = secrets.HashIdentifier(sess.ID)
	}
	if sess.DocumentHash != "" {
		event.ActorID = secrets.HashIdentifier(sess.DocumentHash)
	}
	s.auditor.Record(context.WithoutCancel(ctx), event)
}

func actorRole(sess models.Session) string {
	if sess.Role == models.RoleStaff && sess.StaffRole != "" {
		return string(sess.StaffRole)
	}
	if sess.Role == models.RoleNone {
		return "anonymous"
	}
	return string(sess.Role)
}

func channelOf(destination string) string {
	if email.IsAddress(destination) {
		return "email"
	}
	return "sms"
}

func sessionInvalid() error {
	return dErrors.New(dErrors.CodeSessionInvalid, "verification session is no longer valid, please start again")
}

type noopObserver struct{}

func (noopObserver) IncVerificationsStarted()   {}
func (noopObserver) IncCallbackOutcome(string)  {}
func (noopObserver) IncRoleResolved(string)     {}
func (noopObserver) IncChallengeFailure(string) {}
func (noopObserver) IncLockout(string)          {}
func (noopObserver) IncTokensIssued()           {}
