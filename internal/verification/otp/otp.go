// Package otp issues and verifies one-time passcodes for the staff MFA step.
//
// A challenge is created with a random 6-digit code, stored under an opaque
// handle and dispatched out of band. Callers only ever see the handle.
// Verification is single use and locks after MaxFailedAttempts mismatches.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"tipline/pkg/requestcontext"
	"tipline/pkg/secrets"
)

const (
	DefaultTTL        = 5 * time.Minute
	MaxFailedAttempts = 3

	codeMin  = 100000
	codeSpan = 900000
)

// Challenge is a stored OTP. Only the SHA-256 of the code is kept.
type Challenge struct {
	Handle         string    `json:"handle"`
	CodeHash       string    `json:"code_hash"`
	ExpiresAt      time.Time `json:"expires_at"`
	FailedAttempts int       `json:"failed_attempts"`
}

// verdict is what a store must do with a challenge after a verify attempt.
type verdict int

const (
	verdictAccept    verdict = iota // delete, return true
	verdictDelete                   // delete, return false
	verdictIncrement                // increment failures, return false
)

// evaluate applies the verification rules to a stored challenge, in order:
// expired, locked, match, mismatch.
func (c Challenge) evaluate(code string, now time.Time) verdict {
	if !now.Before(c.ExpiresAt) {
		return verdictDelete
	}
	if c.FailedAttempts >= MaxFailedAttempts {
		return verdictDelete
	}
	if secrets.Equal(c.CodeHash, hashCode(code)) {
		return verdictAccept
	}
	return verdictIncrement
}

// Store persists challenges. Verify must apply evaluate atomically per handle.
type Store interface {
	Put(ctx context.Context, c Challenge) error
	Verify(ctx context.Context, handle, code string, now time.Time) (bool, error)
	Delete(ctx context.Context, handle string) error
}

// Sender delivers a code to a destination (email address or phone number).
type Sender interface {
	Send(ctx context.Context, destination, code string) error
}

type Service struct {
	store  Store
	sender Sender
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(store Store, sender Sender, opts ...Option) *Service {
	s := &Service{
		store:  store,
		sender: sender,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a challenge for destination, dispatches the code and returns
// the handle. If dispatch fails the challenge is discarded.
func (s *Service) Issue(ctx context.Context, destination string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	challenge := Challenge{
		Handle:    uuid.NewString(),
		CodeHash:  hashCode(code),
		ExpiresAt: requestcontext.Now(ctx).Add(s.ttl),
	}
	if err := s.store.Put(ctx, challenge); err != nil {
		return "", fmt.Errorf("store otp challenge: %w", err)
	}
	if err := s.sender.Send(ctx, destination, code); err != nil {
		if delErr := s.store.Delete(ctx, challenge.Handle); delErr != nil {
			s.logger.WarnContext(ctx, "failed to discard undelivered otp challenge", "error", delErr)
		}
		return "", fmt.Errorf("dispatch otp: %w", err)
	}
	return challenge.Handle, nil
}

// Verify reports whether code is the live code for handle. Unknown, expired,
// locked and already-consumed handles all return false.
func (s *Service) Verify(ctx context.Context, handle, code string) (bool, error) {
	if handle == "" {
		return false, nil
	}
	return s.store.Verify(ctx, handle, code, requestcontext.Now(ctx))
}

// Discard deletes the challenge behind handle. Unknown handles are not an error.
func (s *Service) Discard(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := s.store.Delete(ctx, handle); err != nil {
		return fmt.Errorf("discard otp challenge: %w", err)
	}
	return nil
}

// GenerateCode returns a uniformly random code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
