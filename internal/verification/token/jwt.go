// Package token issues and validates the signed staff session token.
package token

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/secrets"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "tipline"
)

// ErrInvalidToken is the only validation failure callers see; the cause is
// logged at debug.
var ErrInvalidToken = dErrors.New(dErrors.CodeUnauthorized, "invalid token")

// Claims are the session token claims. Subject is the identity hash.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is a signed token and the facts needed to set its cookie.
type Token struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// Service signs HS256 tokens with a key of at least 32 bytes.
type Service struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
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

// NewService fails with secrets.ErrKeyTooShort for keys under 32 bytes.
func NewService(signingKey []byte, issuer string, ttl time.Duration, opts ...Option) (*Service, error) {
	if len(signingKey) < secrets.MinKeyLength {
		return nil, secrets.ErrKeyTooShort
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := make([]byte, len(signingKey))
	copy(key, signingKey)
	s := &Service{
		signingKey: key,
		issuer:     issuer,
		ttl:        ttl,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for subjectHash with the given role.
func (s *Service) Issue(subjectHash, role string) (Token, error) {
	now := s.now()
	jti := uuid.NewString()
	expiresAt := now.Add(s.ttl)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectHash,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}).SignedString(s.signingKey)
	if err != nil {
		return Token{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	return Token{Value: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// Validate checks signature, algorithm, issuer and expiry.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		s.logger.DebugContext(context.Background(), "session token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		s.logger.DebugContext(context.Background(), "session token rejected", "error", "missing subject or jti")
		return nil, ErrInvalidToken
	}
	return claims, nil
}
