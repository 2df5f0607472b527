package token

import (
	"context"

	authmw "tipline/pkg/platform/middleware/auth"
)

// MiddlewareAdapter exposes Service and a RevocationList through the
// interfaces the session middleware consumes.
type MiddlewareAdapter struct {
	service     *Service
	revocations RevocationList
}

func NewMiddlewareAdapter(service *Service, revocations RevocationList) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service, revocations: revocations}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*authmw.TokenClaims, error) {
	claims, err := a.service.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.TokenClaims{
		Subject: claims.Subject,
		Role:    claims.Role,
		JTI:     claims.ID,
	}, nil
}

func (a *MiddlewareAdapter) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return a.revocations.IsRevoked(ctx, jti)
}
