package auth

import (
	"context"
	"log/slog"
	"net/http"

	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/httputil"
	request "tipline/pkg/platform/middleware/request"
	"tipline/pkg/requestcontext"
)

// TokenValidator validates a session token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenRevocationChecker reports whether a token ID was revoked by logout.
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenClaims is the subset of session token claims the middleware needs.
type TokenClaims struct {
	Subject string
	Role    string
	JTI     string
}

func unauthorized(w http.ResponseWriter) {
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
}

// RequireSession authenticates the request from the session token cookie.
// Every rejection returns the same body so callers cannot tell an expired
// token from a forged or revoked one.
func RequireSession(cookieName string, validator TokenValidator, revocations TokenRevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				logger.DebugContext(ctx, "unauthorized access - missing session cookie",
					"request_id", requestID,
				)
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(cookie.Value)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", requestID,
				)
				unauthorized(w)
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsTokenRevoked(ctx, claims.JTI)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
					unauthorized(w)
					return
				}
				if revoked {
					logger.WarnContext(ctx, "unauthorized access - token revoked",
						"request_id", requestID,
					)
					unauthorized(w)
					return
				}
			}

			ctx = requestcontext.WithPrincipal(ctx, claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
