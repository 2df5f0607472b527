package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/httputil"
	request "tipline/pkg/platform/middleware/request"
)

// AdminTokenHeader carries the operator token for /metrics.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdminToken guards operational endpoints with a static token. An
// empty expected token leaves the route open, which is how local development
// runs.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	if expectedToken == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(expectedToken)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(AdminTokenHeader)), expected) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger.WarnContext(ctx, "admin token mismatch",
				"request_id", request.GetRequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
		})
	}
}
