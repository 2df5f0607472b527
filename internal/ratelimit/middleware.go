package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/httputil"
	"tipline/pkg/platform/privacy"
	"tipline/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Observer is notified of rejected requests.
type Observer interface {
	IncRateLimited(route string)
}

type Middleware struct {
	limiter  Limiter
	logger   *slog.Logger
	observer Observer
}

func NewMiddleware(limiter Limiter, logger *slog.Logger, observer Observer) *Middleware {
	return &Middleware{limiter: limiter, logger: logger, observer: observer}
}

// PerClient limits requests per client IP for the named route. Limiter
// errors fail open: throttling protects capacity, it is not a security gate.
func (m *Middleware) PerClient(route string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Allow(ctx, route+":"+ip, limit, window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"ip_prefix", privacy.AnonymizeIP(ip),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if m.observer != nil {
					m.observer.IncRateLimited(route)
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"route", route,
					"ip_prefix", privacy.AnonymizeIP(ip),
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
