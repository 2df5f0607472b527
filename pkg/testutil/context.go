package testutil

import (
	"net/http"
	"time"

	"tipline/pkg/requestcontext"
)

// WithPrincipal simulates what the session token middleware sets for an
// authenticated staff request.
func WithPrincipal(req *http.Request, subject, role string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), subject, role))
}

// WithClient sets the client metadata the rate limiter and device binding read.
func WithClient(req *http.Request, clientIP, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
