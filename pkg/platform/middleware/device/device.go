package device

import (
	"net/http"

	"tipline/pkg/requestcontext"
)

// Fingerprinter derives a stable device fingerprint from a User-Agent.
type Fingerprinter interface {
	ComputeFingerprint(userAgent string) string
}

// Fingerprint computes the device fingerprint once per request and stores it
// on the context. Must run after metadata.ClientMetadata.
func Fingerprint(fp Fingerprinter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if fingerprint := fp.ComputeFingerprint(requestcontext.UserAgent(ctx)); fingerprint != "" {
				ctx = requestcontext.WithDeviceFingerprint(ctx, fingerprint)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
