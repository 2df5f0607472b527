// Package provider talks to the external biometric-document verification
// provider: outbound session creation and inbound webhook authentication.
package provider

import "context"

// Session is a provider-side verification session.
type Session struct {
	ID  string
	URL string
}

// Provider creates verification sessions. vendorData is an opaque correlator
// echoed back in the webhook; callers pass the verification session id.
type Provider interface {
	CreateSession(ctx context.Context, vendorData string) (Session, error)
}
