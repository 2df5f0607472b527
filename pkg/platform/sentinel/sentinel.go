package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped with %w) so services can translate them into domain errors:
//   - ErrNotFound: no session, challenge, record or staff entry under the key
//   - ErrConflict: a concurrent writer won the race (e.g. Redis WATCH abort)
//   - ErrExpired: the session or challenge outlived its lifetime
//   - ErrInvalidState: the session is not in the state the operation needs
//   - ErrUnavailable: a backing service could not be reached
//
// Validation failures belong in pkg/domain-errors, not here.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
