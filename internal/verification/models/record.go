package models

import "time"

// Outcome is the provider verification outcome stored on a record.
type Outcome string

const (
	OutcomePending  Outcome = "PENDING"
	OutcomeVerified Outcome = "VERIFIED"
	OutcomeFailed   Outcome = "FAILED"
)

// VerificationRecord is the persisted result of a provider webhook. It holds
// the document number only as a keyed hash plus a field-encrypted copy.
type VerificationRecord struct {
	ID                      string
	ProviderSessionID       string
	DocumentHash            string
	EncryptedDocumentNumber string
	Outcome                 Outcome
	CreatedAt               time.Time
	UpdatedAt               time.Time
	VerifiedAt              *time.Time
}

// Merge applies an incoming webhook result onto an existing record for the
// same document hash. A VERIFIED outcome never regresses.
func (r *VerificationRecord) Merge(incoming VerificationRecord, now time.Time) {
	r.ProviderSessionID = incoming.ProviderSessionID
	if incoming.EncryptedDocumentNumber != "" {
		r.EncryptedDocumentNumber = incoming.EncryptedDocumentNumber
	}
	r.UpdatedAt = now
	if r.Outcome == OutcomeVerified && incoming.Outcome != OutcomeVerified {
		return
	}
	r.Outcome = incoming.Outcome
	if incoming.Outcome == OutcomeVerified {
		verifiedAt := now
		r.VerifiedAt = &verifiedAt
	}
}

// StaffIdentity is a read-only staff directory entry, reachable only by
// document hash.
type StaffIdentity struct {
	ID                      string
	DocumentHash            string
	Role                    StaffRole
	SecretHash              string
	EncryptedContactChannel string
	Enabled                 bool
}
