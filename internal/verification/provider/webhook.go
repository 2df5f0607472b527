package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	SignatureHeader = "X-Signature"

	// StatusApproved is the only webhook status that produces a record.
	StatusApproved = "Approved"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrMalformedPayload = errors.New("webhook payload malformed")
)

// VerifySignature recomputes HMAC-SHA256(secret, body) and compares it in
// constant time with the hex signature. Any decoding problem is a mismatch.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return ErrSignatureInvalid
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) != sha256.Size {
		return ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the hex signature for body. Used by tests and local tooling
// that replays webhooks.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookPayload is the normalized subset of a provider webhook.
type WebhookPayload struct {
	SessionID      string
	Status         string
	VendorData     string
	DocumentNumber string
}

// Approved reports whether the status is exactly StatusApproved.
func (p WebhookPayload) Approved() bool {
	return p.Status == StatusApproved
}

type documentFields struct {
	DocumentNumber string `json:"document_number"`
}

type rawWebhook struct {
	SessionID      string          `json:"session_id"`
	Status         string          `json:"status"`
	VendorData     string          `json:"vendor_data"`
	DocumentNumber string          `json:"document_number"`
	IDVerification *documentFields `json:"id_verification"`
	KYC            *documentFields `json:"kyc"`
	Decision       *struct {
		IDVerification  *documentFields  `json:"id_verification"`
		IDVerifications []documentFields `json:"id_verifications"`
		KYC             *documentFields  `json:"kyc"`
	} `json:"decision"`
}

// ParseWebhook decodes body and locates the document number. Provider API
// versions place it differently, so the known shapes are probed in order:
// decision.id_verification, decision.id_verifications[0], decision.kyc,
// id_verification, kyc, then a top-level document_number.
func ParseWebhook(body []byte) (WebhookPayload, error) {
	var raw rawWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookPayload{}, ErrMalformedPayload
	}
	if raw.SessionID == "" {
		return WebhookPayload{}, ErrMalformedPayload
	}
	return WebhookPayload{
		SessionID:      raw.SessionID,
		Status:         raw.Status,
		VendorData:     raw.VendorData,
		DocumentNumber: strings.TrimSpace(raw.documentNumber()),
	}, nil
}

func (r rawWebhook) documentNumber() string {
	var candidates []*documentFields
	if d := r.Decision; d != nil {
		candidates = append(candidates, d.IDVerification)
		if len(d.IDVerifications) > 0 {
			candidates = append(candidates, &d.IDVerifications[0])
		}
		candidates = append(candidates, d.KYC)
	}
	candidates = append(candidates, r.IDVerification, r.KYC, &documentFields{DocumentNumber: r.DocumentNumber})

	for _, c := range candidates {
		if c != nil && strings.TrimSpace(c.DocumentNumber) != "" {
			return c.DocumentNumber
		}
	}
	return ""
}
