// Package device binds a verification session to the browser that started it.
//
// The fingerprint is a SHA-256 over coarse User-Agent facts (browser family,
// browser major version, OS, platform, mobile flag). It is not an identifier:
// it only detects a session cookie replayed from a different browser.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"

	"tipline/pkg/secrets"
)

type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ComputeFingerprint returns a hex SHA-256 fingerprint, or "" when binding is
// disabled or the User-Agent is empty.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.enabled || strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")

	parts := []string{
		browser,
		major,
		ua.OS(),
		ua.Platform(),
		fmt.Sprintf("mobile=%t", ua.Mobile()),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether current matches the fingerprint bound
// at session start. An unbound session (stored == "") always matches; a bound
// session seen without a fingerprint is drift.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	if stored == "" {
		return true, false
	}
	if current == "" || !secrets.Equal(stored, current) {
		return false, true
	}
	return true, false
}
