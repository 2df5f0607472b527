package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// MinKeyLength is the minimum length, in bytes, of every symmetric key the
// service loads (token signing, document hashing, PII encryption).
const MinKeyLength = 32

var ErrKeyTooShort = errors.New("key must be at least 32 bytes")

// DocumentHasher derives the one-way lookup hash of a government ID number.
// The hash is keyed so the small ID number space cannot be enumerated from
// a leaked table.
type DocumentHasher struct {
	key []byte
}

func NewDocumentHasher(key []byte) (*DocumentHasher, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &DocumentHasher{key: k}, nil
}

// Hash returns the lowercase hex HMAC-SHA256 of the normalized document number.
// Normalization drops whitespace, dashes and dots and upper-cases letters so
// "171-234 5678" and "1712345678" resolve to the same identity.
func (h *DocumentHasher) Hash(documentNumber string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(NormalizeDocumentNumber(documentNumber)))
	return hex.EncodeToString(mac.Sum(nil))
}

func NormalizeDocumentNumber(documentNumber string) string {
	var b strings.Builder
	b.Grow(len(documentNumber))
	for _, r := range documentNumber {
		switch {
		case unicode.IsSpace(r), r == '-', r == '.':
			continue
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// HashIdentifier hashes an opaque identifier (session ID, challenge handle)
// for audit and log fields. Unkeyed: inputs are already high-entropy.
func HashIdentifier(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
