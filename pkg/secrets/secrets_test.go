package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/suite"

	dErrors "tipline/pkg/domain-errors"
)

// SecretsSuite covers the crypto helpers every other package leans on.
// AGENTS.MD JUSTIFICATION: hash determinism, ciphertext integrity and key
// validation are pure function contracts not observable through HTTP tests.
type SecretsSuite struct {
	suite.Suite
	key []byte
}

func TestSecretsSuite(t *testing.T) {
	suite.Run(t, new(SecretsSuite))
}

func (s *SecretsSuite) SetupTest() {
	s.key = bytes.Repeat([]byte{0x42}, 32)
}

func (s *SecretsSuite) TestDocumentHasher() {
	s.Run("rejects short keys", func() {
		_, err := NewDocumentHasher([]byte("short"))
		s.ErrorIs(err, ErrKeyTooShort)
	})

	s.Run("is deterministic and normalizes formatting", func() {
		h, err := NewDocumentHasher(s.key)
		s.Require().NoError(err)

		a := h.Hash("1712345678")
		s.Len(a, 64)
		s.Equal(a, h.Hash("171-234 5678"))
		s.Equal(h.Hash("ab123"), h.Hash("AB123"))
	})

	s.Run("different keys give different hashes", func() {
		h1, _ := NewDocumentHasher(s.key)
		h2, _ := NewDocumentHasher(bytes.Repeat([]byte{0x07}, 32))
		s.NotEqual(h1.Hash("1712345678"), h2.Hash("1712345678"))
	})

	s.Run("never returns the input", func() {
		h, _ := NewDocumentHasher(s.key)
		s.NotContains(h.Hash("1712345678"), "1712345678")
	})
}

func (s *SecretsSuite) TestFieldCipher() {
	c, err := NewFieldCipher(s.key)
	s.Require().NoError(err)

	s.Run("round trips with random nonces", func() {
		ct1, err := c.Encrypt("+15551234567")
		s.Require().NoError(err)
		ct2, err := c.Encrypt("+15551234567")
		s.Require().NoError(err)
		s.NotEqual(ct1, ct2)

		plain, err := c.Decrypt(ct1)
		s.Require().NoError(err)
		s.Equal("+15551234567", plain)
	})

	s.Run("tampered ciphertext fails", func() {
		ct, err := c.Encrypt("analyst@example.org")
		s.Require().NoError(err)
		raw, _ := base64.StdEncoding.DecodeString(ct[3:])
		raw[len(raw)-1] ^= 0xff
		_, err = c.Decrypt("v1:" + base64.StdEncoding.EncodeToString(raw))
		s.ErrorIs(err, ErrDecryptionFailed)
	})

	s.Run("unknown envelope version fails", func() {
		_, err := c.Decrypt("v9:abcd")
		s.ErrorIs(err, ErrDecryptionFailed)
	})

	s.Run("wrong key length is rejected", func() {
		_, err := NewFieldCipher([]byte("too-short"))
		s.Error(err)
	})
}

func (s *SecretsSuite) TestDecodeKey() {
	key, err := DecodeKey(base64.StdEncoding.EncodeToString(s.key))
	s.Require().NoError(err)
	s.Equal(s.key, key)

	_, err = DecodeKey(base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key")))
	s.Error(err)

	_, err = DecodeKey("%%%")
	s.Error(err)
}

func (s *SecretsSuite) TestBcrypt() {
	hash, err := Hash("correct horse battery staple")
	s.Require().NoError(err)

	s.NoError(Verify("correct horse battery staple", hash))
	err = Verify("wrong", hash)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = Hash("")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *SecretsSuite) TestEqual() {
	s.True(Equal("123456", "123456"))
	s.False(Equal("123456", "123457"))
	s.False(Equal("123456", "12345"))
}

type stubKMS struct {
	plaintext []byte
	err       error
	gotKeyID  string
}

func (k *stubKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if in.KeyId != nil {
		k.gotKeyID = *in.KeyId
	}
	if k.err != nil {
		return nil, k.err
	}
	return &kms.DecryptOutput{Plaintext: k.plaintext}, nil
}

func (s *SecretsSuite) TestKMSKeySource() {
	blob := base64.StdEncoding.EncodeToString([]byte("wrapped"))

	s.Run("returns unwrapped key", func() {
		stub := &stubKMS{plaintext: s.key}
		src := newKMSKeySourceWithClient(stub, "alias/tipline-pii")
		key, err := src.DataKey(context.Background(), blob)
		s.Require().NoError(err)
		s.Equal(s.key, key)
		s.Equal("alias/tipline-pii", stub.gotKeyID)
	})

	s.Run("propagates kms errors", func() {
		src := newKMSKeySourceWithClient(&stubKMS{err: errors.New("access denied")}, "")
		_, err := src.DataKey(context.Background(), blob)
		s.ErrorContains(err, "access denied")
	})

	s.Run("rejects wrong size keys", func() {
		src := newKMSKeySourceWithClient(&stubKMS{plaintext: []byte("short")}, "")
		_, err := src.DataKey(context.Background(), blob)
		s.Error(err)
	})
}
