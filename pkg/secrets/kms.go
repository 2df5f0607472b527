package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// kmsAPI is the subset of the KMS client used to unwrap data keys.
type kmsAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSKeySource unwraps an envelope-encrypted PII data key at startup so the
// plaintext key never sits in the environment.
type KMSKeySource struct {
	client kmsAPI
	keyID  string
}

// NewKMSKeySource loads the default AWS configuration for region.
func NewKMSKeySource(ctx context.Context, region, keyID string) (*KMSKeySource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &KMSKeySource{client: kms.NewFromConfig(cfg), keyID: keyID}, nil
}

func newKMSKeySourceWithClient(client kmsAPI, keyID string) *KMSKeySource {
	return &KMSKeySource{client: client, keyID: keyID}
}

// DataKey decrypts the base64 ciphertext blob and returns the 32 byte key.
func (s *KMSKeySource) DataKey(ctx context.Context, ciphertextB64 string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	in := &kms.DecryptInput{CiphertextBlob: blob}
	if s.keyID != "" {
		in.KeyId = aws.String(s.keyID)
	}
	out, err := s.client.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	if len(out.Plaintext) != 32 {
		return nil, fmt.Errorf("unwrapped key must be 32 bytes, got %d", len(out.Plaintext))
	}
	return out.Plaintext, nil
}
