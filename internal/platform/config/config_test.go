package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite covers startup validation.
// AGENTS.MD JUSTIFICATION: fail-fast configuration is a process startup
// contract; no HTTP-level test can observe a server that refused to start.
type ConfigSuite struct {
	suite.Suite
	env map[string]string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) SetupTest() {
	s.env = map[string]string{
		"TOKEN_SIGNING_KEY":       strings.Repeat("k", 32),
		"DOCUMENT_HASH_KEY":       strings.Repeat("d", 32),
		"PII_ENCRYPTION_KEY":      base64.StdEncoding.EncodeToString([]byte(strings.Repeat("p", 32))),
		"PROVIDER_BASE_URL":       "https://verification.example.com/",
		"PROVIDER_API_KEY":        "api-key",
		"PROVIDER_WORKFLOW_ID":    "wf-1",
		"PROVIDER_CALLBACK_URL":   "https://tipline.example.org/auth/verification/callback",
		"PROVIDER_RETURN_URL":     "https://tipline.example.org/verify/done",
		"PROVIDER_WEBHOOK_SECRET": "whsec",
	}
}

func (s *ConfigSuite) load() (*Config, error) {
	return FromEnv(func(k string) string { return s.env[k] })
}

func (s *ConfigSuite) requireProblem(err error, fragment string) {
	var cfgErr *ConfigurationError
	s.Require().True(errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	s.Contains(cfgErr.Error(), fragment)
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := s.load()
	s.Require().NoError(err)

	s.Equal(DefaultAddr, cfg.Server.Addr)
	s.Equal(24*time.Hour, cfg.Token.TTL)
	s.Equal(2*time.Second, cfg.Provider.PollInterval)
	s.Equal(60, cfg.Provider.PollAttempts)
	s.Equal(5*time.Minute, cfg.OTP.TTL)
	s.Equal("https://verification.example.com", cfg.Provider.BaseURL)
	s.Equal("https://tipline.example.org/verify/done", cfg.Provider.ReturnURL)
	s.Len(cfg.Crypto.PIIKey, 32)
	s.False(cfg.Server.CookieSecure)
}

func (s *ConfigSuite) TestSigningKey() {
	s.Run("missing key fails fast", func() {
		delete(s.env, "TOKEN_SIGNING_KEY")
		_, err := s.load()
		s.requireProblem(err, "TOKEN_SIGNING_KEY is required")
	})

	s.Run("short key fails fast without echoing it", func() {
		s.SetupTest()
		s.env["TOKEN_SIGNING_KEY"] = "short-secret-value"
		_, err := s.load()
		s.requireProblem(err, "at least 32 bytes")
		s.NotContains(err.Error(), "short-secret-value")
	})
}

func (s *ConfigSuite) TestPIIKeySources() {
	s.Run("neither source configured", func() {
		s.SetupTest()
		delete(s.env, "PII_ENCRYPTION_KEY")
		_, err := s.load()
		s.requireProblem(err, "PII_ENCRYPTION_KEY or PII_KMS_CIPHERTEXT")
	})

	s.Run("both sources configured", func() {
		s.SetupTest()
		s.env["PII_KMS_CIPHERTEXT"] = "AQID"
		s.env["AWS_REGION"] = "eu-west-1"
		_, err := s.load()
		s.requireProblem(err, "mutually exclusive")
	})

	s.Run("kms requires a region", func() {
		s.SetupTest()
		delete(s.env, "PII_ENCRYPTION_KEY")
		s.env["PII_KMS_CIPHERTEXT"] = "AQID"
		_, err := s.load()
		s.requireProblem(err, "AWS_REGION")
	})
}

func (s *ConfigSuite) TestReturnURLIsRequired() {
	s.Run("missing", func() {
		delete(s.env, "PROVIDER_RETURN_URL")
		_, err := s.load()
		s.requireProblem(err, "PROVIDER_RETURN_URL is required")
	})

	s.Run("relative", func() {
		s.SetupTest()
		s.env["PROVIDER_RETURN_URL"] = "/verify/done"
		_, err := s.load()
		s.requireProblem(err, "PROVIDER_RETURN_URL must be an absolute URL")
	})
}

func (s *ConfigSuite) TestInvalidValuesAreCollected() {
	s.env["TOKEN_TTL"] = "forever"
	s.env["POLL_ATTEMPTS"] = "many"
	s.env["PROVIDER_BASE_URL"] = "not a url"

	_, err := s.load()
	var cfgErr *ConfigurationError
	s.Require().True(errors.As(err, &cfgErr))
	s.GreaterOrEqual(len(cfgErr.Problems), 3)
}

func (s *ConfigSuite) TestProductionDefaultsSecureCookies() {
	s.env["ENVIRONMENT"] = "production"
	cfg, err := s.load()
	s.Require().NoError(err)
	s.True(cfg.Server.CookieSecure)
}
