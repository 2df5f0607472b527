// Package config builds the single validated Config the server is wired from.
// Nothing outside this package reads the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tipline/pkg/secrets"
)

const (
	DefaultAddr            = ":8080"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultTokenIssuer     = "tipline"
	DefaultSessionTTL      = 30 * time.Minute
	DefaultOTPTTL          = 5 * time.Minute
	DefaultProviderTimeout = 10 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultPollAttempts    = 60
	DefaultAuditTopic      = "tipline.audit"
	DefaultAuditBuffer     = 1024
)

// ConfigurationError lists every invalid or missing setting found at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

type Config struct {
	Environment string
	Server      ServerConfig
	Log         LogConfig
	Token       TokenConfig
	Provider    ProviderConfig
	Crypto      CryptoConfig
	Session     SessionConfig
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Audit       AuditConfig
}

// Server captures HTTP server level configuration.
type ServerConfig struct {
	Addr               string
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
	TrustProxy         bool
	CORSAllowedOrigins []string
	CookieSecure       bool
	AdminToken         string
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

type TokenConfig struct {
	SigningKey []byte
	TTL        time.Duration
	Issuer     string
}

type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	WorkflowID    string
	CallbackURL   string
	ReturnURL     string
	WebhookSecret []byte
	Timeout       time.Duration
	PollInterval  time.Duration
	PollAttempts  int
}

// CryptoConfig holds key material. Exactly one of PIIKey or PIIKMSCiphertext is set.
type CryptoConfig struct {
	DocumentHashKey  []byte
	PIIKey           []byte
	PIIKMSCiphertext string
	KMSKeyID         string
	AWSRegion        string
}

type SessionConfig struct {
	TTL time.Duration
}

type OTPConfig struct {
	TTL          time.Duration
	SMSEnabled   bool
	SMSSenderID  string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type RateLimitConfig struct {
	StartPerMinute   int
	WebhookPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

type AuditConfig struct {
	BufferSize int
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf(".env: %v", err)}}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := &parser{getenv: getenv}

	cfg := &Config{
		Environment: p.str("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Addr:               p.str("TIPLINE_ADDR", DefaultAddr),
			ReadHeaderTimeout:  p.duration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:    p.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustProxy:         p.boolean("TRUST_PROXY", false),
			CORSAllowedOrigins: p.list("CORS_ALLOWED_ORIGINS"),
			AdminToken:         p.str("METRICS_ADMIN_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  p.level("LOG_LEVEL", slog.LevelInfo),
			Format: p.str("LOG_FORMAT", "json"),
		},
		Token: TokenConfig{
			SigningKey: p.key("TOKEN_SIGNING_KEY"),
			TTL:        p.duration("TOKEN_TTL", DefaultTokenTTL),
			Issuer:     p.str("TOKEN_ISSUER", DefaultTokenIssuer),
		},
		Provider: ProviderConfig{
			BaseURL:       p.url("PROVIDER_BASE_URL"),
			APIKey:        p.required("PROVIDER_API_KEY"),
			WorkflowID:    p.required("PROVIDER_WORKFLOW_ID"),
			CallbackURL:   p.url("PROVIDER_CALLBACK_URL"),
			ReturnURL:     p.url("PROVIDER_RETURN_URL"),
			WebhookSecret: []byte(p.required("PROVIDER_WEBHOOK_SECRET")),
			Timeout:       p.duration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
			PollInterval:  p.duration("POLL_INTERVAL", DefaultPollInterval),
			PollAttempts:  p.integer("POLL_ATTEMPTS", DefaultPollAttempts),
		},
		Crypto: CryptoConfig{
			DocumentHashKey:  p.key("DOCUMENT_HASH_KEY"),
			PIIKMSCiphertext: p.str("PII_KMS_CIPHERTEXT", ""),
			KMSKeyID:         p.str("PII_KMS_KEY_ID", ""),
			AWSRegion:        p.str("AWS_REGION", ""),
		},
		Session: SessionConfig{
			TTL: p.duration("SESSION_TTL", DefaultSessionTTL),
		},
		OTP: OTPConfig{
			TTL:          p.duration("OTP_TTL", DefaultOTPTTL),
			SMSEnabled:   p.boolean("OTP_SMS_ENABLED", false),
			SMSSenderID:  p.str("OTP_SMS_SENDER_ID", ""),
			SMTPHost:     p.str("SMTP_HOST", ""),
			SMTPPort:     p.integer("SMTP_PORT", 587),
			SMTPUsername: p.str("SMTP_USERNAME", ""),
			SMTPPassword: p.str("SMTP_PASSWORD", ""),
			SMTPFrom:     p.str("SMTP_FROM", ""),
		},
		RateLimit: RateLimitConfig{
			StartPerMinute:   p.integer("RATE_LIMIT_START_PER_MINUTE", 10),
			WebhookPerMinute: p.integer("RATE_LIMIT_WEBHOOK_PER_MINUTE", 300),
		},
		Database: DatabaseConfig{
			URL:             p.str("DATABASE_URL", ""),
			MaxOpenConns:    p.integer("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    p.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    p.list("KAFKA_BROKERS"),
			AuditTopic: p.str("AUDIT_TOPIC", DefaultAuditTopic),
		},
		Audit: AuditConfig{
			BufferSize: p.integer("AUDIT_BUFFER_SIZE", DefaultAuditBuffer),
		},
	}
	cfg.Server.CookieSecure = p.boolean("COOKIE_SECURE", cfg.IsProduction())

	if raw := getenv("PII_ENCRYPTION_KEY"); raw != "" {
		key, err := secrets.DecodeKey(raw)
		if err != nil {
			p.fail("PII_ENCRYPTION_KEY: %v", err)
		}
		cfg.Crypto.PIIKey = key
	}

	cfg.validate(p)
	if len(p.problems) > 0 {
		return nil, &ConfigurationError{Problems: p.problems}
	}
	return cfg, nil
}

func (c *Config) validate(p *parser) {
	switch {
	case c.Crypto.PIIKey == nil && c.Crypto.PIIKMSCiphertext == "":
		p.fail("one of PII_ENCRYPTION_KEY or PII_KMS_CIPHERTEXT is required")
	case c.Crypto.PIIKey != nil && c.Crypto.PIIKMSCiphertext != "":
		p.fail("PII_ENCRYPTION_KEY and PII_KMS_CIPHERTEXT are mutually exclusive")
	case c.Crypto.PIIKMSCiphertext != "" && c.Crypto.AWSRegion == "":
		p.fail("AWS_REGION is required with PII_KMS_CIPHERTEXT")
	}
	if c.Token.TTL <= 0 {
		p.fail("TOKEN_TTL must be positive")
	}
	if c.Session.TTL <= 0 {
		p.fail("SESSION_TTL must be positive")
	}
	if c.OTP.TTL <= 0 {
		p.fail("OTP_TTL must be positive")
	}
	if c.Provider.PollInterval <= 0 || c.Provider.PollAttempts <= 0 {
		p.fail("POLL_INTERVAL and POLL_ATTEMPTS must be positive")
	}
	if c.OTP.SMTPHost != "" && c.OTP.SMTPFrom == "" {
		p.fail("SMTP_FROM is required with SMTP_HOST")
	}
	if c.OTP.SMSEnabled && c.Crypto.AWSRegion == "" {
		p.fail("AWS_REGION is required with OTP_SMS_ENABLED")
	}
	if c.Audit.BufferSize <= 0 {
		p.fail("AUDIT_BUFFER_SIZE must be positive")
	}
}

type parser struct {
	getenv   func(string) string
	problems []string
}

func (p *parser) fail(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

func (p *parser) str(name, def string) string {
	if v := strings.TrimSpace(p.getenv(name)); v != "" {
		return v
	}
	return def
}

func (p *parser) required(name string) string {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		p.fail("%s is required", name)
	}
	return v
}

// key reads a raw symmetric key and enforces the minimum length.
// The value itself never appears in error messages.
func (p *parser) key(name string) []byte {
	v := p.getenv(name)
	if v == "" {
		p.fail("%s is required", name)
		return nil
	}
	if len(v) < secrets.MinKeyLength {
		p.fail("%s must be at least %d bytes", name, secrets.MinKeyLength)
		return nil
	}
	return []byte(v)
}

func (p *parser) url(name string) string {
	v := p.required(name)
	if v == "" {
		return ""
	}
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" || u.Host == "" {
		p.fail("%s must be an absolute URL", name)
	}
	return strings.TrimRight(v, "/")
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail("%s: invalid duration %q", name, v)
		return def
	}
	return d
}

func (p *parser) integer(name string, def int) int {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail("%s: invalid integer %q", name, v)
		return def
	}
	return n
}

func (p *parser) boolean(name string, def bool) bool {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail("%s: invalid boolean %q", name, v)
		return def
	}
	return b
}

func (p *parser) list(name string) []string {
	var out []string
	for _, part := range strings.Split(p.getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) level(name string, def slog.Level) slog.Level {
	v := strings.TrimSpace(p.getenv(name))
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		p.fail("%s: invalid level %q", name, v)
		return def
	}
	return lvl
}
