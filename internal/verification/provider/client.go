package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tipline/pkg/platform/circuit"
)

const (
	tracerName       = "tipline/internal/verification/provider"
	sessionPath      = "/v2/session/"
	maxResponseBytes = 1 << 20
	defaultTimeout   = 10 * time.Second
)

// ErrorObserver counts provider failures by category.
type ErrorObserver interface {
	IncProviderError(category string)
}

// Config holds the outbound connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	WorkflowID  string
	CallbackURL string
	ReturnURL   string
	Timeout     time.Duration
}

// Client is the production Provider. Calls are guarded by a circuit breaker:
// while open, CreateSession fails fast with ErrorCircuitOpen.
type Client struct {
	cfg      Config
	http     *http.Client
	breaker  *circuit.Breaker
	tracer   trace.Tracer
	observer ErrorObserver
	logger   *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithErrorObserver(o ErrorObserver) ClientOption {
	return func(cl *Client) {
		cl.observer = o
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.New("identity-provider"),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createSessionRequest struct {
	WorkflowID string `json:"workflow_id"`
	Callback   string `json:"callback"`
	ReturnURL  string `json:"return_url"`
	VendorData string `json:"vendor_data"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (c *Client) CreateSession(ctx context.Context, vendorData string) (sess Session, err error) {
	ctx, span := c.tracer.Start(ctx, "provider.CreateSession")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(GetCategory(err)))
			if c.observer != nil {
				c.observer.IncProviderError(string(GetCategory(err)))
			}
		}
		span.End()
	}()

	if !c.breaker.Allow() {
		return Session{}, NewProviderError(ErrorCircuitOpen, "provider circuit open", nil)
	}

	sess, err = c.createSession(ctx, vendorData)
	if err != nil && IsRetryable(err) {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "identity provider circuit opened", "category", GetCategory(err))
		}
		return Session{}, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "identity provider circuit closed")
	}
	if err != nil {
		return Session{}, err
	}
	span.SetAttributes(attribute.Bool("provider.session_created", true))
	return sess, nil
}

func (c *Client) createSession(ctx context.Context, vendorData string) (Session, error) {
	body, err := json.Marshal(createSessionRequest{
		WorkflowID: c.cfg.WorkflowID,
		Callback:   c.cfg.CallbackURL,
		ReturnURL:  c.cfg.ReturnURL,
		VendorData: vendorData,
	})
	if err != nil {
		return Session{}, NewProviderError(ErrorInternal, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+sessionPath, bytes.NewReader(body))
	if err != nil {
		return Session{}, NewProviderError(ErrorInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Session{}, NewProviderError(ErrorProviderOutage, "read response", err)
	}
	if err := classifyStatus(resp.StatusCode); err != nil {
		return Session{}, err
	}

	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, NewProviderError(ErrorBadData, "decode response", err)
	}
	if out.SessionID == "" || out.URL == "" {
		return Session{}, NewProviderError(ErrorBadData, "response missing session_id or url", nil)
	}
	return Session{ID: out.SessionID, URL: out.URL}, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrorAuthentication, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrorRateLimited, fmt.Sprintf("status %d", status), nil)
	case status >= 500:
		return NewProviderError(ErrorProviderOutage, fmt.Sprintf("status %d", status), nil)
	default:
		return NewProviderError(ErrorBadData, fmt.Sprintf("status %d", status), nil)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewProviderError(ErrorTimeout, "request timed out", err)
	}
	return NewProviderError(ErrorProviderOutage, "request failed", err)
}
