// Package handler exposes the verification flow over HTTP.
//
// The verification session ID travels in the tipline_vsid cookie and the
// staff session token in tipline_session. Both cookies are HttpOnly and
// SameSite=Lax. Neither value is ever written to a response body or a log.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tipline/internal/verification/models"
	"tipline/internal/verification/provider"
	"tipline/internal/verification/reconciler"
	"tipline/internal/verification/service"
	"tipline/internal/verification/token"
	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/platform/httputil"
	request "tipline/pkg/platform/middleware/request"
	"tipline/pkg/requestcontext"
)

const (
	SessionCookie = "tipline_vsid"
	TokenCookie   = "tipline_session"

	// CallbackParam is the provider session ID on the redirect. Any status
	// parameter next to it is ignored.
	CallbackParam = "verificationSessionId"

	maxWebhookBytes = 64 << 10
	maxFormBytes    = 4 << 10
	otpCodeLength   = 6
)

// Service is the verification orchestrator.
type Service interface {
	StartVerification(ctx context.Context) (service.StartResult, error)
	CompleteCallback(ctx context.Context, sessionID, providerSessionID string) (models.Role, error)
	ChallengeSecret(ctx context.Context, sessionID, secret string) error
	ChallengeOTP(ctx context.Context, sessionID, code string) error
	IssueToken(ctx context.Context, sessionID string) (token.Token, error)
	Logout(ctx context.Context, sessionID, tokenValue string) error
}

// WebhookReconciler authenticates and persists provider webhooks.
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (reconciler.WebhookResult, error)
}

// RateLimit wraps a route with a per-client limit.
type RateLimit func(route string, limit int, window time.Duration) func(http.Handler) http.Handler

type Config struct {
	CookieSecure     bool
	SessionTTL       time.Duration
	StartPerMinute   int
	WebhookPerMinute int
}

type Handler struct {
	svc            Service
	webhooks       WebhookReconciler
	logger         *slog.Logger
	cfg            Config
	rateLimit      RateLimit
	requireSession func(http.Handler) http.Handler
}

type Option func(*Handler)

func WithRateLimit(rl RateLimit) Option {
	return func(h *Handler) {
		h.rateLimit = rl
	}
}

// WithSessionGuard sets the middleware that authenticates /auth/me.
func WithSessionGuard(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.requireSession = mw
	}
}

func New(svc Service, webhooks WebhookReconciler, logger *slog.Logger, cfg Config, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = service.DefaultSessionTTL
	}
	h := &Handler{svc: svc, webhooks: webhooks, logger: logger, cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the verification routes on r.
func (h *Handler) Register(r chi.Router) {
	r.With(h.limit("start", h.cfg.StartPerMinute)).Post("/auth/verification", h.handleStart)
	r.Get("/auth/verification/callback", h.handleCallback)
	r.With(h.limit("webhook", h.cfg.WebhookPerMinute)).Post("/webhooks/provider", h.handleWebhook)
	r.Post("/auth/secret", h.handleSecret)
	r.Post("/auth/otp", h.handleOTP)
	r.Post("/auth/token", h.handleToken)
	r.Post("/auth/logout", h.handleLogout)
	if h.requireSession != nil {
		r.With(h.requireSession).Get("/auth/me", h.handleMe)
	}
}

func (h *Handler) limit(route string, perMinute int) func(http.Handler) http.Handler {
	if h.rateLimit == nil || perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.rateLimit(route, perMinute, time.Minute)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.svc.StartVerification(ctx)
	if err != nil {
		h.writeError(ctx, w, "start verification failed", err)
		return
	}
	h.setCookie(w, SessionCookie, res.SessionID, int(h.cfg.SessionTTL.Seconds()))
	httputil.WriteJSON(w, http.StatusCreated, startResponse{RedirectURL: res.RedirectURL})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerSessionID := r.URL.Query().Get(CallbackParam)
	if providerSessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing verification session"))
		return
	}

	role, err := h.svc.CompleteCallback(ctx, h.sessionID(r), providerSessionID)
	if err != nil {
		if failedSession(err) {
			h.clearCookie(w, SessionCookie)
		}
		h.writeError(ctx, w, "verification callback failed", err)
		return
	}

	resp := callbackResponse{Role: string(role)}
	if role == models.RoleStaff {
		resp.Next = "/auth/secret"
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable body"))
		return
	}
	if len(body) > maxWebhookBytes {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "payload too large"))
		return
	}

	result, err := h.webhooks.HandleWebhook(ctx, body, r.Header.Get(provider.SignatureHeader))
	if err != nil {
		h.writeError(ctx, w, "webhook handling failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Result: string(result)})
}

func (h *Handler) handleSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secret, ok := h.formValue(w, r, "secret")
	if !ok {
		return
	}
	if err := h.svc.ChallengeSecret(ctx, h.sessionID(r), secret); err != nil {
		if failedSession(err) {
			h.clearCookie(w, SessionCookie)
		}
		h.writeError(ctx, w, "secret challenge failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, challengeResponse{Next: "/auth/otp"})
}

func (h *Handler) handleOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code, ok := h.formValue(w, r, "code")
	if !ok {
		return
	}
	if !isOTPCode(code) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "code must be 6 digits"))
		return
	}
	if err := h.svc.ChallengeOTP(ctx, h.sessionID(r), code); err != nil {
		if failedSession(err) {
			h.clearCookie(w, SessionCookie)
		}
		h.writeError(ctx, w, "otp challenge failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, challengeResponse{Next: "/auth/token"})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, err := h.svc.IssueToken(ctx, h.sessionID(r))
	if err != nil {
		h.writeError(ctx, w, "token issuance failed", err)
		return
	}
	maxAge := int(tok.ExpiresAt.Sub(requestcontext.Now(ctx)).Seconds())
	h.setCookie(w, TokenCookie, tok.Value, maxAge)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{ExpiresAt: tok.ExpiresAt.UTC()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenValue := ""
	if c, err := r.Cookie(TokenCookie); err == nil {
		tokenValue = c.Value
	}

	err := h.svc.Logout(ctx, h.sessionID(r), tokenValue)
	h.clearCookie(w, SessionCookie)
	h.clearCookie(w, TokenCookie)
	if err != nil {
		h.writeError(ctx, w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := requestcontext.Subject(ctx)
	if subject == "" {
		h.logger.ErrorContext(ctx, "subject missing from context despite session middleware",
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meResponse{Subject: subject, Role: requestcontext.Role(ctx)})
}

func (h *Handler) sessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *Handler) formValue(w http.ResponseWriter, r *http.Request, field string) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form"))
		return "", false
	}
	v := r.PostFormValue(field)
	if v == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, field+" is required"))
		return "", false
	}
	return v, true
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	h.setCookie(w, name, "", -1)
}

// writeError logs server faults at error and client faults at info, then
// writes the envelope. The error text is logged, never request values.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeInternal
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
	}
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	} else {
		h.logger.InfoContext(ctx, msg,
			"code", string(code),
			"request_id", request.GetRequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

// failedSession reports errors after which the verification session no
// longer exists server-side.
func failedSession(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeSessionInvalid) ||
		dErrors.HasCode(err, dErrors.CodeAttemptsExhausted) ||
		dErrors.HasCode(err, dErrors.CodeVerificationNotFound) ||
		dErrors.HasCode(err, dErrors.CodeVerificationRejected)
}

func isOTPCode(code string) bool {
	if len(code) != otpCodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
