package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,WebhookReconciler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"tipline/internal/ratelimit"
	"tipline/internal/verification/handler/mocks"
	"tipline/internal/verification/models"
	"tipline/internal/verification/provider"
	"tipline/internal/verification/reconciler"
	"tipline/internal/verification/service"
	"tipline/internal/verification/token"
	dErrors "tipline/pkg/domain-errors"
	"tipline/pkg/requestcontext"
	"tipline/pkg/testutil"
)

// AGENTS.MD JUSTIFICATION: cookie attributes, ignored query parameters and
// body limits are HTTP contracts that only a handler-level test can observe.
type HandlerSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	mockService  *mocks.MockService
	mockWebhooks *mocks.MockWebhookReconciler
	router       chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	s.mockWebhooks = mocks.NewMockWebhookReconciler(s.ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.NewMiddleware(ratelimit.NewInMemoryStore(), logger, nil)
	h := New(s.mockService, s.mockWebhooks, logger,
		Config{CookieSecure: true, SessionTTL: 30 * time.Minute, StartPerMinute: 2, WebhookPerMinute: 100},
		WithRateLimit(limiter.PerClient),
		WithSessionGuard(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c, err := r.Cookie(TokenCookie); err != nil || c.Value != "good-token" {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipal(r.Context(), "subject-hash", "ANALYST")))
			})
		}),
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithClient(req, "192.0.2.1", "test-agent"))
}

func (s *HandlerSuite) form(path string, values url.Values) *http.Request {
	req := testutil.NewFormRequest(s.T(), path, values)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "vs-1"})
	return req
}

func (s *HandlerSuite) TestStartSetsSessionCookie() {
	s.mockService.EXPECT().StartVerification(gomock.Any()).
		Return(service.StartResult{SessionID: "vs-1", RedirectURL: "https://verify.example.com/s"}, nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/auth/verification", nil))
	s.Equal(http.StatusCreated, rec.Code)
	s.Contains(rec.Body.String(), "https://verify.example.com/s")
	s.NotContains(rec.Body.String(), "vs-1")

	c := testutil.CookieFrom(rec, SessionCookie)
	s.Require().NotNil(c)
	s.Equal("vs-1", c.Value)
	s.True(c.HttpOnly)
	s.True(c.Secure)
	s.Equal(http.SameSiteLaxMode, c.SameSite)
}

func (s *HandlerSuite) TestStartIsRateLimited() {
	s.mockService.EXPECT().StartVerification(gomock.Any()).
		Return(service.StartResult{SessionID: "vs-1", RedirectURL: "https://verify.example.com/s"}, nil).Times(2)

	for range 2 {
		s.Equal(http.StatusCreated, s.do(httptest.NewRequest(http.MethodPost, "/auth/verification", nil)).Code)
	}
	s.Equal(http.StatusTooManyRequests, s.do(httptest.NewRequest(http.MethodPost, "/auth/verification", nil)).Code)
}

func (s *HandlerSuite) TestCallbackIgnoresStatusParameters() {
	s.mockService.EXPECT().CompleteCallback(gomock.Any(), "vs-1", "sess-1").Return(models.RoleStaff, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/verification/callback?verificationSessionId=sess-1&status=Approved", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "vs-1"})
	rec := s.do(req)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"role":"STAFF","next":"/auth/secret"}`, rec.Body.String())
}

func (s *HandlerSuite) TestCallbackErrors() {
	s.Run("missing provider session", func() {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/auth/verification/callback?status=Approved", nil))
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("nothing reconciled clears the session cookie", func() {
		s.mockService.EXPECT().CompleteCallback(gomock.Any(), "vs-1", "sess-1").
			Return(models.RoleNone, dErrors.New(dErrors.CodeVerificationNotFound, "verification not completed, please try again"))

		req := httptest.NewRequest(http.MethodGet, "/auth/verification/callback?verificationSessionId=sess-1", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "vs-1"})
		rec := s.do(req)

		s.Equal(http.StatusNotFound, rec.Code)
		c := testutil.CookieFrom(rec, SessionCookie)
		s.Require().NotNil(c)
		s.Negative(c.MaxAge)
	})
}

func (s *HandlerSuite) TestWebhook() {
	s.Run("passes the raw body and signature", func() {
		body := `{"session_id":"sess-1","status":"Approved"}`
		s.mockWebhooks.EXPECT().HandleWebhook(gomock.Any(), []byte(body), "abc123").Return(reconciler.WebhookPersisted, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
		req.Header.Set(provider.SignatureHeader, "abc123")
		rec := s.do(req)

		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"result":"persisted"}`, rec.Body.String())
	})

	s.Run("bad signature is unauthorized", func() {
		s.mockWebhooks.EXPECT().HandleWebhook(gomock.Any(), gomock.Any(), "").
			Return(reconciler.WebhookResult(""), dErrors.New(dErrors.CodeSignatureInvalid, "invalid signature"))

		rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader("{}")))
		testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, string(dErrors.CodeSignatureInvalid))
	})

	s.Run("oversized body never reaches the reconciler", func() {
		big := strings.Repeat("a", maxWebhookBytes+1)
		rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(big)))
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestSecret() {
	s.Run("success points at the otp step", func() {
		s.mockService.EXPECT().ChallengeSecret(gomock.Any(), "vs-1", "s3cret").Return(nil)
		rec := s.do(s.form("/auth/secret", url.Values{"secret": {"s3cret"}}))
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"next":"/auth/otp"}`, rec.Body.String())
	})

	s.Run("lockout clears the session cookie", func() {
		s.mockService.EXPECT().ChallengeSecret(gomock.Any(), "vs-1", "wrong").
			Return(dErrors.New(dErrors.CodeAttemptsExhausted, "too many failed attempts, please start again"))
		rec := s.do(s.form("/auth/secret", url.Values{"secret": {"wrong"}}))
		s.Equal(http.StatusForbidden, rec.Code)
		s.Require().NotNil(testutil.CookieFrom(rec, SessionCookie))
	})

	s.Run("missing field", func() {
		rec := s.do(s.form("/auth/secret", url.Values{}))
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestOTP() {
	s.Run("malformed code is rejected before the service", func() {
		for _, code := range []string{"12345", "1234567", "12a456"} {
			rec := s.do(s.form("/auth/otp", url.Values{"code": {code}}))
			s.Equal(http.StatusBadRequest, rec.Code, code)
		}
	})

	s.Run("valid code", func() {
		s.mockService.EXPECT().ChallengeOTP(gomock.Any(), "vs-1", "123456").Return(nil)
		rec := s.do(s.form("/auth/otp", url.Values{"code": {"123456"}}))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("wrong code is unauthorized", func() {
		s.mockService.EXPECT().ChallengeOTP(gomock.Any(), "vs-1", "654321").
			Return(dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))
		rec := s.do(s.form("/auth/otp", url.Values{"code": {"654321"}}))
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Nil(testutil.CookieFrom(rec, SessionCookie), "a rejected attempt keeps the session")
	})
}

func (s *HandlerSuite) TestTokenOnlyInCookie() {
	expires := time.Now().Add(24 * time.Hour)
	s.mockService.EXPECT().IssueToken(gomock.Any(), "vs-1").
		Return(token.Token{Value: "signed.jwt.value", JTI: "jti-1", ExpiresAt: expires}, nil)

	rec := s.do(s.form("/auth/token", url.Values{}))
	s.Equal(http.StatusOK, rec.Code)
	s.NotContains(rec.Body.String(), "signed.jwt.value")

	c := testutil.CookieFrom(rec, TokenCookie)
	s.Require().NotNil(c)
	s.Equal("signed.jwt.value", c.Value)
	s.True(c.HttpOnly)
	s.Positive(c.MaxAge)
}

func (s *HandlerSuite) TestLogoutClearsBothCookies() {
	s.mockService.EXPECT().Logout(gomock.Any(), "vs-1", "signed.jwt.value").Return(nil)

	req := s.form("/auth/logout", url.Values{})
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "signed.jwt.value"})
	rec := s.do(req)

	s.Equal(http.StatusNoContent, rec.Code)
	for _, name := range []string{SessionCookie, TokenCookie} {
		c := testutil.CookieFrom(rec, name)
		s.Require().NotNil(c, name)
		s.Empty(c.Value)
		s.Negative(c.MaxAge)
	}
}

func (s *HandlerSuite) TestMe() {
	s.Run("requires a session token", func() {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("returns the principal", func() {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "good-token"})
		rec := s.do(req)
		s.Equal(http.StatusOK, rec.Code)
		me := testutil.UnmarshalResponse[meResponse](s.T(), rec)
		s.Equal("subject-hash", me.Subject)
		s.Equal("ANALYST", me.Role)
	})
}
