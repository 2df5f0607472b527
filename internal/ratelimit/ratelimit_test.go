package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tipline/pkg/requestcontext"
)

const (
	testLimit  = 3
	testWindow = time.Minute
)

type InMemoryStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestAllow() {
	s.Run("requests up to the limit are allowed", func() {
		for i := range testLimit {
			res, err := s.store.Allow(s.ctx, "start:203.0.113.1", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(res.Allowed)
			s.Equal(testLimit-i-1, res.Remaining)
		}
	})

	s.Run("request over the limit is denied with retry hint", func() {
		res, err := s.store.Allow(s.ctx, "start:203.0.113.1", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(testWindow, res.RetryAfter)
	})

	s.Run("other keys are independent", func() {
		res, err := s.store.Allow(s.ctx, "start:203.0.113.2", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})

	s.Run("window slides", func() {
		s.now = s.now.Add(testWindow + time.Second)
		res, err := s.store.Allow(s.ctx, "start:203.0.113.1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(res.Allowed)
	})
}

func (s *InMemoryStoreSuite) TestSweep() {
	_, _ = s.store.Allow(s.ctx, "webhook:198.51.100.7", testLimit, testWindow)
	s.Equal(0, s.store.Sweep(s.now))
	s.Equal(1, s.store.Sweep(s.now.Add(2*testWindow)))
}

func (s *InMemoryStoreSuite) TestMiddleware() {
	mw := NewMiddleware(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	handler := mw.PerClient("start", 1, testWindow)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/verification", nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "192.0.2.10", "test"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	s.Equal(http.StatusNoContent, do().Code)
	rec := do()
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("60", rec.Header().Get("Retry-After"))
	s.Contains(rec.Body.String(), "rate_limited")
}
