package otp

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"tipline/pkg/requestcontext"
)

// captureSender records the last code sent per destination.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[string]string{}}
}

func (c *captureSender) Send(_ context.Context, destination, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.codes[destination] = code
	return nil
}

func (c *captureSender) code(destination string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[destination]
}

// AGENTS.MD JUSTIFICATION: single use, lockout and expiry are the security
// contract of the OTP step; each must hold for both the in-memory and Redis
// backends.
type OTPSuite struct {
	suite.Suite
	newStore func() Store
	sender   *captureSender
	svc      *Service
	now      time.Time
	ctx      context.Context
}

func TestInMemoryOTPSuite(t *testing.T) {
	suite.Run(t, &OTPSuite{newStore: func() Store { return NewInMemoryStore() }})
}

func TestRedisOTPSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	suite.Run(t, &OTPSuite{newStore: func() Store {
		mr.FlushAll()
		return NewRedisStore(client)
	}})
}

func (s *OTPSuite) SetupTest() {
	s.sender = newCaptureSender()
	s.svc = NewService(s.newStore(), s.sender)
	s.now = time.Now()
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *OTPSuite) issue(destination string) (handle, code string) {
	handle, err := s.svc.Issue(s.ctx, destination)
	s.Require().NoError(err)
	s.Require().NotEmpty(handle)
	code = s.sender.code(destination)
	s.Require().Len(code, 6)
	return handle, code
}

func wrong(code string) string {
	if code == "100000" {
		return "100001"
	}
	return "100000"
}

func (s *OTPSuite) verify(handle, code string) bool {
	ok, err := s.svc.Verify(s.ctx, handle, code)
	s.Require().NoError(err)
	return ok
}

func (s *OTPSuite) TestHandleIsNotTheCode() {
	handle, code := s.issue("user@example.org")
	s.NotContains(handle, code)
}

func (s *OTPSuite) TestSingleUse() {
	handle, code := s.issue("user@example.org")
	s.True(s.verify(handle, code))
	s.False(s.verify(handle, code), "a consumed code must not verify again")
}

func (s *OTPSuite) TestUnknownHandle() {
	s.False(s.verify("no-such-handle", "123456"))
	s.False(s.verify("", "123456"))
}

func (s *OTPSuite) TestWrongTwiceThenRight() {
	handle, code := s.issue("user@example.org")
	s.False(s.verify(handle, wrong(code)))
	s.False(s.verify(handle, wrong(code)))
	s.True(s.verify(handle, code))
	s.False(s.verify(handle, code))
}

func (s *OTPSuite) TestLocksAfterThreeFailures() {
	handle, code := s.issue("+593991234567")
	for range MaxFailedAttempts {
		s.False(s.verify(handle, wrong(code)))
	}
	s.False(s.verify(handle, code), "fourth attempt fails even with the right code")
	s.False(s.verify(handle, code), "handle is unusable after lockout")
}

func (s *OTPSuite) TestExpiredCodeFails() {
	handle, code := s.issue("user@example.org")
	later := requestcontext.WithTime(context.Background(), s.now.Add(DefaultTTL))
	ok, err := s.svc.Verify(later, handle, code)
	s.Require().NoError(err)
	s.False(ok)
	s.False(s.verify(handle, code), "expired entry was deleted")
}

func (s *OTPSuite) TestDispatchFailureDiscardsChallenge() {
	s.sender.err = errors.New("relay down")
	_, err := s.svc.Issue(s.ctx, "user@example.org")
	s.Error(err)
}

func TestGenerateCodeRange(t *testing.T) {
	for range 1000 {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}

func TestInMemoryDeleteExpired(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Challenge{Handle: "live", CodeHash: hashCode("123456"), ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.Put(ctx, Challenge{Handle: "stale", CodeHash: hashCode("123456"), ExpiresAt: now.Add(-time.Second)}))

	removed, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestInMemoryConcurrentGuessesConsumeOnce(t *testing.T) {
	store := NewInMemoryStore()
	svc := NewService(store, newCaptureSender())
	ctx := context.Background()
	sender := newCaptureSender()
	svc.sender = sender

	handle, err := svc.Issue(ctx, "user@example.org")
	require.NoError(t, err)
	code := sender.code("user@example.org")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := svc.Verify(ctx, handle, code)
			if ok {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}
