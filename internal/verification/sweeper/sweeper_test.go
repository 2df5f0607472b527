package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipline/internal/verification/models"
	"tipline/internal/verification/otp"
	"tipline/internal/verification/session"
	"tipline/pkg/requestcontext"
)

type failingTarget struct{}

func (failingTarget) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("unavailable")
}

func TestSweepAt(t *testing.T) {
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now.Add(-time.Hour))

	sessions := session.New()
	require.NoError(t, sessions.Create(ctx, models.NewSession("stale", now.Add(-time.Hour), time.Minute)))

	challenges := otp.NewInMemoryStore()
	require.NoError(t, challenges.Put(ctx, otp.Challenge{Handle: "stale", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, challenges.Put(ctx, otp.Challenge{Handle: "live", ExpiresAt: now.Add(time.Minute)}))

	s := New(time.Second, nil)
	s.Add("sessions", sessions)
	s.Add("otp", challenges)
	s.Add("broken", failingTarget{})

	assert.Equal(t, 2, s.SweepAt(context.Background(), now))
	assert.Equal(t, 0, s.SweepAt(context.Background(), now))
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
