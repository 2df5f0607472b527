package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "tipline/pkg/platform/audit"
	"tipline/pkg/platform/audit/store/memory"
	"tipline/pkg/platform/circuit"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Action:        string(audit.EventVerificationStarted),
		CorrelationID: "vs-1",
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "vs-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventVerificationStarted), events[0].Action)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Action:        string(audit.EventOTPRejected),
			CorrelationID: "vs-2",
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByCorrelation(context.Background(), "vs-2")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_AsyncAcceptsCancelledContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(16))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Emit(ctx, audit.Event{
		Action:        string(audit.EventSecretLockout),
		CorrelationID: "vs-cancelled",
	}))
	pub.Close()

	events, err := store.ListByCorrelation(context.Background(), "vs-cancelled")
	require.NoError(t, err)
	require.Len(t, events, 1, "a disconnected caller must not lose the event")
	assert.Equal(t, string(audit.EventSecretLockout), events[0].Action)
}

// blockingStore holds every Append until released so the buffer can fill.
type blockingStore struct {
	release chan struct{}
	inner   *memory.InMemoryStore
}

func (s *blockingStore) Append(ctx context.Context, e audit.Event) error {
	<-s.release
	return s.inner.Append(ctx, e)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := &blockingStore{release: make(chan struct{}), inner: memory.NewInMemoryStore()}
	m := NewMetrics(prometheus.NewRegistry())
	pub := NewPublisher(store, WithAsyncBuffer(1), WithMetrics(m))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventOTPAccepted)}); errors.Is(err, ErrBufferFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Positive(t, dropped)
	assert.Equal(t, float64(dropped), testutil.ToFloat64(m.Dropped))

	close(store.release)
	pub.Close()
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(4))
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventTokenIssued)})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	custom := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		Action:        string(audit.EventTokenIssued),
		CorrelationID: "vs-3",
		Timestamp:     custom,
	}))

	events, err := store.ListByCorrelation(context.Background(), "vs-3")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, custom, events[0].Timestamp)
}

type failingStore struct{ calls int }

func (s *failingStore) Append(context.Context, audit.Event) error {
	s.calls++
	return errors.New("database is down")
}

func TestPublisher_CircuitOpensOnStoreOutage(t *testing.T) {
	store := &failingStore{}
	m := NewMetrics(prometheus.NewRegistry())
	breaker := circuit.New("audit-store", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	pub := NewPublisher(store, WithAsyncBuffer(10), WithMetrics(m), WithCircuitBreaker(breaker))

	for range 5 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventOTPAccepted)}))
	}
	pub.Close()

	assert.Equal(t, 2, store.calls, "store is not called once the circuit opened")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CircuitDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CircuitState))
}

func TestEmitter_SwallowsPublisherErrors(t *testing.T) {
	pub := NewPublisher(&failingStore{})
	emitter := audit.NewEmitter(pub, nil)

	assert.NotPanics(t, func() {
		emitter.Record(context.Background(), audit.Event{
			Action:  string(audit.EventSecretRejected),
			Outcome: audit.OutcomeFailure,
		})
	})
}
