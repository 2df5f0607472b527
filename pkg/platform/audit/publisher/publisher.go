// Package publisher buffers audit events in front of an audit.Store.
//
// In sync mode Emit appends directly. In async mode (WithAsyncBuffer) Emit
// enqueues without blocking and a single worker goroutine persists; a full
// buffer drops the event and returns ErrBufferFull. Close drains the buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "tipline/pkg/platform/audit"
	"tipline/pkg/platform/audit/worker"
	"tipline/pkg/platform/circuit"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
	ErrNotReader  = errors.New("audit store does not support queries")
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *circuit.Breaker

	bufferSize int
	inbox      chan audit.Event
	worker     *worker.Worker
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithCircuitBreaker sheds events while the store keeps failing.
func WithCircuitBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}

	var observer worker.Observer
	if p.metrics != nil {
		observer = p.metrics
	}

	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		p.worker = worker.NewWorker(store, p.inbox, p.breaker, p.logger, observer)
		go func() {
			defer close(p.done)
			p.worker.Run(context.Background())
		}()
	}
	return p
}

// Emit stamps the event with an ID and timestamp and persists or enqueues it.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		if err := p.store.Append(ctx, event); err != nil {
			if p.metrics != nil {
				p.metrics.IncPersistFailures()
			}
			return err
		}
		if p.metrics != nil {
			p.metrics.IncPersisted()
		}
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		if p.metrics != nil {
			p.metrics.IncDropped()
		}
		return ErrBufferFull
	}
}

// List returns events sharing a correlation ID, when the store supports queries.
func (p *Publisher) List(ctx context.Context, correlationID string) ([]audit.Event, error) {
	reader, ok := p.store.(audit.Reader)
	if !ok {
		return nil, ErrNotReader
	}
	return reader.ListByCorrelation(ctx, correlationID)
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}
