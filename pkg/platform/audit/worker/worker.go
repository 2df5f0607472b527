package worker

import (
	"context"
	"log/slog"

	audit "tipline/pkg/platform/audit"
	"tipline/pkg/platform/circuit"
)

// Observer receives persistence outcomes, typically publisher metrics.
type Observer interface {
	IncPersisted()
	IncPersistFailures()
	IncCircuitDropped()
	SetCircuitOpen(open bool)
}

// Worker consumes audit events from a channel and persists them. A store
// outage opens the breaker and events are dropped instead of piling up
// behind a dead backend.
type Worker struct {
	store    audit.Store
	inbox    <-chan audit.Event
	breaker  *circuit.Breaker
	logger   *slog.Logger
	observer Observer
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, breaker *circuit.Breaker, logger *slog.Logger, observer Observer) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, breaker: breaker, logger: logger, observer: observer}
}

// Run persists events until the inbox is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		w.Persist(ctx, event)
	}
}

// Persist writes a single event, honoring the breaker.
func (w *Worker) Persist(ctx context.Context, event audit.Event) {
	if w.breaker != nil && !w.breaker.Allow() {
		if w.observer != nil {
			w.observer.IncCircuitDropped()
		}
		return
	}

	if err := w.store.Append(ctx, event); err != nil {
		w.logger.WarnContext(ctx, "audit store append failed",
			"event", event.Action,
			"error", err,
		)
		if w.observer != nil {
			w.observer.IncPersistFailures()
		}
		if w.breaker != nil {
			if _, change := w.breaker.RecordFailure(); change.Opened && w.observer != nil {
				w.observer.SetCircuitOpen(true)
			}
		}
		return
	}

	if w.observer != nil {
		w.observer.IncPersisted()
	}
	if w.breaker != nil {
		if _, change := w.breaker.RecordSuccess(); change.Closed && w.observer != nil {
			w.observer.SetCircuitOpen(false)
		}
	}
}
