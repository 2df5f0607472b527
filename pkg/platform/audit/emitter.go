package audit

import (
	"context"
	"log/slog"

	"tipline/pkg/requestcontext"
)

// Publisher accepts audit events for persistence.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Emitter is the fire-and-forget front door services use. Audit persistence
// never blocks or fails the user flow: publisher errors are logged at WARN
// and dropped.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Record fills category, timestamp and request ID, writes a structured audit
// log line and hands the event to the publisher.
func (e *Emitter) Record(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	if event.Category == "" {
		event.Category = AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	args := []any{
		"event", event.Action,
		"log_type", "audit",
		"category", string(event.Category),
		"outcome", string(event.Outcome),
		"actor_role", event.ActorRole,
		"correlation_id", event.CorrelationID,
		"request_id", event.RequestID,
	}
	for k, v := range event.Detail {
		args = append(args, "detail_"+k, v)
	}
	e.logger.InfoContext(ctx, event.Action, args...)

	if e.publisher == nil {
		return
	}
	if err := e.publisher.Emit(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event",
			"event", event.Action,
			"error", err,
		)
	}
}
