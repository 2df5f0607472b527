// Package sweeper periodically removes expired entries from in-memory stores.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = time.Minute

// Target is a store that can drop expired entries.
type Target interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Sweeper struct {
	targets  map[string]Target
	interval time.Duration
	logger   *slog.Logger
}

func New(interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{targets: map[string]Target{}, interval: interval, logger: logger}
}

// Add registers a named target.
func (s *Sweeper) Add(name string, t Target) {
	s.targets[name] = t
}

// Run sweeps on every tick until ctx is cancelled. A failing target is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepAt(ctx, time.Now())
		case <-ctx.Done():
			return nil
		}
	}
}

// SweepAt runs one pass over all targets as of now.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) int {
	total := 0
	for name, t := range s.targets {
		removed, err := t.DeleteExpired(ctx, now)
		if err != nil {
			s.logger.WarnContext(ctx, "expiry sweep failed", "target", name, "error", err)
			continue
		}
		if removed > 0 {
			s.logger.DebugContext(ctx, "expired entries removed", "target", name, "count", removed)
		}
		total += removed
	}
	return total
}
