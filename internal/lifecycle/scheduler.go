// Package lifecycle advances events through their trading window: SCHEDULED
// events open when their start date arrives, OPEN events close when their
// end date passes. Resolution stays a manual, operator-driven step.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// Scheduler periodically sweeps events whose window boundary has passed.
type Scheduler struct {
	store store.Store
	tick  time.Duration
}

// New creates a scheduler that sweeps every tick.
func New(st store.Store, tick time.Duration) *Scheduler {
	return &Scheduler{store: st, tick: tick}
}

// Run sweeps immediately, then on every tick until ctx is canceled. Errors
// are logged and the loop keeps going; a transition missed on one sweep is
// picked up on the next.
func (s *Scheduler) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass of both transitions at the current time.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.ListEventsDue(ctx, model.EventScheduled, now)
	if err != nil {
		slog.Error("lifecycle sweep failed listing scheduled events", "err", err)
	} else {
		for _, ev := range due {
			if err := s.store.UpdateEventStatus(ctx, ev.ID, model.EventOpen, ev.Outcome); err != nil {
				slog.Error("failed to open event", "event_id", ev.ID, "err", err)
				continue
			}
			slog.Info("event opened for trading", "event_id", ev.ID, "title", ev.Title)
		}
	}

	due, err = s.store.ListEventsDue(ctx, model.EventOpen, now)
	if err != nil {
		slog.Error("lifecycle sweep failed listing open events", "err", err)
		return
	}
	for _, ev := range due {
		if err := s.store.UpdateEventStatus(ctx, ev.ID, model.EventClosed, ev.Outcome); err != nil {
			slog.Error("failed to close event", "event_id", ev.ID, "err", err)
			continue
		}
		slog.Info("event closed for trading", "event_id", ev.ID, "title", ev.Title)
	}
}
