package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/predyx/market-engine/internal/lifecycle"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

func seedEvent(t *testing.T, ms *store.MemoryStore, id string, status model.EventStatus, start, end time.Time) {
	t.Helper()
	err := ms.CreateEvent(context.Background(), &model.Event{
		ID:               id,
		Title:            "test event " + id,
		Status:           status,
		Outcome:          model.OutcomePending,
		TradingStartDate: start,
		TradingEndDate:   end,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed event %s: %v", id, err)
	}
}

func eventStatus(t *testing.T, ms *store.MemoryStore, id string) model.EventStatus {
	t.Helper()
	e, err := ms.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("get event %s: %v", id, err)
	}
	return e.Status
}

func TestSweep_OpensAndClosesDueEvents(t *testing.T) {
	ms := store.NewMemoryStore()
	s := lifecycle.New(ms, time.Minute)
	now := time.Now().UTC()

	seedEvent(t, ms, "opens-now", model.EventScheduled, now.Add(-time.Minute), now.Add(time.Hour))
	seedEvent(t, ms, "opens-later", model.EventScheduled, now.Add(time.Hour), now.Add(2*time.Hour))
	seedEvent(t, ms, "closes-now", model.EventOpen, now.Add(-2*time.Hour), now.Add(-time.Minute))
	seedEvent(t, ms, "stays-open", model.EventOpen, now.Add(-2*time.Hour), now.Add(time.Hour))
	seedEvent(t, ms, "resolved", model.EventResolved, now.Add(-2*time.Hour), now.Add(-time.Hour))

	s.Sweep(context.Background())

	want := map[string]model.EventStatus{
		"opens-now":   model.EventOpen,
		"opens-later": model.EventScheduled,
		"closes-now":  model.EventClosed,
		"stays-open":  model.EventOpen,
		"resolved":    model.EventResolved,
	}
	for id, status := range want {
		if got := eventStatus(t, ms, id); got != status {
			t.Errorf("%s: status = %s, want %s", id, got, status)
		}
	}
}

// A SCHEDULED event whose whole window has already passed transitions
// through OPEN and ends the sweep CLOSED, never stuck in between.
func TestSweep_ExpiredWindowCatchesUp(t *testing.T) {
	ms := store.NewMemoryStore()
	s := lifecycle.New(ms, time.Minute)
	now := time.Now().UTC()

	seedEvent(t, ms, "expired", model.EventScheduled, now.Add(-2*time.Hour), now.Add(-time.Hour))

	s.Sweep(context.Background())
	if got := eventStatus(t, ms, "expired"); got != model.EventClosed {
		t.Fatalf("after sweep: status = %s, want CLOSED", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ms := store.NewMemoryStore()
	s := lifecycle.New(ms, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
