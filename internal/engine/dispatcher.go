package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/predyx/market-engine/internal/metrics"
)

// Dispatcher is the explicit admission→matching handoff: admitted orders
// are queued and drained by worker goroutines. The handoff is
// fire-and-forget by contract: a failed or dropped run is logged and
// never reported back to the placer, and the engine does not retry on its
// own. An operator re-run (or later order activity on the event) resumes
// matching.
type Dispatcher struct {
	engine *Engine
	jobs   chan string
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(e *Engine, queueSize int) *Dispatcher {
	return &Dispatcher{
		engine: e,
		jobs:   make(chan string, queueSize),
	}
}

// Start launches workers goroutines draining the queue. Matching runs use
// a background context: once triggered, a run proceeds to completion or
// failure with no external cancel.
func (d *Dispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for orderID := range d.jobs {
				metrics.MatchQueueDepth.Dec()
				if err := d.engine.Match(context.Background(), orderID); err != nil {
					slog.Error("matching run failed", "order_id", orderID, "err", err)
				}
			}
		}()
	}
}

// Enqueue hands an order to the matching workers without blocking the
// caller. When the queue is full the order is dropped from the queue (it
// stays admitted and unmatched) and the drop is logged for operators.
func (d *Dispatcher) Enqueue(orderID string) {
	select {
	case d.jobs <- orderID:
		metrics.MatchQueueDepth.Inc()
	default:
		slog.Error("match queue full, order left unmatched", "order_id", orderID)
	}
}

// Stop closes the queue and waits for in-flight runs to finish.
func (d *Dispatcher) Stop() {
	close(d.jobs)
	d.wg.Wait()
}
