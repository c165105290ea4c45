// Package engine implements the order matching core: the price-time
// priority walk over resting counter-orders, per-event serialization of
// matching runs, and the rebuild-and-publish of the aggregated book.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/predyx/market-engine/internal/bus"
	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// eventLocks hands out one mutex per event id. Matching runs, cancels,
// and any other book mutation for an event serialize on it. Without it,
// two concurrent runs can both read the same resting order as available
// and double-consume its remaining quantity.
type eventLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEventLocks() *eventLocks {
	return &eventLocks{locks: make(map[string]*sync.Mutex)}
}

func (e *eventLocks) get(eventID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[eventID] = l
	}
	return l
}

// Engine runs matching for admitted orders.
type Engine struct {
	store      store.Store
	ledger     *ledger.Ledger
	aggregator *Aggregator
	bus        *bus.Bus
	locks      *eventLocks
}

// New creates a matching engine.
func New(st store.Store, lg *ledger.Ledger, agg *Aggregator, b *bus.Bus) *Engine {
	return &Engine{
		store:      st,
		ledger:     lg,
		aggregator: agg,
		bus:        b,
		locks:      newEventLocks(),
	}
}

// Match runs the matching walk for one admitted order. It is idempotent
// with respect to already-terminal orders (a no-op walk) and holds the
// event lock for the whole run, so runs on the same event never overlap.
//
// The walk visits price-compatible counter-orders in strict price-time
// priority. The execution price is always the resting order's limit price.
// A settlement failure aborts the walk (it signals a ledger fault, not a
// bad counter-order), leaving already-committed trades in place. Fills are
// persisted after the walk for the incoming order and every candidate it
// traded with, then the book is rebuilt and published unconditionally.
//
// Failures are returned for logging and alerting only; by the time the
// engine runs, admission has already committed and must not be unwound.
func (e *Engine) Match(ctx context.Context, orderID string) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	lock := e.locks.get(order.EventID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.MatchingRuns.Observe(time.Since(start).Seconds())
	}()

	// Re-read under the lock: a run triggered before we queued may have
	// filled or canceled this order already.
	order, err = e.store.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() || order.QuantityRemaining == 0 {
		return e.refreshBook(ctx, order.EventID)
	}

	candidates, err := e.store.CounterOrders(ctx, order.EventID, order.Side, order.Price)
	if err != nil {
		return err
	}

	var (
		touched []*model.Order
		walkErr error
	)
	for i := range candidates {
		if order.QuantityRemaining == 0 {
			break
		}
		candidate := &candidates[i]

		quantity := order.QuantityRemaining
		if candidate.QuantityRemaining < quantity {
			quantity = candidate.QuantityRemaining
		}
		// The resting order sets the price, never the aggressor.
		price := candidate.Price

		buyOrder, sellOrder := order, candidate
		if order.Side == model.SideSell {
			buyOrder, sellOrder = candidate, order
		}

		trade, err := e.ledger.SettleTrade(ctx, buyOrder, sellOrder, quantity, price)
		if err != nil {
			// A failed settlement mid-walk is systemic (a ledger or
			// transaction fault), so the whole run stops here instead
			// of skipping to the next candidate.
			metrics.MatchingFailures.Inc()
			slog.Error("settlement failed, halting matching run",
				"order_id", order.ID, "counter_order_id", candidate.ID, "err", err)
			walkErr = err
			break
		}

		order.QuantityRemaining -= quantity
		candidate.QuantityRemaining -= quantity
		touched = append(touched, candidate)

		e.bus.PublishTrade(order.EventID, trade)
	}

	// Persist fills for the incoming order and the candidates it actually
	// traded with; untouched candidates are left alone.
	if len(touched) > 0 || walkErr == nil {
		if err := e.store.UpdateOrderFill(ctx, order.ID,
			order.QuantityRemaining, model.FillStatus(order.QuantityRemaining, order.Quantity)); err != nil {
			slog.Error("persisting incoming order fill failed", "order_id", order.ID, "err", err)
			if walkErr == nil {
				walkErr = err
			}
		}
	}
	for _, c := range touched {
		if err := e.store.UpdateOrderFill(ctx, c.ID,
			c.QuantityRemaining, model.FillStatus(c.QuantityRemaining, c.Quantity)); err != nil {
			slog.Error("persisting counter-order fill failed", "order_id", c.ID, "err", err)
			if walkErr == nil {
				walkErr = err
			}
		}
	}

	// Publish even when nothing traded, so subscribers' view stays fresh.
	if err := e.refreshBook(ctx, order.EventID); err != nil && walkErr == nil {
		walkErr = err
	}

	slog.Info("matching run complete",
		"order_id", order.ID,
		"event_id", order.EventID,
		"trades", len(touched),
		"remaining", order.QuantityRemaining,
	)
	return walkErr
}

// Cancel cancels an order under the event lock so a cancel can never
// interleave with a matching run consuming the same order, then refreshes
// the published book.
func (e *Engine) Cancel(ctx context.Context, orderID, userID string) (*model.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lock := e.locks.get(order.EventID)
	lock.Lock()
	defer lock.Unlock()

	canceled, err := e.ledger.CancelOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if err := e.refreshBook(ctx, canceled.EventID); err != nil {
		slog.Error("book refresh after cancel failed", "event_id", canceled.EventID, "err", err)
	}
	return canceled, nil
}

func (e *Engine) refreshBook(ctx context.Context, eventID string) error {
	book, err := e.aggregator.BuildBook(ctx, eventID)
	if err != nil {
		return err
	}
	e.bus.PublishOrderBook(eventID, book)
	return nil
}
