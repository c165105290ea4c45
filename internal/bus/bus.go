// Package bus is the in-process notification fan-out between the matching
// engine and delivery transports. Two topics exist, order-book updates and
// trade updates, both keyed by event id. Publishing is fire-and-forget: the
// publisher never blocks on, retries, or observes delivery. Messages are
// ephemeral; subscribers receive only what is published after they attach.
package bus

import (
	"sync"

	"github.com/predyx/market-engine/internal/model"
)

// BookUpdate carries a rebuilt order book for one event.
type BookUpdate struct {
	EventID string
	Book    *model.OrderBook
}

// TradeUpdate carries one settled trade.
type TradeUpdate struct {
	EventID string
	Trade   *model.Trade
}

const subscriberBuffer = 64

// Bus fans out order-book and trade updates to any number of subscribers.
// Slow subscribers lose messages rather than stalling the engine.
type Bus struct {
	mu        sync.RWMutex
	closed    bool
	nextID    int
	bookSubs  map[int]chan BookUpdate
	tradeSubs map[int]chan TradeUpdate
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		bookSubs:  make(map[int]chan BookUpdate),
		tradeSubs: make(map[int]chan TradeUpdate),
	}
}

// SubscribeBooks attaches a subscriber to the order-book topic. The
// returned cancel function detaches and closes the channel; it is safe to
// call more than once.
func (b *Bus) SubscribeBooks() (<-chan BookUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan BookUpdate, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.bookSubs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.bookSubs[id]; ok {
				delete(b.bookSubs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// SubscribeTrades attaches a subscriber to the trade topic.
func (b *Bus) SubscribeTrades() (<-chan TradeUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TradeUpdate, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.tradeSubs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.tradeSubs[id]; ok {
				delete(b.tradeSubs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// PublishOrderBook delivers a book snapshot to every current subscriber.
// Subscribers with full buffers are skipped.
func (b *Bus) PublishOrderBook(eventID string, book *model.OrderBook) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	msg := BookUpdate{EventID: eventID, Book: book}
	for _, ch := range b.bookSubs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PublishTrade delivers a settled trade to every current subscriber.
func (b *Bus) PublishTrade(eventID string, trade *model.Trade) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	msg := TradeUpdate{EventID: eventID, Trade: trade}
	for _, ch := range b.tradeSubs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close detaches and closes all subscriber channels. Publishes after Close
// are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.bookSubs {
		delete(b.bookSubs, id)
		close(ch)
	}
	for id, ch := range b.tradeSubs {
		delete(b.tradeSubs, id)
		close(ch)
	}
}
