package bus_test

import (
	"testing"
	"time"

	"github.com/predyx/market-engine/internal/bus"
	"github.com/predyx/market-engine/internal/model"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch1, cancel1 := b.SubscribeBooks()
	defer cancel1()
	ch2, cancel2 := b.SubscribeBooks()
	defer cancel2()

	book := &model.OrderBook{EventID: "ev1"}
	b.PublishOrderBook("ev1", book)

	for i, ch := range []<-chan bus.BookUpdate{ch1, ch2} {
		select {
		case upd := <-ch:
			if upd.EventID != "ev1" || upd.Book != book {
				t.Errorf("subscriber %d got %+v", i, upd)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the update", i)
		}
	}
}

func TestCancelDetachesSubscriber(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch, cancel := b.SubscribeTrades()
	cancel()
	cancel() // safe to call twice

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}

	// Publishing after cancel must not panic or block.
	b.PublishTrade("ev1", &model.Trade{ID: "t1", EventID: "ev1"})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ch, cancel := b.SubscribeTrades()
	defer cancel()

	// Overfill the buffer; the publisher must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.PublishTrade("ev1", &model.Trade{ID: "t", EventID: "ev1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The subscriber still sees the buffered prefix.
	select {
	case upd := <-ch:
		if upd.EventID != "ev1" {
			t.Errorf("got update for %s, want ev1", upd.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("no buffered message delivered")
	}
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	b := bus.New()

	books, _ := b.SubscribeBooks()
	trades, _ := b.SubscribeTrades()

	b.Close()
	b.Close() // idempotent

	if _, ok := <-books; ok {
		t.Error("book channel open after Close")
	}
	if _, ok := <-trades; ok {
		t.Error("trade channel open after Close")
	}

	// Subscribing after Close yields a closed channel.
	ch, cancel := b.SubscribeBooks()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("post-Close subscription returned an open channel")
	}
}
