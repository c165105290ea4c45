package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

func TestBuildBook_AggregatesAndSorts(t *testing.T) {
	ms := store.NewMemoryStore()
	agg := engine.NewAggregator(ms)
	ctx := context.Background()

	seedOpenEvent(t, ms, "ev1")
	seedUser(t, ms, "u", 10000)

	base := time.Now().UTC()
	seedRestingOrder(t, ms, "b1", "ev1", "u", model.SideBuy, 40, 5, base)
	seedRestingOrder(t, ms, "b2", "ev1", "u", model.SideBuy, 45, 3, base.Add(time.Second))
	seedRestingOrder(t, ms, "b3", "ev1", "u", model.SideBuy, 45, 2, base.Add(2*time.Second))
	seedRestingOrder(t, ms, "a1", "ev1", "u", model.SideSell, 50, 4, base.Add(3*time.Second))
	seedRestingOrder(t, ms, "a2", "ev1", "u", model.SideSell, 48, 6, base.Add(4*time.Second))

	book, err := agg.BuildBook(ctx, "ev1")
	if err != nil {
		t.Fatalf("build book failed: %v", err)
	}

	wantBuy := []model.PriceLevel{{Price: 45, Quantity: 5}, {Price: 40, Quantity: 5}}
	wantSell := []model.PriceLevel{{Price: 48, Quantity: 6}, {Price: 50, Quantity: 4}}

	if len(book.Buy) != len(wantBuy) {
		t.Fatalf("buy levels = %+v, want %+v", book.Buy, wantBuy)
	}
	for i, w := range wantBuy {
		if book.Buy[i] != w {
			t.Errorf("buy level %d = %+v, want %+v", i, book.Buy[i], w)
		}
	}
	if len(book.Sell) != len(wantSell) {
		t.Fatalf("sell levels = %+v, want %+v", book.Sell, wantSell)
	}
	for i, w := range wantSell {
		if book.Sell[i] != w {
			t.Errorf("sell level %d = %+v, want %+v", i, book.Sell[i], w)
		}
	}
}

func TestBuildBook_EmptyEvent(t *testing.T) {
	ms := store.NewMemoryStore()
	agg := engine.NewAggregator(ms)

	seedOpenEvent(t, ms, "ev1")

	book, err := agg.BuildBook(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("build book failed: %v", err)
	}
	if len(book.Buy) != 0 || len(book.Sell) != 0 {
		t.Errorf("empty event produced levels: buy=%+v sell=%+v", book.Buy, book.Sell)
	}
}

func TestBuildBook_ExcludesTerminalOrders(t *testing.T) {
	ms := store.NewMemoryStore()
	agg := engine.NewAggregator(ms)
	ctx := context.Background()

	seedOpenEvent(t, ms, "ev1")
	seedUser(t, ms, "u", 10000)

	base := time.Now().UTC()
	seedRestingOrder(t, ms, "open", "ev1", "u", model.SideBuy, 40, 5, base)
	seedRestingOrder(t, ms, "gone", "ev1", "u", model.SideBuy, 40, 5, base.Add(time.Second))
	if err := ms.UpdateOrderFill(ctx, "gone", 0, model.OrderFilled); err != nil {
		t.Fatalf("update fill failed: %v", err)
	}

	book, err := agg.BuildBook(ctx, "ev1")
	if err != nil {
		t.Fatalf("build book failed: %v", err)
	}
	if len(book.Buy) != 1 || book.Buy[0].Quantity != 5 {
		t.Errorf("filled order leaked into book: %+v", book.Buy)
	}
}
