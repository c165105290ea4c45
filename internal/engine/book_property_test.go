package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// TestBuildBook_Properties checks the aggregation invariants over random
// order sets: level totals equal the sum of remaining quantities per
// (side, price), buy levels descend, sell levels ascend, and rebuilding
// from the same state yields the same book.
func TestBuildBook_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ms := store.NewMemoryStore()
		agg := engine.NewAggregator(ms)
		ctx := context.Background()

		now := time.Now().UTC()
		if err := ms.CreateEvent(ctx, &model.Event{
			ID:               "ev",
			Title:            "property event",
			Status:           model.EventOpen,
			Outcome:          model.OutcomePending,
			TradingStartDate: now.Add(-time.Hour),
			TradingEndDate:   now.Add(time.Hour),
			CreatedAt:        now,
		}); err != nil {
			rt.Fatalf("create event: %v", err)
		}

		n := rapid.IntRange(0, 40).Draw(rt, "orders")
		wantBuy := make(map[int]int64)
		wantSell := make(map[int]int64)

		for i := 0; i < n; i++ {
			side := model.SideBuy
			if rapid.Bool().Draw(rt, fmt.Sprintf("sell-%d", i)) {
				side = model.SideSell
			}
			price := rapid.IntRange(1, 99).Draw(rt, fmt.Sprintf("price-%d", i))
			qty := rapid.Int64Range(1, 1000).Draw(rt, fmt.Sprintf("qty-%d", i))
			remaining := rapid.Int64Range(0, qty).Draw(rt, fmt.Sprintf("remaining-%d", i))

			order := &model.Order{
				ID:                fmt.Sprintf("order-%d", i),
				EventID:           "ev",
				UserID:            "u",
				Side:              side,
				Price:             price,
				Quantity:          qty,
				QuantityRemaining: remaining,
				Status:            model.FillStatus(remaining, qty),
				CreatedAt:         now.Add(time.Duration(i) * time.Millisecond),
			}
			if err := ms.InsertOrder(ctx, order); err != nil {
				rt.Fatalf("insert order: %v", err)
			}
			if !order.Status.Terminal() {
				if side == model.SideBuy {
					wantBuy[price] += remaining
				} else {
					wantSell[price] += remaining
				}
			}
		}

		book, err := agg.BuildBook(ctx, "ev")
		if err != nil {
			rt.Fatalf("build book: %v", err)
		}

		checkLevels(rt, "buy", book.Buy, wantBuy, true)
		checkLevels(rt, "sell", book.Sell, wantSell, false)

		again, err := agg.BuildBook(ctx, "ev")
		if err != nil {
			rt.Fatalf("rebuild book: %v", err)
		}
		if len(again.Buy) != len(book.Buy) || len(again.Sell) != len(book.Sell) {
			rt.Fatalf("rebuild not deterministic: %+v vs %+v", book, again)
		}
		for i := range book.Buy {
			if book.Buy[i] != again.Buy[i] {
				rt.Fatalf("rebuild differs at buy level %d", i)
			}
		}
		for i := range book.Sell {
			if book.Sell[i] != again.Sell[i] {
				rt.Fatalf("rebuild differs at sell level %d", i)
			}
		}
	})
}

func checkLevels(rt *rapid.T, side string, levels []model.PriceLevel, want map[int]int64, descending bool) {
	got := make(map[int]int64, len(levels))
	for i, lvl := range levels {
		got[lvl.Price] += lvl.Quantity
		if i > 0 {
			prev := levels[i-1].Price
			if descending && prev <= lvl.Price {
				rt.Fatalf("%s levels not descending: %d then %d", side, prev, lvl.Price)
			}
			if !descending && prev >= lvl.Price {
				rt.Fatalf("%s levels not ascending: %d then %d", side, prev, lvl.Price)
			}
		}
	}
	for price, qty := range want {
		if got[price] != qty {
			rt.Fatalf("%s level %d: got %d, want %d", side, price, got[price], qty)
		}
	}
	for price := range got {
		if _, ok := want[price]; !ok {
			rt.Fatalf("%s has unexpected level at %d", side, price)
		}
	}
}
