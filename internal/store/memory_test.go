package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

func seedOrder(t *testing.T, ms *store.MemoryStore, id, eventID string, side model.OrderSide, price int, qty int64, at time.Time) {
	t.Helper()
	err := ms.InsertOrder(context.Background(), &model.Order{
		ID:                id,
		EventID:           eventID,
		UserID:            "u",
		Side:              side,
		Price:             price,
		Quantity:          qty,
		QuantityRemaining: qty,
		Status:            model.OrderOpen,
		CreatedAt:         at,
	})
	if err != nil {
		t.Fatalf("failed to insert order %s: %v", id, err)
	}
}

func orderIDs(orders []model.Order) []string {
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func TestCounterOrders_PriorityForIncomingBuy(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	// Asks at mixed prices and times, plus one above the limit.
	seedOrder(t, ms, "a-42", "ev", model.SideSell, 42, 1, base)
	seedOrder(t, ms, "a-38-late", "ev", model.SideSell, 38, 1, base.Add(2*time.Second))
	seedOrder(t, ms, "a-38-early", "ev", model.SideSell, 38, 1, base.Add(time.Second))
	seedOrder(t, ms, "a-51", "ev", model.SideSell, 51, 1, base)
	// A resting bid must never appear as a counter-order for a buy.
	seedOrder(t, ms, "b-45", "ev", model.SideBuy, 45, 1, base)

	got, err := ms.CounterOrders(ctx, "ev", model.SideBuy, 50)
	if err != nil {
		t.Fatalf("counter orders failed: %v", err)
	}

	want := []string{"a-38-early", "a-38-late", "a-42"}
	ids := orderIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("counter orders = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestCounterOrders_PriorityForIncomingSell(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	seedOrder(t, ms, "b-60", "ev", model.SideBuy, 60, 1, base)
	seedOrder(t, ms, "b-65-late", "ev", model.SideBuy, 65, 1, base.Add(2*time.Second))
	seedOrder(t, ms, "b-65-early", "ev", model.SideBuy, 65, 1, base.Add(time.Second))
	seedOrder(t, ms, "b-50", "ev", model.SideBuy, 50, 1, base)

	got, err := ms.CounterOrders(ctx, "ev", model.SideSell, 55)
	if err != nil {
		t.Fatalf("counter orders failed: %v", err)
	}

	// Best bid first, FIFO within a price, bids below 55 excluded.
	want := []string{"b-65-early", "b-65-late", "b-60"}
	ids := orderIDs(got)
	if len(ids) != len(want) {
		t.Fatalf("counter orders = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestCounterOrders_ExcludesTerminal(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	seedOrder(t, ms, "live", "ev", model.SideSell, 40, 5, base)
	seedOrder(t, ms, "done", "ev", model.SideSell, 39, 5, base)
	if err := ms.UpdateOrderFill(ctx, "done", 0, model.OrderFilled); err != nil {
		t.Fatalf("update fill failed: %v", err)
	}

	got, err := ms.CounterOrders(ctx, "ev", model.SideBuy, 50)
	if err != nil {
		t.Fatalf("counter orders failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "live" {
		t.Fatalf("counter orders = %v, want [live]", orderIDs(got))
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateUser(ctx, &model.User{ID: "u", Username: "u", Balance: decimal.NewFromInt(500)}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	seedOrder(t, ms, "keep", "ev", model.SideBuy, 50, 5, time.Now().UTC())

	boom := errors.New("boom")
	err := ms.InTx(ctx, func(tx store.Store) error {
		if err := tx.DebitBalance(ctx, "u", decimal.NewFromInt(200)); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &model.Order{
			ID: "doomed", EventID: "ev", UserID: "u",
			Side: model.SideBuy, Price: 40, Quantity: 3, QuantityRemaining: 3,
			Status: model.OrderOpen, CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.AdjustHolding(ctx, "u", "ev", 7); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}

	u, err := ms.GetUser(ctx, "u")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.Balance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("balance = %s after rollback, want 500", u.Balance)
	}
	if _, err := ms.GetOrder(ctx, "doomed"); !errors.Is(err, model.ErrOrderNotFound) {
		t.Errorf("rolled-back order still present: err = %v", err)
	}
	if _, err := ms.GetHolding(ctx, "u", "ev"); err == nil {
		t.Error("rolled-back holding still present")
	}

	// The book index survives the rollback intact.
	counter, err := ms.CounterOrders(ctx, "ev", model.SideSell, 45)
	if err != nil {
		t.Fatalf("counter orders: %v", err)
	}
	if len(counter) != 1 || counter[0].ID != "keep" {
		t.Errorf("index after rollback = %v, want [keep]", orderIDs(counter))
	}
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateUser(ctx, &model.User{ID: "u", Username: "u", Balance: decimal.NewFromInt(500)}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := ms.InTx(ctx, func(tx store.Store) error {
		if err := tx.DebitBalance(ctx, "u", decimal.NewFromInt(200)); err != nil {
			return err
		}
		// Nested InTx joins the enclosing transaction.
		return tx.InTx(ctx, func(inner store.Store) error {
			return inner.CreditBalance(ctx, "u", decimal.NewFromInt(50))
		})
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	u, _ := ms.GetUser(ctx, "u")
	if !u.Balance.Equal(decimal.NewFromInt(350)) {
		t.Errorf("balance = %s, want 350", u.Balance)
	}
}

func TestListEventsDue(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	events := []model.Event{
		{ID: "due-open", Status: model.EventScheduled, TradingStartDate: now.Add(-time.Minute), TradingEndDate: now.Add(time.Hour)},
		{ID: "not-yet", Status: model.EventScheduled, TradingStartDate: now.Add(time.Hour), TradingEndDate: now.Add(2 * time.Hour)},
		{ID: "due-close", Status: model.EventOpen, TradingStartDate: now.Add(-2 * time.Hour), TradingEndDate: now.Add(-time.Minute)},
		{ID: "still-open", Status: model.EventOpen, TradingStartDate: now.Add(-2 * time.Hour), TradingEndDate: now.Add(time.Hour)},
	}
	for i := range events {
		events[i].Outcome = model.OutcomePending
		if err := ms.CreateEvent(ctx, &events[i]); err != nil {
			t.Fatalf("create event: %v", err)
		}
	}

	due, err := ms.ListEventsDue(ctx, model.EventScheduled, now)
	if err != nil {
		t.Fatalf("list due scheduled: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due-open" {
		t.Errorf("due scheduled = %v, want [due-open]", due)
	}

	due, err = ms.ListEventsDue(ctx, model.EventOpen, now)
	if err != nil {
		t.Fatalf("list due open: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due-close" {
		t.Errorf("due open = %v, want [due-close]", due)
	}
}

func TestDebitBalance_Insufficient(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.CreateUser(ctx, &model.User{ID: "u", Username: "u", Balance: decimal.NewFromInt(99)}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := ms.DebitBalance(ctx, "u", decimal.NewFromInt(100))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	u, _ := ms.GetUser(ctx, "u")
	if !u.Balance.Equal(decimal.NewFromInt(99)) {
		t.Errorf("balance = %s after failed debit, want 99", u.Balance)
	}

	if err := ms.DebitBalance(ctx, "u", decimal.NewFromInt(99)); err != nil {
		t.Fatalf("exact debit failed: %v", err)
	}
}

func TestAdjustHolding_LazyCreateAndAccumulate(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetHolding(ctx, "u", "ev"); err == nil {
		t.Fatal("holding exists before any adjustment")
	}

	for _, delta := range []int64{5, -2, -3} {
		if err := ms.AdjustHolding(ctx, "u", "ev", delta); err != nil {
			t.Fatalf("adjust holding: %v", err)
		}
	}

	h, err := ms.GetHolding(ctx, "u", "ev")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.Quantity != 0 {
		t.Errorf("holding = %d, want 0", h.Quantity)
	}
}
