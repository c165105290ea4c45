package engine

import (
	"context"
	"sort"

	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// Aggregator rebuilds the price-leveled order book view from the store.
// It is a pure projection of the current OPEN/PARTIALLY_FILLED order set:
// no side effects, and identical input always yields identical output.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an Aggregator on top of the given store.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// BuildBook groups remaining quantity by (side, price). Buy levels come
// back sorted by price descending (best bid first), sell levels ascending
// (best ask first).
func (a *Aggregator) BuildBook(ctx context.Context, eventID string) (*model.OrderBook, error) {
	orders, err := a.store.OpenOrders(ctx, eventID)
	if err != nil {
		return nil, err
	}

	buyLevels := make(map[int]int64)
	sellLevels := make(map[int]int64)
	for _, o := range orders {
		if o.Side == model.SideBuy {
			buyLevels[o.Price] += o.QuantityRemaining
		} else {
			sellLevels[o.Price] += o.QuantityRemaining
		}
	}

	book := &model.OrderBook{
		EventID: eventID,
		Buy:     levels(buyLevels, true),
		Sell:    levels(sellLevels, false),
	}
	return book, nil
}

func levels(byPrice map[int]int64, descending bool) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(byPrice))
	for price, qty := range byPrice {
		out = append(out, model.PriceLevel{Price: price, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}
