// Package ledger owns every movement of value: collateral locks at order
// admission, trade settlement, cancel refunds, and the payout sweep at
// resolution. No other component mutates balances or holdings.
//
// All fund movements run inside a store transaction; each operation here
// commits completely or not at all.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// Ledger executes atomic fund and position movements against the store.
type Ledger struct {
	store store.Store
}

// New creates a Ledger on top of the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// PlaceOrder admits a new order: it validates the event window and price
// range, locks the maximum collateral from the user's balance, and persists
// the OPEN order. The balance debit and the order insert commit together.
//
// A BUY locks price×quantity (maximum cost). A SELL locks
// (100−price)×quantity, the ceiling of the seller's exposure since a YES
// contract pays at most 100.
//
// Matching is NOT triggered here; the caller hands the returned order to
// the engine's dispatcher after this commits.
func (l *Ledger) PlaceOrder(ctx context.Context, userID, eventID string, side model.OrderSide, price int, quantity int64) (*model.Order, error) {
	if !side.Valid() {
		return nil, model.ErrInvalidSide
	}
	if price < 1 || price > 99 {
		return nil, model.ErrInvalidPrice
	}
	if quantity < 1 {
		return nil, model.ErrInvalidQuantity
	}

	event, err := l.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != model.EventOpen {
		return nil, model.ErrEventNotOpen
	}

	order := &model.Order{
		ID:                uuid.New().String(),
		EventID:           eventID,
		UserID:            userID,
		Side:              side,
		Price:             price,
		Quantity:          quantity,
		QuantityRemaining: quantity,
		Status:            model.OrderOpen,
		CreatedAt:         time.Now().UTC(),
	}
	lock := order.LockAmount(quantity)

	err = l.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.DebitBalance(ctx, userID, lock); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(side)).Inc()
	slog.Info("order placed",
		"order_id", order.ID,
		"event_id", eventID,
		"user", userID,
		"side", side,
		"price", price,
		"quantity", quantity,
		"locked", lock.String(),
	)
	return order, nil
}

// SettleTrade executes one match as a single atomic unit: it records the
// immutable trade and moves funds and positions for both parties.
//
// The buyer locked buyOrder.price×qty; the trade costs price×qty, so the
// difference is refunded. The seller locked (100−sellOrder.price)×qty;
// the required collateral at the execution price is (100−price)×qty, so
// the over-lock is released and the buyer's cash (price×qty) is credited.
// Exactly price×qty leaves the buyer's lock and enters the seller's
// balance; no value is created or destroyed.
func (l *Ledger) SettleTrade(ctx context.Context, buyOrder, sellOrder *model.Order, quantity int64, price int) (*model.Trade, error) {
	trade := &model.Trade{
		ID:          uuid.New().String(),
		EventID:     buyOrder.EventID,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Quantity:    quantity,
		Price:       price,
		CreatedAt:   time.Now().UTC(),
	}

	buyerRefund := decimal.NewFromInt(int64(buyOrder.Price-price) * quantity)
	sellerCredit := decimal.NewFromInt((int64(price-sellOrder.Price) + int64(price)) * quantity)

	err := l.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		if err := tx.AdjustHolding(ctx, buyOrder.UserID, trade.EventID, quantity); err != nil {
			return err
		}
		if !buyerRefund.IsZero() {
			if err := tx.CreditBalance(ctx, buyOrder.UserID, buyerRefund); err != nil {
				return err
			}
		}

		if err := tx.AdjustHolding(ctx, sellOrder.UserID, trade.EventID, -quantity); err != nil {
			return err
		}
		return tx.CreditBalance(ctx, sellOrder.UserID, sellerCredit)
	})
	if err != nil {
		return nil, fmt.Errorf("settle trade: %w", err)
	}

	metrics.TradesSettled.Inc()
	metrics.TradeVolume.Add(float64(quantity))
	slog.Info("trade settled",
		"trade_id", trade.ID,
		"event_id", trade.EventID,
		"buyer", trade.BuyerID,
		"seller", trade.SellerID,
		"quantity", quantity,
		"price", price,
	)
	return trade, nil
}

// CancelOrder cancels an open or partially filled order and refunds the
// lock still held for the unfilled quantity. Only the order's owner may
// cancel. Terminal orders fail with ErrOrderNotCancellable.
func (l *Ledger) CancelOrder(ctx context.Context, orderID, userID string) (*model.Order, error) {
	var canceled *model.Order

	err := l.store.InTx(ctx, func(tx store.Store) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return model.ErrNotOrderOwner
		}
		if order.Status.Terminal() {
			return model.ErrOrderNotCancellable
		}

		refund := order.LockAmount(order.QuantityRemaining)
		if err := tx.CreditBalance(ctx, order.UserID, refund); err != nil {
			return err
		}
		if err := tx.UpdateOrderFill(ctx, order.ID, order.QuantityRemaining, model.OrderCanceled); err != nil {
			return err
		}

		order.Status = model.OrderCanceled
		canceled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("order canceled", "order_id", canceled.ID, "event_id", canceled.EventID, "user", userID)
	return canceled, nil
}

// PayoutEvent sweeps a resolved event: each holder on the winning side is
// credited 100 per contract, and every holding is zeroed (not deleted) so
// the position history stays queryable. The sweep is one transaction.
func (l *Ledger) PayoutEvent(ctx context.Context, event *model.Event) error {
	if event.Status != model.EventResolved {
		return fmt.Errorf("payout on %s event %s", event.Status, event.ID)
	}

	return l.store.InTx(ctx, func(tx store.Store) error {
		holdings, err := tx.ListHoldingsByEvent(ctx, event.ID)
		if err != nil {
			return err
		}

		for _, h := range holdings {
			if h.Quantity == 0 {
				continue
			}

			var winning int64
			switch {
			case event.Outcome == model.OutcomeYes && h.Quantity > 0:
				winning = h.Quantity
			case event.Outcome == model.OutcomeNo && h.Quantity < 0:
				winning = -h.Quantity
			}
			if winning > 0 {
				payout := decimal.NewFromInt(100 * winning)
				if err := tx.CreditBalance(ctx, h.UserID, payout); err != nil {
					return err
				}
				slog.Info("payout credited",
					"event_id", event.ID, "user", h.UserID, "contracts", winning, "amount", payout.String())
			}

			if err := tx.AdjustHolding(ctx, h.UserID, h.EventID, -h.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}
