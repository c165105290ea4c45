// Package model defines the core domain types shared across the market engine.
// Prices are probabilities in cents (1–99); a YES contract pays 100 at
// resolution. User balances use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide distinguishes the two order directions. A BUY acquires YES
// exposure, a SELL takes the opposite side of it.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side used when searching the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order on the book.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled
}

// FillStatus derives the status implied by the remaining quantity:
// FILLED iff remaining == 0, PARTIALLY_FILLED iff 0 < remaining < quantity.
func FillStatus(remaining, quantity int64) OrderStatus {
	switch {
	case remaining == 0:
		return OrderFilled
	case remaining < quantity:
		return OrderPartiallyFilled
	default:
		return OrderOpen
	}
}

// Order is one user's intent to buy or sell YES exposure at a limit price.
// CreatedAt is the tie-break key for time priority.
type Order struct {
	ID                string      `json:"id" db:"id"`
	EventID           string      `json:"event_id" db:"event_id"`
	UserID            string      `json:"user_id" db:"user_id"`
	Side              OrderSide   `json:"side" db:"side"`
	Price             int         `json:"price" db:"price"` // limit price, 1–99
	Quantity          int64       `json:"quantity" db:"quantity"`
	QuantityRemaining int64       `json:"quantity_remaining" db:"quantity_remaining"`
	Status            OrderStatus `json:"status" db:"status"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// LockAmount returns the funds reserved for a given quantity of this order:
// price×quantity for a BUY (maximum cost), (100−price)×quantity for a SELL
// (maximum collateral, since a YES contract pays at most 100).
func (o *Order) LockAmount(quantity int64) decimal.Decimal {
	if o.Side == SideBuy {
		return decimal.NewFromInt(int64(o.Price) * quantity)
	}
	return decimal.NewFromInt(int64(100-o.Price) * quantity)
}

// Trade is an immutable receipt of one match. Once created it is never
// modified or deleted.
type Trade struct {
	ID          string    `json:"id" db:"id"`
	EventID     string    `json:"event_id" db:"event_id"`
	BuyerID     string    `json:"buyer_id" db:"buyer_id"`
	SellerID    string    `json:"seller_id" db:"seller_id"`
	BuyOrderID  string    `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id" db:"sell_order_id"`
	Quantity    int64     `json:"quantity" db:"quantity"`
	Price       int       `json:"price" db:"price"` // execution price, set by the resting order
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Holding is a user's net position in one event. Positive = net YES
// exposure, negative = net NO exposure. Exactly one row per (user, event);
// created lazily on first trade and zeroed (not deleted) on payout.
type Holding struct {
	ID       string `json:"id" db:"id"`
	UserID   string `json:"user_id" db:"user_id"`
	EventID  string `json:"event_id" db:"event_id"`
	Quantity int64  `json:"quantity" db:"quantity"`
}

// User carries the virtual balance of spendable, unlocked funds. Only the
// ledger mutates the balance.
type User struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// EventStatus is the market lifecycle state machine:
// SCHEDULED → OPEN → CLOSED → RESOLVED, or → CANCELED from any
// non-terminal state. Orders are admitted only while OPEN.
type EventStatus string

const (
	EventScheduled EventStatus = "SCHEDULED"
	EventOpen      EventStatus = "OPEN"
	EventClosed    EventStatus = "CLOSED"
	EventResolved  EventStatus = "RESOLVED"
	EventCanceled  EventStatus = "CANCELED"
)

// Terminal reports whether the event can no longer change state.
func (s EventStatus) Terminal() bool {
	return s == EventResolved || s == EventCanceled
}

// EventOutcome is the resolved result of a binary event.
type EventOutcome string

const (
	OutcomePending EventOutcome = "PENDING"
	OutcomeYes     EventOutcome = "YES"
	OutcomeNo      EventOutcome = "NO"
)

// Event is one binary-outcome market.
type Event struct {
	ID               string       `json:"id" db:"id"`
	Title            string       `json:"title" db:"title"`
	Description      string       `json:"description" db:"description"`
	Status           EventStatus  `json:"status" db:"status"`
	Outcome          EventOutcome `json:"outcome" db:"outcome"`
	TradingStartDate time.Time    `json:"trading_start_date" db:"trading_start_date"`
	TradingEndDate   time.Time    `json:"trading_end_date" db:"trading_end_date"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// PriceLevel is one aggregated line of the order book: total remaining
// quantity resting at a price.
type PriceLevel struct {
	Price    int   `json:"price"`
	Quantity int64 `json:"quantity"`
}

// OrderBook is the read-optimized, price-leveled view of an event's resting
// orders. Buy levels are sorted by price descending (best bid first), sell
// levels ascending (best ask first).
type OrderBook struct {
	EventID string       `json:"event_id"`
	Buy     []PriceLevel `json:"buy"`
	Sell    []PriceLevel `json:"sell"`
}
