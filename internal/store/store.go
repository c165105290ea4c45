// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// Store is the persistence interface. All fund and position movement goes
// through the ledger, which groups writes with InTx; individual methods
// make no atomicity promises beyond a single write.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user with their starting balance.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// DebitBalance subtracts amount from the user's balance. Fails with
	// model.ErrInsufficientFunds if the balance is smaller than amount,
	// without changing state.
	DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error

	// CreditBalance adds amount to the user's balance.
	CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error

	// --- Events ---

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)

	// UpdateEventStatus moves an event to a new status and outcome.
	UpdateEventStatus(ctx context.Context, id string, status model.EventStatus, outcome model.EventOutcome) error

	// ListEventsDue returns events in the given status whose deadline
	// (trading start for SCHEDULED, trading end for OPEN) passed before t.
	ListEventsDue(ctx context.Context, status model.EventStatus, t time.Time) ([]model.Event, error)

	// --- Orders ---

	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// CounterOrders returns the OPEN/PARTIALLY_FILLED orders on the side
	// opposite to incoming that are price-compatible with limit price,
	// in exact price-time priority order: best price for the incoming
	// side first (ascending for BUY, descending for SELL), ties broken
	// by earliest creation time.
	CounterOrders(ctx context.Context, eventID string, incoming model.OrderSide, price int) ([]model.Order, error)

	// OpenOrders returns all OPEN/PARTIALLY_FILLED orders for an event.
	OpenOrders(ctx context.Context, eventID string) ([]model.Order, error)

	// UpdateOrderFill persists an order's remaining quantity and status.
	UpdateOrderFill(ctx context.Context, id string, remaining int64, status model.OrderStatus) error

	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// --- Trades (immutable) ---

	InsertTrade(ctx context.Context, t *model.Trade) error
	ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error)
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Holdings ---

	// AdjustHolding adds delta to the (user, event) holding, creating the
	// row at zero if it does not exist yet.
	AdjustHolding(ctx context.Context, userID, eventID string, delta int64) error

	GetHolding(ctx context.Context, userID, eventID string) (*model.Holding, error)
	ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error)
	ListHoldingsByEvent(ctx context.Context, eventID string) ([]model.Holding, error)

	// --- Transactions ---

	// InTx runs fn against a transactional view of the store. All writes
	// made through the view commit together when fn returns nil and roll
	// back together when it returns an error.
	InTx(ctx context.Context, fn func(Store) error) error
}
