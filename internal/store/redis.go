package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: event lookups and per-user holdings.
// Order and balance reads always hit the primary: the matching engine and
// ledger must never act on stale data. Writes go to the primary and
// invalidate; transactional writes rely on the TTL to converge.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func eventKey(id string) string        { return fmt.Sprintf("event:%s", id) }
func holdingsKey(userID string) string { return fmt.Sprintf("holdings:%s", userID) }

// --- Cached reads ---

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err == nil {
		var e model.Event
		if json.Unmarshal(data, &e) == nil {
			return &e, nil
		}
	}

	e, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheEvent(ctx, e)
	return e, nil
}

func (s *CachedStore) ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(userID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(userID), data, s.ttl)
	}
	return holdings, nil
}

// --- Writes (write-through, invalidate) ---

func (s *CachedStore) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.CreateEvent(ctx, e); err != nil {
		return err
	}
	s.cacheEvent(ctx, e)
	return nil
}

func (s *CachedStore) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus, outcome model.EventOutcome) error {
	if err := s.primary.UpdateEventStatus(ctx, id, status, outcome); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventKey(id))
	return nil
}

func (s *CachedStore) AdjustHolding(ctx context.Context, userID, eventID string, delta int64) error {
	if err := s.primary.AdjustHolding(ctx, userID, eventID, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(userID))
	return nil
}

// --- Passthrough (must stay fresh, or cold paths) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.primary.DebitBalance(ctx, userID, amount)
}

func (s *CachedStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	return s.primary.CreditBalance(ctx, userID, amount)
}

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) ListEventsDue(ctx context.Context, status model.EventStatus, t time.Time) ([]model.Event, error) {
	return s.primary.ListEventsDue(ctx, status, t)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) CounterOrders(ctx context.Context, eventID string, incoming model.OrderSide, price int) ([]model.Order, error) {
	return s.primary.CounterOrders(ctx, eventID, incoming, price)
}

func (s *CachedStore) OpenOrders(ctx context.Context, eventID string) ([]model.Order, error) {
	return s.primary.OpenOrders(ctx, eventID)
}

func (s *CachedStore) UpdateOrderFill(ctx context.Context, id string, remaining int64, status model.OrderStatus) error {
	return s.primary.UpdateOrderFill(ctx, id, remaining, status)
}

func (s *CachedStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.ListOrdersByUser(ctx, userID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error) {
	return s.primary.ListTradesByEvent(ctx, eventID)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, eventID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, eventID)
}

func (s *CachedStore) ListHoldingsByEvent(ctx context.Context, eventID string) ([]model.Holding, error) {
	return s.primary.ListHoldingsByEvent(ctx, eventID)
}

// InTx delegates to the primary. Closures see the uncached transactional
// view; per-user holdings caches touched inside a transaction expire via
// TTL rather than explicit invalidation.
func (s *CachedStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.primary.InTx(ctx, fn)
}

func (s *CachedStore) cacheEvent(ctx context.Context, e *model.Event) {
	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, eventKey(e.ID), data, s.ttl)
	}
}
