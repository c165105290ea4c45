package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// bookEntry is the per-order key kept in the price-time indexes. Quantity
// is looked up from the order map at scan time, so partial fills do not
// require index updates.
type bookEntry struct {
	Price     int
	CreatedAt time.Time
	OrderID   string
}

// buyLess orders the bid index: price descending, then created_at
// ascending, then order id. The first entry is the best bid.
func buyLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// sellLess orders the ask index: price ascending, then created_at
// ascending, then order id. The first entry is the best ask.
func sellLess(a, b bookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// eventIndex holds the two resting-order indexes for one event.
type eventIndex struct {
	buys  *btree.BTreeG[bookEntry]
	sells *btree.BTreeG[bookEntry]
}

func newEventIndex() *eventIndex {
	const degree = 32
	return &eventIndex{
		buys:  btree.NewG(degree, buyLess),
		sells: btree.NewG(degree, sellLess),
	}
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]model.User
	events   map[string]model.Event
	orders   map[string]model.Order
	trades   []model.Trade
	holdings map[string]model.Holding // userID|eventID
	indexes  map[string]*eventIndex   // eventID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]model.User),
		events:   make(map[string]model.Event),
		orders:   make(map[string]model.Order),
		holdings: make(map[string]model.Holding),
		indexes:  make(map[string]*eventIndex),
	}
}

func holdingKey(userID, eventID string) string { return userID + "|" + eventID }

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUser(u)
}

func (s *MemoryStore) createUser(u *model.User) error {
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists", u.ID)
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(id)
}

func (s *MemoryStore) getUser(id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) DebitBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitBalance(userID, amount)
}

func (s *MemoryStore) debitBalance(userID string, amount decimal.Decimal) error {
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	if u.Balance.LessThan(amount) {
		return model.ErrInsufficientFunds
	}
	u.Balance = u.Balance.Sub(amount)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditBalance(userID, amount)
}

func (s *MemoryStore) creditBalance(userID string, amount decimal.Decimal) error {
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.Balance = u.Balance.Add(amount)
	s.users[userID] = u
	return nil
}

// --- Events ---

func (s *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEvent(e)
}

func (s *MemoryStore) createEvent(e *model.Event) error {
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	s.events[e.ID] = *e
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEvent(id)
}

func (s *MemoryStore) getEvent(id string) (*model.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	return &e, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEvents()
}

func (s *MemoryStore) listEvents() ([]model.Event, error) {
	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].TradingStartDate.Before(events[j].TradingStartDate)
	})
	return events, nil
}

func (s *MemoryStore) UpdateEventStatus(_ context.Context, id string, status model.EventStatus, outcome model.EventOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEventStatus(id, status, outcome)
}

func (s *MemoryStore) updateEventStatus(id string, status model.EventStatus, outcome model.EventOutcome) error {
	e, ok := s.events[id]
	if !ok {
		return model.ErrEventNotFound
	}
	e.Status = status
	e.Outcome = outcome
	s.events[id] = e
	return nil
}

func (s *MemoryStore) ListEventsDue(_ context.Context, status model.EventStatus, t time.Time) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEventsDue(status, t)
}

func (s *MemoryStore) listEventsDue(status model.EventStatus, t time.Time) ([]model.Event, error) {
	var due []model.Event
	for _, e := range s.events {
		if e.Status != status {
			continue
		}
		deadline := e.TradingStartDate
		if status == model.EventOpen {
			deadline = e.TradingEndDate
		}
		if deadline.Before(t) {
			due = append(due, e)
		}
	}
	return due, nil
}

// --- Orders ---

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrder(o)
}

func (s *MemoryStore) insertOrder(o *model.Order) error {
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = *o
	if !o.Status.Terminal() {
		s.index(o.EventID).insert(o)
	}
	return nil
}

func (s *MemoryStore) index(eventID string) *eventIndex {
	idx, ok := s.indexes[eventID]
	if !ok {
		idx = newEventIndex()
		s.indexes[eventID] = idx
	}
	return idx
}

func (idx *eventIndex) insert(o *model.Order) {
	entry := bookEntry{Price: o.Price, CreatedAt: o.CreatedAt, OrderID: o.ID}
	if o.Side == model.SideBuy {
		idx.buys.ReplaceOrInsert(entry)
	} else {
		idx.sells.ReplaceOrInsert(entry)
	}
}

func (idx *eventIndex) remove(o *model.Order) {
	entry := bookEntry{Price: o.Price, CreatedAt: o.CreatedAt, OrderID: o.ID}
	if o.Side == model.SideBuy {
		idx.buys.Delete(entry)
	} else {
		idx.sells.Delete(entry)
	}
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOrder(id)
}

func (s *MemoryStore) getOrder(id string) (*model.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return &o, nil
}

func (s *MemoryStore) CounterOrders(_ context.Context, eventID string, incoming model.OrderSide, price int) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counterOrders(eventID, incoming, price)
}

// counterOrders walks the opposite-side index, which is already sorted in
// priority order, and stops at the first price-incompatible entry.
func (s *MemoryStore) counterOrders(eventID string, incoming model.OrderSide, price int) ([]model.Order, error) {
	idx, ok := s.indexes[eventID]
	if !ok {
		return nil, nil
	}

	var result []model.Order
	walk := func(entry bookEntry) bool {
		if incoming == model.SideBuy && entry.Price > price {
			return false
		}
		if incoming == model.SideSell && entry.Price < price {
			return false
		}
		if o, ok := s.orders[entry.OrderID]; ok && !o.Status.Terminal() {
			result = append(result, o)
		}
		return true
	}

	if incoming == model.SideBuy {
		idx.sells.Ascend(walk)
	} else {
		idx.buys.Ascend(walk)
	}
	return result, nil
}

func (s *MemoryStore) OpenOrders(_ context.Context, eventID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openOrders(eventID)
}

func (s *MemoryStore) openOrders(eventID string) ([]model.Order, error) {
	idx, ok := s.indexes[eventID]
	if !ok {
		return nil, nil
	}
	var result []model.Order
	collect := func(entry bookEntry) bool {
		if o, ok := s.orders[entry.OrderID]; ok && !o.Status.Terminal() {
			result = append(result, o)
		}
		return true
	}
	idx.buys.Ascend(collect)
	idx.sells.Ascend(collect)
	return result, nil
}

func (s *MemoryStore) UpdateOrderFill(_ context.Context, id string, remaining int64, status model.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateOrderFill(id, remaining, status)
}

func (s *MemoryStore) updateOrderFill(id string, remaining int64, status model.OrderStatus) error {
	o, ok := s.orders[id]
	if !ok {
		return model.ErrOrderNotFound
	}
	o.QuantityRemaining = remaining
	o.Status = status
	s.orders[id] = o
	if status.Terminal() {
		if idx, ok := s.indexes[o.EventID]; ok {
			idx.remove(&o)
		}
	}
	return nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdersByUser(userID)
}

func (s *MemoryStore) listOrdersByUser(userID string) ([]model.Order, error) {
	var result []model.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTrade(t)
}

func (s *MemoryStore) insertTrade(t *model.Trade) error {
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTradesByEvent(_ context.Context, eventID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTradesByEvent(eventID)
}

func (s *MemoryStore) listTradesByEvent(eventID string) ([]model.Trade, error) {
	var result []model.Trade
	for _, t := range s.trades {
		if t.EventID == eventID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTradesByUser(userID)
}

func (s *MemoryStore) listTradesByUser(userID string) ([]model.Trade, error) {
	var result []model.Trade
	for _, t := range s.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

// --- Holdings ---

func (s *MemoryStore) AdjustHolding(_ context.Context, userID, eventID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustHolding(userID, eventID, delta)
}

func (s *MemoryStore) adjustHolding(userID, eventID string, delta int64) error {
	key := holdingKey(userID, eventID)
	h, ok := s.holdings[key]
	if !ok {
		h = model.Holding{ID: key, UserID: userID, EventID: eventID}
	}
	h.Quantity += delta
	s.holdings[key] = h
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, eventID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getHolding(userID, eventID)
}

func (s *MemoryStore) getHolding(userID, eventID string) (*model.Holding, error) {
	h, ok := s.holdings[holdingKey(userID, eventID)]
	if !ok {
		return nil, fmt.Errorf("no holding for user %s in event %s", userID, eventID)
	}
	return &h, nil
}

func (s *MemoryStore) ListHoldingsByUser(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listHoldingsByUser(userID)
}

func (s *MemoryStore) listHoldingsByUser(userID string) ([]model.Holding, error) {
	var result []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			result = append(result, h)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListHoldingsByEvent(_ context.Context, eventID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listHoldingsByEvent(eventID)
}

func (s *MemoryStore) listHoldingsByEvent(eventID string) ([]model.Holding, error) {
	var result []model.Holding
	for _, h := range s.holdings {
		if h.EventID == eventID {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

// --- Transactions ---

// InTx holds the write lock for the whole closure and restores a snapshot
// of the maps if fn fails, so the memory store gives the same all-or-nothing
// behavior as the SQL store.
func (s *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	users    map[string]model.User
	events   map[string]model.Event
	orders   map[string]model.Order
	trades   []model.Trade
	holdings map[string]model.Holding
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		users:    make(map[string]model.User, len(s.users)),
		events:   make(map[string]model.Event, len(s.events)),
		orders:   make(map[string]model.Order, len(s.orders)),
		trades:   make([]model.Trade, len(s.trades)),
		holdings: make(map[string]model.Holding, len(s.holdings)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	copy(snap.trades, s.trades)
	for k, v := range s.holdings {
		snap.holdings[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.users = snap.users
	s.events = snap.events
	s.orders = snap.orders
	s.trades = snap.trades
	s.holdings = snap.holdings

	// Rebuild the price-time indexes from the restored order set.
	s.indexes = make(map[string]*eventIndex)
	for id := range s.orders {
		o := s.orders[id]
		if !o.Status.Terminal() {
			s.index(o.EventID).insert(&o)
		}
	}
}

// memTx is the transactional view handed to InTx closures. The enclosing
// InTx already holds the write lock, so methods call the unlocked internals.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) CreateUser(_ context.Context, u *model.User) error { return t.s.createUser(u) }
func (t *memTx) GetUser(_ context.Context, id string) (*model.User, error) {
	return t.s.getUser(id)
}
func (t *memTx) DebitBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	return t.s.debitBalance(userID, amount)
}
func (t *memTx) CreditBalance(_ context.Context, userID string, amount decimal.Decimal) error {
	return t.s.creditBalance(userID, amount)
}
func (t *memTx) CreateEvent(_ context.Context, e *model.Event) error { return t.s.createEvent(e) }
func (t *memTx) GetEvent(_ context.Context, id string) (*model.Event, error) {
	return t.s.getEvent(id)
}
func (t *memTx) ListEvents(_ context.Context) ([]model.Event, error) { return t.s.listEvents() }
func (t *memTx) UpdateEventStatus(_ context.Context, id string, status model.EventStatus, outcome model.EventOutcome) error {
	return t.s.updateEventStatus(id, status, outcome)
}
func (t *memTx) ListEventsDue(_ context.Context, status model.EventStatus, at time.Time) ([]model.Event, error) {
	return t.s.listEventsDue(status, at)
}
func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error { return t.s.insertOrder(o) }
func (t *memTx) GetOrder(_ context.Context, id string) (*model.Order, error) {
	return t.s.getOrder(id)
}
func (t *memTx) CounterOrders(_ context.Context, eventID string, incoming model.OrderSide, price int) ([]model.Order, error) {
	return t.s.counterOrders(eventID, incoming, price)
}
func (t *memTx) OpenOrders(_ context.Context, eventID string) ([]model.Order, error) {
	return t.s.openOrders(eventID)
}
func (t *memTx) UpdateOrderFill(_ context.Context, id string, remaining int64, status model.OrderStatus) error {
	return t.s.updateOrderFill(id, remaining, status)
}
func (t *memTx) ListOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	return t.s.listOrdersByUser(userID)
}
func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error { return t.s.insertTrade(tr) }
func (t *memTx) ListTradesByEvent(_ context.Context, eventID string) ([]model.Trade, error) {
	return t.s.listTradesByEvent(eventID)
}
func (t *memTx) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	return t.s.listTradesByUser(userID)
}
func (t *memTx) AdjustHolding(_ context.Context, userID, eventID string, delta int64) error {
	return t.s.adjustHolding(userID, eventID, delta)
}
func (t *memTx) GetHolding(_ context.Context, userID, eventID string) (*model.Holding, error) {
	return t.s.getHolding(userID, eventID)
}
func (t *memTx) ListHoldingsByUser(_ context.Context, userID string) ([]model.Holding, error) {
	return t.s.listHoldingsByUser(userID)
}
func (t *memTx) ListHoldingsByEvent(_ context.Context, eventID string) ([]model.Holding, error) {
	return t.s.listHoldingsByEvent(eventID)
}

// InTx on a transactional view joins the enclosing transaction.
func (t *memTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}
