// Package market provides the HTTP handlers and WebSocket hub for the
// trading venue: order placement and cancellation, order-book and trade
// reads, portfolios, and event administration.
//
// Authentication is an external collaborator; handlers take the caller's
// identity from the X-User-ID header set by the edge.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

// startingBalance is the virtual balance granted to new users.
var startingBalance = decimal.NewFromInt(10000)

// Service handles market operations over HTTP.
type Service struct {
	store      store.Store
	ledger     *ledger.Ledger
	engine     *engine.Engine
	dispatcher *engine.Dispatcher
	aggregator *engine.Aggregator
}

// NewService creates a new market service.
func NewService(st store.Store, lg *ledger.Ledger, eng *engine.Engine, d *engine.Dispatcher, agg *engine.Aggregator) *Service {
	return &Service{
		store:      st,
		ledger:     lg,
		engine:     eng,
		dispatcher: d,
		aggregator: agg,
	}
}

// Routes mounts all market endpoints on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/users", s.CreateUser)
	r.Get("/users/{userID}", s.GetUser)

	r.Get("/events", s.ListEvents)
	r.Post("/events", s.CreateEvent)
	r.Get("/events/{eventID}", s.GetEvent)
	r.Post("/events/{eventID}/open", s.OpenEvent)
	r.Post("/events/{eventID}/close", s.CloseEvent)
	r.Post("/events/{eventID}/resolve", s.ResolveEvent)
	r.Post("/events/{eventID}/cancel", s.CancelEvent)
	r.Get("/events/{eventID}/orderbook", s.GetOrderBook)
	r.Get("/events/{eventID}/trades", s.GetEventTrades)

	r.Post("/orders", s.PlaceOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Post("/admin/orders/{orderID}/rematch", s.RematchOrder)

	r.Get("/portfolio/{userID}", s.GetPortfolio)
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	EventID  string          `json:"event_id"`
	Side     model.OrderSide `json:"side"`
	Price    int             `json:"price"`    // 1–99
	Quantity int64           `json:"quantity"` // ≥ 1
}

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Username string `json:"username"`
}

// CreateEventRequest is the JSON body for POST /events.
type CreateEventRequest struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TradingStartDate time.Time `json:"trading_start_date"`
	TradingEndDate   time.Time `json:"trading_end_date"`
}

// ResolveEventRequest is the JSON body for POST /events/{id}/resolve.
type ResolveEventRequest struct {
	Outcome model.EventOutcome `json:"outcome"`
}

// Portfolio is the response for GET /portfolio/{userID}.
type Portfolio struct {
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Holdings []model.Holding `json:"holdings"`
	Orders   []model.Order   `json:"orders"`
	Trades   []model.Trade   `json:"trades"`
}

// --- Order handlers ---

// PlaceOrder handles POST /orders. Admission is synchronous: the lock and
// order insert commit before the response. Matching runs asynchronously
// afterwards; its outcome is never part of this response.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.ledger.PlaceOrder(r.Context(), userID, req.EventID, req.Side, req.Price, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.dispatcher.Enqueue(order.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// CancelOrder handles DELETE /orders/{orderID}.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, "X-User-ID header is required", http.StatusUnauthorized)
		return
	}
	orderID := chi.URLParam(r, "orderID")

	order, err := s.engine.Cancel(r.Context(), orderID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(order)
}

// RematchOrder handles POST /admin/orders/{orderID}/rematch, the
// operator-triggered re-run for orders whose matching run failed.
func (s *Service) RematchOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.dispatcher.Enqueue(order.ID)
	slog.Info("rematch requested", "order_id", order.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "order_id": order.ID})
}

// --- Read handlers ---

// GetOrderBook handles GET /events/{eventID}/orderbook.
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	if _, err := s.store.GetEvent(r.Context(), eventID); err != nil {
		writeDomainError(w, err)
		return
	}

	book, err := s.aggregator.BuildBook(r.Context(), eventID)
	if err != nil {
		writeError(w, "failed to build order book", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

// GetEventTrades handles GET /events/{eventID}/trades.
func (s *Service) GetEventTrades(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	trades, err := s.store.ListTradesByEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetPortfolio handles GET /portfolio/{userID}: balance, holdings, orders,
// and trade history for one user.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	holdings, err := s.store.ListHoldingsByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load holdings", http.StatusInternalServerError)
		return
	}
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load orders", http.StatusInternalServerError)
		return
	}
	trades, err := s.store.ListTradesByUser(ctx, userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	if holdings == nil {
		holdings = []model.Holding{}
	}
	if orders == nil {
		orders = []model.Order{}
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Portfolio{
		UserID:   userID,
		Balance:  user.Balance,
		Holdings: holdings,
		Orders:   orders,
		Trades:   trades,
	})
}

// --- User handlers ---

// CreateUser handles POST /users.
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Balance:   startingBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// GetUser handles GET /users/{userID}.
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// --- Event handlers ---

// ListEvents handles GET /events.
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// GetEvent handles GET /events/{eventID}.
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.store.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// CreateEvent handles POST /events. Events start SCHEDULED; the lifecycle
// scheduler opens them when their trading window begins.
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}
	if !req.TradingEndDate.After(req.TradingStartDate) {
		writeError(w, "trading_end_date must be after trading_start_date", http.StatusBadRequest)
		return
	}

	event := &model.Event{
		ID:               uuid.New().String(),
		Title:            req.Title,
		Description:      req.Description,
		Status:           model.EventScheduled,
		Outcome:          model.OutcomePending,
		TradingStartDate: req.TradingStartDate,
		TradingEndDate:   req.TradingEndDate,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateEvent(r.Context(), event); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("event created", "event_id", event.ID, "title", event.Title)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(event)
}

// OpenEvent handles POST /events/{eventID}/open: the manual override for
// opening a SCHEDULED event ahead of its trading window.
func (s *Service) OpenEvent(w http.ResponseWriter, r *http.Request) {
	s.transitionEvent(w, r, model.EventScheduled, model.EventOpen)
}

// CloseEvent handles POST /events/{eventID}/close: the manual override for
// closing an OPEN event before its trading window ends.
func (s *Service) CloseEvent(w http.ResponseWriter, r *http.Request) {
	s.transitionEvent(w, r, model.EventOpen, model.EventClosed)
}

func (s *Service) transitionEvent(w http.ResponseWriter, r *http.Request, from, to model.EventStatus) {
	eventID := chi.URLParam(r, "eventID")
	ctx := r.Context()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if event.Status != from {
		if event.Status.Terminal() {
			writeDomainError(w, model.ErrEventTerminal)
			return
		}
		writeError(w, fmt.Sprintf("event is %s, expected %s", event.Status, from), http.StatusConflict)
		return
	}

	if err := s.store.UpdateEventStatus(ctx, eventID, to, event.Outcome); err != nil {
		writeError(w, "failed to update event", http.StatusInternalServerError)
		return
	}
	event.Status = to

	slog.Info("event status changed", "event_id", eventID, "status", to)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// ResolveEvent handles POST /events/{eventID}/resolve. Only CLOSED,
// unresolved events can be resolved; resolution triggers the payout sweep.
func (s *Service) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req ResolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if event.Status != model.EventClosed || event.Outcome != model.OutcomePending {
		writeDomainError(w, model.ErrEventNotResolvable)
		return
	}

	if err := s.store.UpdateEventStatus(ctx, eventID, model.EventResolved, req.Outcome); err != nil {
		writeError(w, "failed to resolve event", http.StatusInternalServerError)
		return
	}
	event.Status = model.EventResolved
	event.Outcome = req.Outcome

	if err := s.ledger.PayoutEvent(ctx, event); err != nil {
		// The event is resolved; payout must be retried operationally.
		slog.Error("payout sweep failed", "event_id", eventID, "err", err)
		writeError(w, "event resolved but payout failed", http.StatusInternalServerError)
		return
	}

	slog.Info("event resolved", "event_id", eventID, "outcome", req.Outcome)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// CancelEvent handles POST /events/{eventID}/cancel. Allowed from any
// non-terminal state.
func (s *Service) CancelEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	ctx := r.Context()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if event.Status.Terminal() {
		writeDomainError(w, model.ErrEventTerminal)
		return
	}

	if err := s.store.UpdateEventStatus(ctx, eventID, model.EventCanceled, event.Outcome); err != nil {
		writeError(w, "failed to cancel event", http.StatusInternalServerError)
		return
	}
	event.Status = model.EventCanceled

	slog.Info("event canceled", "event_id", eventID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// --- Error helpers ---

// writeDomainError maps domain errors to HTTP statuses: validation → 400,
// missing entities → 404, business-rule conflicts → 409, everything
// unexpected → 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidPrice),
		errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidSide):
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrEventNotFound),
		errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrOrderNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInsufficientFunds):
		metrics.OrdersRejected.WithLabelValues("insufficient_funds").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrEventNotOpen),
		errors.Is(err, model.ErrEventNotResolvable),
		errors.Is(err, model.ErrEventTerminal),
		errors.Is(err, model.ErrOrderNotCancellable):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrNotOrderOwner):
		writeError(w, err.Error(), http.StatusForbidden)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
