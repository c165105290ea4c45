package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// querier is the subset of pgx shared by a pool and a transaction, so the
// same store methods serve both standalone calls and InTx closures.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgconnCommandTag = interface{ RowsAffected() int64 }

// poolQuerier adapts *pgxpool.Pool to the querier interface.
type poolQuerier struct{ pool *pgxpool.Pool }

func (p poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}
func (p poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}
func (p poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// txQuerier adapts pgx.Tx to the querier interface.
type txQuerier struct{ tx pgx.Tx }

func (t txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}
func (t txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}
func (t txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Balances are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: poolQuerier{pool: pool}}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.q.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			balance    NUMERIC(14,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS events (
			id                 TEXT PRIMARY KEY,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			outcome            TEXT NOT NULL,
			trading_start_date TIMESTAMPTZ NOT NULL,
			trading_end_date   TIMESTAMPTZ NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS orders (
			id                 TEXT PRIMARY KEY,
			event_id           TEXT NOT NULL REFERENCES events(id),
			user_id            TEXT NOT NULL REFERENCES users(id),
			side               TEXT NOT NULL,
			price              INT NOT NULL,
			quantity           BIGINT NOT NULL,
			quantity_remaining BIGINT NOT NULL,
			status             TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_event_status ON orders (event_id, status);
		CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id);
		CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			event_id      TEXT NOT NULL REFERENCES events(id),
			buyer_id      TEXT NOT NULL REFERENCES users(id),
			seller_id     TEXT NOT NULL REFERENCES users(id),
			buy_order_id  TEXT NOT NULL REFERENCES orders(id),
			sell_order_id TEXT NOT NULL REFERENCES orders(id),
			quantity      BIGINT NOT NULL,
			price         INT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_event ON trades (event_id);
		CREATE TABLE IF NOT EXISTS holdings (
			id       TEXT PRIMARY KEY,
			user_id  TEXT NOT NULL REFERENCES users(id),
			event_id TEXT NOT NULL REFERENCES events(id),
			quantity BIGINT NOT NULL,
			UNIQUE (user_id, event_id)
		);`)
	return err
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, username, balance, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		u.ID, u.Username, u.Balance.String(), u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.q.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

// DebitBalance debits atomically: the WHERE clause guards against taking
// the balance negative, so a concurrent debit can never overspend.
func (s *PostgresStore) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		userID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		return model.ErrInsufficientFunds
	}
	return nil
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE users SET balance = balance + $2::NUMERIC WHERE id = $1`,
		userID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO events (id, title, description, status, outcome, trading_start_date, trading_end_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Title, e.Description, e.Status, e.Outcome,
		e.TradingStartDate, e.TradingEndDate, e.CreatedAt,
	)
	return err
}

const eventColumns = `id, title, description, status, outcome, trading_start_date, trading_end_date, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.Outcome,
		&e.TradingStartDate, &e.TradingEndDate, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return scanEvent(s.q.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY trading_start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus, outcome model.EventOutcome) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE events SET status = $2, outcome = $3 WHERE id = $1`,
		id, status, outcome,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) ListEventsDue(ctx context.Context, status model.EventStatus, t time.Time) ([]model.Event, error) {
	column := "trading_start_date"
	if status == model.EventOpen {
		column = "trading_end_date"
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = $1 AND `+column+` < $2`,
		status, t,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.Outcome,
			&e.TradingStartDate, &e.TradingEndDate, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Orders ---

const orderColumns = `id, event_id, user_id, side, price, quantity, quantity_remaining, status, created_at`

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.EventID, o.UserID, o.Side, o.Price,
		o.Quantity, o.QuantityRemaining, o.Status, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := s.q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.EventID, &o.UserID, &o.Side, &o.Price,
			&o.Quantity, &o.QuantityRemaining, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

// CounterOrders pushes the price-time priority ordering into SQL: best
// price for the incoming side first, then earliest creation time.
func (s *PostgresStore) CounterOrders(ctx context.Context, eventID string, incoming model.OrderSide, price int) ([]model.Order, error) {
	var sql string
	if incoming == model.SideBuy {
		sql = `SELECT ` + orderColumns + ` FROM orders
		 WHERE event_id = $1 AND side = 'SELL' AND price <= $2
		   AND status IN ('OPEN', 'PARTIALLY_FILLED')
		 ORDER BY price ASC, created_at ASC, id ASC`
	} else {
		sql = `SELECT ` + orderColumns + ` FROM orders
		 WHERE event_id = $1 AND side = 'BUY' AND price >= $2
		   AND status IN ('OPEN', 'PARTIALLY_FILLED')
		 ORDER BY price DESC, created_at ASC, id ASC`
	}

	rows, err := s.q.Query(ctx, sql, eventID, price)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) OpenOrders(ctx context.Context, eventID string) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE event_id = $1 AND status IN ('OPEN', 'PARTIALLY_FILLED')`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (s *PostgresStore) UpdateOrderFill(ctx context.Context, id string, remaining int64, status model.OrderStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE orders SET quantity_remaining = $2, status = $3 WHERE id = $1`,
		id, remaining, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.EventID, &o.UserID, &o.Side, &o.Price,
			&o.Quantity, &o.QuantityRemaining, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- Trades ---

const tradeColumns = `id, event_id, buyer_id, seller_id, buy_order_id, sell_order_id, quantity, price, created_at`

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO trades (`+tradeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.EventID, t.BuyerID, t.SellerID, t.BuyOrderID, t.SellOrderID,
		t.Quantity, t.Price, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE event_id = $1 ORDER BY created_at`,
		eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.EventID, &t.BuyerID, &t.SellerID,
			&t.BuyOrderID, &t.SellOrderID, &t.Quantity, &t.Price, &t.CreatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Holdings ---

// AdjustHolding relies on the (user_id, event_id) unique constraint to
// keep exactly one row per pair; the row is created lazily at zero.
func (s *PostgresStore) AdjustHolding(ctx context.Context, userID, eventID string, delta int64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO holdings (id, user_id, event_id, quantity)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, event_id)
		 DO UPDATE SET quantity = holdings.quantity + EXCLUDED.quantity`,
		userID+"|"+eventID, userID, eventID, delta,
	)
	return err
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, eventID string) (*model.Holding, error) {
	var h model.Holding
	err := s.q.QueryRow(ctx,
		`SELECT id, user_id, event_id, quantity FROM holdings
		 WHERE user_id = $1 AND event_id = $2`, userID, eventID).
		Scan(&h.ID, &h.UserID, &h.EventID, &h.Quantity)
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, eventID, err)
	}
	return &h, nil
}

func (s *PostgresStore) ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.listHoldings(ctx, `user_id`, userID)
}

func (s *PostgresStore) ListHoldingsByEvent(ctx context.Context, eventID string) ([]model.Holding, error) {
	return s.listHoldings(ctx, `event_id`, eventID)
}

func (s *PostgresStore) listHoldings(ctx context.Context, column, value string) ([]model.Holding, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, event_id, quantity FROM holdings WHERE `+column+` = $1 ORDER BY user_id`,
		value,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.EventID, &h.Quantity); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// --- Transactions ---

// InTx runs fn inside a database transaction. A store already bound to a
// transaction joins it instead of opening a nested one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &PostgresStore{q: txQuerier{tx: tx}}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
