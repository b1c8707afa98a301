// postgres.go is the Postgres-backed Store, replacing the teacher's
// stub of the same name: every method here issues a real parameterized
// query through a pgxpool.Pool rather than returning "not yet
// implemented".
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nitinkhare/tradegateway/internal/apperr"
)

// schemaDDL creates the single orders table described in spec §6.
// signal and broker_reply are stored as JSONB columns. params is not
// stored as a JSON document: each of its fields (instrument, units,
// order_type, price, stop_loss, take_profit) has its own typed column.
// internal_id is the primary key; status and instrument get secondary
// indexes to support the position query.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	internal_id     TEXT PRIMARY KEY,
	received_at     TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	signal          JSONB NOT NULL,
	instrument      TEXT NOT NULL,
	units           NUMERIC NOT NULL,
	order_type      TEXT NOT NULL,
	price           NUMERIC,
	stop_loss       NUMERIC,
	take_profit     NUMERIC,
	status          TEXT NOT NULL,
	broker_order_id TEXT NOT NULL DEFAULT '',
	broker_trade_id TEXT NOT NULL DEFAULT '',
	fill_price      NUMERIC NOT NULL DEFAULT 0,
	fill_quantity   NUMERIC NOT NULL DEFAULT 0,
	broker_reply    JSONB,
	error_message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_instrument_idx ON orders (instrument);
`

// PostgresStore implements Store using pgx/v5's pooled connections.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connStr, verifies the connection with a
// ping, and ensures the orders table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) Create(ctx context.Context, signal json.RawMessage, params Params) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := ps.pool.Exec(ctx, `
		INSERT INTO orders (
			internal_id, received_at, created_at, updated_at, signal,
			instrument, units, order_type, price, stop_loss, take_profit,
			status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, now, now, now, signal,
		params.Instrument, params.Units, string(params.OrderType),
		decimalPtrOrNil(params.Price), decimalPtrOrNil(params.StopLoss), decimalPtrOrNil(params.TakeProfit),
		string(PendingSubmission),
	)
	if err != nil {
		return "", apperr.StoreUnavailable("create order", err)
	}
	return id, nil
}

func (ps *PostgresStore) ApplyReply(ctx context.Context, internalID string, outcome Outcome) (*Order, error) {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.StoreUnavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	order, err := getTx(ctx, tx, internalID)
	if err != nil {
		return nil, err
	}

	newStatus, err := nextStatus(order.Status, outcome.Kind)
	if err != nil {
		return order, err
	}

	if outcome.BrokerOrderID != "" {
		if order.BrokerOrderID != "" && order.BrokerOrderID != outcome.BrokerOrderID {
			return order, apperr.Conflict("broker_order_id already set to a different value", nil)
		}
		order.BrokerOrderID = outcome.BrokerOrderID
	}
	if outcome.BrokerTradeID != "" {
		order.BrokerTradeID = outcome.BrokerTradeID
	}
	if !outcome.FillPrice.IsZero() {
		order.FillPrice = outcome.FillPrice
	}
	if !outcome.FillQuantity.IsZero() {
		order.FillQuantity = outcome.FillQuantity
	}
	if outcome.ErrorMessage != "" {
		order.ErrorMessage = outcome.ErrorMessage
	}
	if outcome.RawReply != nil {
		order.BrokerReply = outcome.RawReply
	}
	order.Status = newStatus
	order.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
		UPDATE orders SET
			status = $1, broker_order_id = $2, broker_trade_id = $3,
			fill_price = $4, fill_quantity = $5, broker_reply = $6,
			error_message = $7, updated_at = $8
		WHERE internal_id = $9`,
		string(order.Status), order.BrokerOrderID, order.BrokerTradeID,
		order.FillPrice, order.FillQuantity, order.BrokerReply,
		order.ErrorMessage, order.UpdatedAt, internalID,
	)
	if err != nil {
		return nil, apperr.StoreUnavailable("apply reply", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.StoreUnavailable("commit reply", err)
	}
	return order, nil
}

func (ps *PostgresStore) Get(ctx context.Context, internalID string) (*Order, error) {
	row := ps.pool.QueryRow(ctx, selectColumns+` WHERE internal_id = $1`, internalID)
	return scanOrder(row)
}

func (ps *PostgresStore) ListAll(ctx context.Context) ([]*Order, error) {
	rows, err := ps.pool.Query(ctx, selectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.StoreUnavailable("list orders", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StoreUnavailable("list orders", err)
	}
	return out, nil
}

const selectColumns = `
	SELECT internal_id, received_at, created_at, updated_at, signal,
	       instrument, units, order_type, price, stop_loss, take_profit,
	       status, broker_order_id, broker_trade_id, fill_price,
	       fill_quantity, broker_reply, error_message
	FROM orders`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var orderType string
	var price, stopLoss, takeProfit *decimal.Decimal
	var brokerReply []byte

	err := row.Scan(
		&o.InternalID, &o.ReceivedAt, &o.CreatedAt, &o.UpdatedAt, &o.Signal,
		&o.Params.Instrument, &o.Params.Units, &orderType, &price, &stopLoss, &takeProfit,
		&o.Status, &o.BrokerOrderID, &o.BrokerTradeID, &o.FillPrice,
		&o.FillQuantity, &brokerReply, &o.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.StoreUnavailable("scan order", err)
	}
	o.Params.OrderType = OrderType(orderType)
	o.Params.Price = price
	o.Params.StopLoss = stopLoss
	o.Params.TakeProfit = takeProfit
	if brokerReply != nil {
		o.BrokerReply = json.RawMessage(brokerReply)
	}
	return &o, nil
}

func getTx(ctx context.Context, tx pgx.Tx, internalID string) (*Order, error) {
	row := tx.QueryRow(ctx, selectColumns+` WHERE internal_id = $1 FOR UPDATE`, internalID)
	return scanOrder(row)
}

func decimalPtrOrNil(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}
