package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow/internal/models"
)

// DB wraps a PostgreSQL connection pool. The orders table is the single
// source of truth for order state; every transition goes through a
// conditional update keyed on the expected prior status.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks database reachability.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	chain_id BIGINT NOT NULL,
	swapper_address TEXT NOT NULL,
	reactor_address TEXT NOT NULL,
	cosigner_address TEXT NOT NULL,
	exclusive_filler TEXT NOT NULL DEFAULT '0x0000000000000000000000000000000000000000',
	input_token TEXT NOT NULL,
	input_amount TEXT NOT NULL,
	output_token TEXT NOT NULL,
	output_amount TEXT NOT NULL,
	min_output_amount TEXT NOT NULL,
	serialized_order TEXT NOT NULL,
	order_hash TEXT NOT NULL UNIQUE,
	nonce TEXT NOT NULL,
	deadline BIGINT NOT NULL,
	decay_start_time BIGINT NOT NULL,
	decay_end_time BIGINT NOT NULL,
	status TEXT NOT NULL,
	order_signature TEXT,
	cosigner_signature TEXT NOT NULL,
	tx_hash TEXT,
	gas_used TEXT,
	effective_gas_price TEXT,
	block_number BIGINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_status_deadline ON orders (status, deadline);
CREATE INDEX IF NOT EXISTS idx_orders_swapper ON orders (swapper_address, created_at DESC);
`

// EnsureSchema creates the orders table and indexes if they do not exist.
// Run at startup, before the server accepts traffic.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const orderColumns = `id, chain_id, swapper_address, reactor_address, cosigner_address,
	exclusive_filler, input_token, input_amount, output_token, output_amount,
	min_output_amount, serialized_order, order_hash, nonce, deadline,
	decay_start_time, decay_end_time, status, order_signature,
	cosigner_signature, tx_hash, gas_used, effective_gas_price, block_number,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.ChainID,
		&order.SwapperAddress,
		&order.ReactorAddress,
		&order.CosignerAddress,
		&order.ExclusiveFiller,
		&order.InputToken,
		&order.InputAmount,
		&order.OutputToken,
		&order.OutputAmount,
		&order.MinOutputAmount,
		&order.SerializedOrder,
		&order.OrderHash,
		&order.Nonce,
		&order.Deadline,
		&order.DecayStartTime,
		&order.DecayEndTime,
		&order.Status,
		&order.OrderSignature,
		&order.CosignerSignature,
		&order.TxHash,
		&order.GasUsed,
		&order.EffectiveGasPrice,
		&order.BlockNumber,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder inserts a new order record in AWAITING_SIGNATURE and returns
// the generated id. Addresses are lower-cased for comparison.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO orders (
			chain_id, swapper_address, reactor_address, cosigner_address,
			exclusive_filler, input_token, input_amount, output_token,
			output_amount, min_output_amount, serialized_order, order_hash,
			nonce, deadline, decay_start_time, decay_end_time, status,
			cosigner_signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		order.ChainID,
		strings.ToLower(order.SwapperAddress),
		strings.ToLower(order.ReactorAddress),
		strings.ToLower(order.CosignerAddress),
		strings.ToLower(order.ExclusiveFiller),
		strings.ToLower(order.InputToken),
		order.InputAmount,
		strings.ToLower(order.OutputToken),
		order.OutputAmount,
		order.MinOutputAmount,
		order.SerializedOrder,
		strings.ToLower(order.OrderHash),
		order.Nonce,
		order.Deadline,
		order.DecayStartTime,
		order.DecayEndTime,
		models.StatusAwaitingSignature,
		order.CosignerSignature,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", models.ErrOrderHashExists
		}
		return "", fmt.Errorf("failed to create order: %w", err)
	}
	return id, nil
}

// GetOrderByID retrieves an order by its database id.
func (db *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrderByHash retrieves an order by its protocol-level order hash.
func (db *DB) GetOrderByHash(ctx context.Context, orderHash string) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_hash = $1`,
		strings.ToLower(orderHash)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order by hash: %w", err)
	}
	return order, nil
}

// SubmitSignature records the swapper signature and transitions the order
// from AWAITING_SIGNATURE to PENDING. The row is locked for the duration of
// the check so two concurrent submissions cannot both succeed.
func (db *DB) SubmitSignature(ctx context.Context, id, signature string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrOrderNotFound
		}
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if status != models.StatusAwaitingSignature {
		return fmt.Errorf("%w: expected %s, have %s",
			models.ErrInvalidState, models.StatusAwaitingSignature, status)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET order_signature = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		signature, models.StatusPending, id, models.StatusAwaitingSignature)
	if err != nil {
		return fmt.Errorf("failed to record signature: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order no longer awaiting signature", models.ErrInvalidState)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordExecution transitions a PENDING order to EXECUTED and persists the
// settlement detail. The conditional update makes redelivered fill events
// a no-op: the second attempt returns ErrInvalidState.
func (db *DB) RecordExecution(ctx context.Context, id string, exec models.Execution) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, tx_hash = $2, gas_used = $3, effective_gas_price = $4,
		    block_number = $5, updated_at = NOW()
		WHERE id = $6 AND status = $7`,
		models.StatusExecuted,
		strings.ToLower(exec.TxHash),
		exec.GasUsed,
		exec.EffectiveGasPrice,
		exec.BlockNumber,
		id,
		models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order not pending", models.ErrInvalidState)
	}
	return nil
}

// ListAvailable returns PENDING orders whose deadline has not passed,
// oldest first. The deadline filter runs server-side so expired orders are
// invisible to fillers even before the reaper marks them.
func (db *DB) ListAvailable(ctx context.Context, limit, offset int) ([]models.Order, int, error) {
	var total int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE status = $1 AND deadline > EXTRACT(EPOCH FROM NOW())`,
		models.StatusPending).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count available orders: %w", err)
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND deadline > EXTRACT(EPOCH FROM NOW())
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`,
		models.StatusPending, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list available orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListBySwapper returns a swapper's orders, newest first.
func (db *DB) ListBySwapper(ctx context.Context, swapper string, limit, offset int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE swapper_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		strings.ToLower(swapper), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list swapper orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ExpireOverdue marks non-terminal orders past their deadline as EXPIRED
// and returns how many rows transitioned. Terminal rows are never touched.
func (db *DB) ExpireOverdue(ctx context.Context, now int64) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3) AND deadline <= $4`,
		models.StatusExpired,
		models.StatusAwaitingSignature,
		models.StatusPending,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}
