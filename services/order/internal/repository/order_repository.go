package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const orderColumns = `id, product_id, quantity, customer_name, customer_email, unit_price, total_price,
	status, status_reason, reconcile_attempts, last_reconciled_at, stuck_alerted_at, created_at, updated_at`

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	ListByCustomer(ctx context.Context, email string) ([]domain.Order, error)
	LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, reason string) (*domain.Order, error)
	CompletePending(ctx context.Context, tx pgx.Tx, id int64, status domain.OrderStatus, reason string) (*domain.Order, bool, error)
	GetStalePending(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]domain.Order, error)
	MarkReconciled(ctx context.Context, tx pgx.Tx, id int64) error
	MarkStuckAlerted(ctx context.Context, tx pgx.Tx, id int64) error
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order/order_repository"),
	}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.ProductID,
		&o.Quantity,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.UnitPrice,
		&o.TotalPrice,
		&o.Status,
		&o.StatusReason,
		&o.ReconcileAttempts,
		&o.LastReconciledAt,
		&o.StuckAlertedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", order.ProductID),
		attribute.Int64("quantity", order.Quantity),
	)

	query := `
		INSERT INTO orders (product_id, quantity, customer_name, customer_email, unit_price, total_price, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		query,
		order.ProductID,
		order.Quantity,
		order.CustomerName,
		order.CustomerEmail,
		order.UnitPrice,
		order.TotalPrice,
		string(order.Status),
	).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Int64("product_id", order.ProductID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	span.SetAttributes(attribute.Int64("order_id", order.ID))
	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("error getting order %d: %w", id, err)
	}

	return order, nil
}

func (r *orderRepo) ListByCustomer(ctx context.Context, email string) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByCustomer")
	defer span.End()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_email = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, email)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error listing orders of customer",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

// LockByID reads an order with a row lock held until tx ends.
func (r *orderRepo) LockByID(ctx context.Context, tx pgx.Tx, id int64) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.LockByID")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	order, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("error locking order %d: %w", id, err)
	}

	return order, nil
}

func (r *orderRepo) SetStatus(
	ctx context.Context,
	tx pgx.Tx,
	id int64,
	status domain.OrderStatus,
	reason string,
) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.SetStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE orders
		SET status = $1, status_reason = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, string(status), reason, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(ctx, r.logger, "Order not found", zap.Int64("order_id", id))
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update order status", zap.Int64("order_id", id), zap.Error(err))

		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	return order, nil
}

// CompletePending moves a Pending order to a terminal status. The bool is false
// when the order had already left Pending, in which case the current row is returned.
func (r *orderRepo) CompletePending(
	ctx context.Context,
	tx pgx.Tx,
	id int64,
	status domain.OrderStatus,
	reason string,
) (*domain.Order, bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CompletePending")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE orders
		SET status = $1, status_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'Pending'
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, string(status), reason, id))
	if err == nil {
		return order, true, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to complete order %d: %w", id, err)
	}

	current, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, false, fmt.Errorf("error getting order %d: %w", id, err)
	}

	return current, false, nil
}

// GetStalePending claims Pending orders untouched since before. Rows locked by
// another sweeper are skipped.
func (r *orderRepo) GetStalePending(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetStalePending")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'Pending'
			AND stuck_alerted_at IS NULL
			AND COALESCE(last_reconciled_at, created_at) < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, before, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error selecting stale orders: %w", err)
	}

	orders, err := collectOrders(rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

func (r *orderRepo) MarkReconciled(ctx context.Context, tx pgx.Tx, id int64) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkReconciled")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	query := `
		UPDATE orders
		SET reconcile_attempts = reconcile_attempts + 1, last_reconciled_at = NOW()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark order %d reconciled: %w", id, err)
	}

	return nil
}

func (r *orderRepo) MarkStuckAlerted(ctx context.Context, tx pgx.Tx, id int64) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.MarkStuckAlerted")
	defer span.End()

	span.SetAttributes(attribute.Int64("order_id", id))

	if _, err := tx.Exec(ctx, `UPDATE orders SET stuck_alerted_at = NOW() WHERE id = $1`, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flag order %d as stuck: %w", id, err)
	}

	return nil
}
