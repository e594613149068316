package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ReservationRepository interface {
	Claim(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) (bool, error)
	GetByOrderID(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Reservation, error)
	SetResult(ctx context.Context, tx pgx.Tx, orderID int64, result pkgdomain.ReservationResult) error
}

type reservationRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewReservationRepository(pool *pgxpool.Pool, logger *zap.Logger) ReservationRepository {
	return &reservationRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inventory/reservation_repo"),
	}
}

// Claim inserts the fence row for an order. It reports false when the order
// was already claimed; a concurrent claim blocks until the other transaction ends.
func (r *reservationRepo) Claim(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Claim")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", reservation.OrderID),
		attribute.Int64("product_id", reservation.ProductID),
	)

	query := `
		INSERT INTO reservations (order_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
	`

	commandTag, err := tx.Exec(ctx, query, reservation.OrderID, reservation.ProductID, reservation.Quantity)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("error claiming reservation for order %d: %w", reservation.OrderID, err)
	}

	claimed := commandTag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("claimed", claimed))

	return claimed, nil
}

func (r *reservationRepo) GetByOrderID(ctx context.Context, tx pgx.Tx, orderID int64) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.GetByOrderID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	query := `
		SELECT order_id, product_id, quantity, COALESCE(result, ''), created_at
		FROM reservations
		WHERE order_id = $1
	`

	var res domain.Reservation
	err := tx.QueryRow(ctx, query, orderID).Scan(
		&res.OrderID,
		&res.ProductID,
		&res.Quantity,
		&res.Result,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("error getting reservation for order %d: %w", orderID, err)
	}

	return &res, nil
}

func (r *reservationRepo) SetResult(ctx context.Context, tx pgx.Tx, orderID int64, result pkgdomain.ReservationResult) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.SetResult")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("result", string(result)),
	)

	commandTag, err := tx.Exec(ctx, `UPDATE reservations SET result = $1 WHERE order_id = $2`, string(result), orderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error storing reservation result for order %d: %w", orderID, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}

	return nil
}
