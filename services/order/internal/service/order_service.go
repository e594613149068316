package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/worker"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/order/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// persistTimeout bounds order persistence once the client is no longer waiting.
const persistTimeout = 5 * time.Second

const manualOverrideReason = "manual override"

type AvailabilityChecker interface {
	GetAvailability(ctx context.Context, productID, quantity int64) (*domain.Availability, error)
}

type OrderService interface {
	CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListByCustomer(ctx context.Context, email string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error)
	ApplyReservationOutcome(ctx context.Context, outcome pkgdomain.ReservationOutcome) (*domain.Order, error)
}

type orderService struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	orderRepo  repository.OrderRepository
	outboxRepo worker.OutboxRepository
	inventory  AvailabilityChecker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	outboxRepo worker.OutboxRepository,
	inventory AvailabilityChecker,
	m *metrics.Metrics,
) OrderService {
	return &orderService{
		pool:       pool,
		logger:     logger,
		orderRepo:  orderRepo,
		outboxRepo: outboxRepo,
		inventory:  inventory,
		metrics:    m,
		tracer:     otel.Tracer("order/order_service"),
	}
}

// CreateOrder checks availability, then stores the Pending order and its
// reservation command atomically. The availability answer is only a hint:
// the ledger makes the final decision when the command is consumed.
func (s *orderService) CreateOrder(ctx context.Context, input domain.CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", input.ProductID),
		attribute.Int64("quantity", input.Quantity),
	)

	if input.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", pkgdomain.ErrValidation)
	}

	availability, err := s.inventory.GetAvailability(ctx, input.ProductID, input.Quantity)
	if err != nil {
		span.RecordError(err)

		switch {
		case errors.Is(err, pkgdomain.ErrNotFound):
			s.metrics.OrdersCreated.WithLabelValues("rejected").Inc()
			mylogger.Info(ctx, s.logger, "Order rejected, unknown product", zap.Int64("product_id", input.ProductID))

			return nil, &domain.RejectionError{Reason: domain.ReasonProductUnknown, Err: err}
		case errors.Is(err, pkgdomain.ErrTransient):
			s.metrics.OrdersCreated.WithLabelValues("unavailable").Inc()
		default:
			s.metrics.OrdersCreated.WithLabelValues("error").Inc()
		}

		mylogger.Error(
			ctx,
			s.logger,
			"Availability check failed",
			zap.Int64("product_id", input.ProductID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("availability check failed: %w", err)
	}

	if availability.AvailableQuantity < input.Quantity {
		s.metrics.OrdersCreated.WithLabelValues("rejected").Inc()
		mylogger.Info(
			ctx,
			s.logger,
			"Order rejected, insufficient stock",
			zap.Int64("product_id", input.ProductID),
			zap.Int64("requested", input.Quantity),
			zap.Int64("available", availability.AvailableQuantity),
		)

		return nil, &domain.RejectionError{Reason: domain.ReasonInsufficientStock, Err: pkgdomain.ErrInsufficientStock}
	}

	order := &domain.Order{
		ProductID:     input.ProductID,
		Quantity:      input.Quantity,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		UnitPrice:     availability.Price,
		Status:        domain.OrderStatusPending,
	}
	if err := order.CalculateTotal(); err != nil {
		s.metrics.OrdersCreated.WithLabelValues("invalid").Inc()
		mylogger.Info(
			ctx,
			s.logger,
			"Order total out of range",
			zap.Int64("product_id", input.ProductID),
			zap.Int64("quantity", input.Quantity),
			zap.String("unit_price", availability.Price.String()),
		)

		return nil, err
	}

	// a client hanging up must not leave an order without its command
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.persistPending(persistCtx, order); err != nil {
		span.RecordError(err)
		s.metrics.OrdersCreated.WithLabelValues("error").Inc()

		return nil, err
	}

	s.metrics.OrdersCreated.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.Int64("order_id", order.ID))

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("product_id", order.ProductID),
		zap.String("total_price", order.TotalPrice.StringFixed(2)),
	)

	return order, nil
}

func (s *orderService) persistPending(ctx context.Context, order *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "CreateOrder")

	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	if err := enqueueReservation(ctx, tx, s.outboxRepo, order); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to save outbox event", zap.Error(err))
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ApplyReservationOutcome moves a Pending order to Confirmed or Rejected. Only the
// first terminal transition wins; later outcomes return the order unchanged.
func (s *orderService) ApplyReservationOutcome(
	ctx context.Context,
	outcome pkgdomain.ReservationOutcome,
) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ApplyReservationOutcome")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", outcome.OrderID),
		attribute.String("result", string(outcome.Result)),
	)

	status, reason := domain.StatusForResult(outcome.Result)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "ApplyReservationOutcome")

	order, changed, err := s.orderRepo.CompletePending(ctx, tx, outcome.OrderID, status, reason)
	if err != nil {
		return nil, err
	}

	if !changed {
		mylogger.Info(
			ctx,
			s.logger,
			"Order already left Pending, outcome ignored",
			zap.Int64("order_id", order.ID),
			zap.String("status", string(order.Status)),
			zap.String("result", string(outcome.Result)),
		)

		return order, nil
	}

	if err := enqueueNotification(ctx, tx, s.outboxRepo, order); err != nil {
		return nil, fmt.Errorf("failed to enqueue notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order status updated from reservation outcome",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("reason", order.StatusReason),
	)

	return order, nil
}

// UpdateStatus is the operational override. It never returns an order to Pending
// and leaves prices untouched.
func (s *orderService) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", id),
		attribute.String("status", string(status)),
	)

	if !status.Terminal() {
		return nil, fmt.Errorf("%w: status must be one of Confirmed, Rejected, Cancelled", pkgdomain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "UpdateStatus")

	current, err := s.orderRepo.LockByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if current.Status == status {
		return current, nil
	}

	reason := manualOverrideReason
	if status == domain.OrderStatusConfirmed {
		reason = ""
	}

	order, err := s.orderRepo.SetStatus(ctx, tx, id, status, reason)
	if err != nil {
		return nil, err
	}

	if err := enqueueNotification(ctx, tx, s.outboxRepo, order); err != nil {
		return nil, fmt.Errorf("failed to enqueue notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	mylogger.Warn(
		ctx,
		s.logger,
		"Order status overridden",
		zap.Int64("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			mylogger.Warn(ctx, s.logger, "Order not found", zap.Int64("order_id", id))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "Error getting order", zap.Int64("order_id", id), zap.Error(err))
		return nil, err
	}

	return order, nil
}

func (s *orderService) ListByCustomer(ctx context.Context, email string) ([]domain.Order, error) {
	if email == "" {
		return nil, fmt.Errorf("%w: customer is required", pkgdomain.ErrValidation)
	}

	orders, err := s.orderRepo.ListByCustomer(ctx, email)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error listing orders", zap.Error(err))
		return nil, err
	}

	return orders, nil
}

func (s *orderService) rollback(ctx context.Context, tx pgx.Tx, method string) {
	cleanupCtx := context.WithoutCancel(ctx)

	err := tx.Rollback(cleanupCtx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			cleanupCtx,
			s.logger,
			"Error rolling back transaction",
			zap.Error(err),
			zap.String("method_name", method),
		)
	}
}
