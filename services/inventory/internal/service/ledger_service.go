package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/stock-reservation/pkg/outbox/domain"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/worker"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type LedgerService interface {
	Create(ctx context.Context, product *domain.Product) (*domain.Product, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
	GetAvailability(ctx context.Context, id int64) (*domain.Availability, error)
	List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error)
	Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
	Restock(ctx context.Context, id, quantity int64) (*domain.Product, error)
	ApplyReservation(ctx context.Context, cmd pkgdomain.ReservationCommand) (pkgdomain.ReservationResult, error)
}

type ledgerService struct {
	productRepo     repository.ProductRepository
	reservationRepo repository.ReservationRepository
	outboxRepo      worker.OutboxRepository
	pool            *pgxpool.Pool
	logger          *zap.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

func NewLedgerService(
	productRepo repository.ProductRepository,
	reservationRepo repository.ReservationRepository,
	outboxRepo worker.OutboxRepository,
	pool *pgxpool.Pool,
	logger *zap.Logger,
) LedgerService {
	return &ledgerService{
		productRepo:     productRepo,
		reservationRepo: reservationRepo,
		outboxRepo:      outboxRepo,
		pool:            pool,
		logger:          logger,
		tracer:          otel.Tracer("inventory/ledger_service"),
		now:             time.Now,
	}
}

// ApplyReservation decrements stock for an order at most once. Replays of an
// already decided order return the stored result and re-enqueue its outcome.
func (s *ledgerService) ApplyReservation(
	ctx context.Context,
	cmd pkgdomain.ReservationCommand,
) (pkgdomain.ReservationResult, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.ApplyReservation")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", cmd.OrderID),
		attribute.Int64("product_id", cmd.ProductID),
		attribute.Int64("quantity", cmd.Quantity),
	)

	if err := cmd.Validate(); err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				cleanupCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
				zap.String("method_name", "ApplyReservation"),
			)
		}
	}()

	reservation := &domain.Reservation{
		OrderID:   cmd.OrderID,
		ProductID: cmd.ProductID,
		Quantity:  cmd.Quantity,
	}

	claimed, err := s.reservationRepo.Claim(ctx, tx, reservation)
	if err != nil {
		return "", err
	}

	if !claimed {
		return s.replay(ctx, tx, cmd)
	}

	result, err := s.decide(ctx, tx, cmd)
	if err != nil {
		return "", err
	}

	if err := s.reservationRepo.SetResult(ctx, tx, cmd.OrderID, result); err != nil {
		return "", err
	}
	reservation.Result = result

	if err := s.enqueueOutcome(ctx, tx, reservation); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reservation: %w", err)
	}

	span.SetAttributes(attribute.String("result", string(result)))
	mylogger.Info(
		ctx,
		s.logger,
		"Reservation decided",
		zap.Int64("order_id", cmd.OrderID),
		zap.Int64("product_id", cmd.ProductID),
		zap.Int64("quantity", cmd.Quantity),
		zap.String("result", string(result)),
	)

	return result, nil
}

func (s *ledgerService) decide(
	ctx context.Context,
	tx pgx.Tx,
	cmd pkgdomain.ReservationCommand,
) (pkgdomain.ReservationResult, error) {
	product, err := s.productRepo.LockByID(ctx, tx, cmd.ProductID)
	if err != nil {
		if errors.Is(err, pkgdomain.ErrNotFound) {
			return pkgdomain.ReservationProductNotFound, nil
		}

		return "", err
	}

	if product.AvailableQuantity < cmd.Quantity {
		return pkgdomain.ReservationInsufficientStock, nil
	}

	if err := s.productRepo.DecreaseStock(ctx, tx, cmd.ProductID, cmd.Quantity); err != nil {
		if errors.Is(err, pkgdomain.ErrInsufficientStock) {
			return pkgdomain.ReservationInsufficientStock, nil
		}

		return "", err
	}

	return pkgdomain.ReservationApplied, nil
}

func (s *ledgerService) replay(
	ctx context.Context,
	tx pgx.Tx,
	cmd pkgdomain.ReservationCommand,
) (pkgdomain.ReservationResult, error) {
	stored, err := s.reservationRepo.GetByOrderID(ctx, tx, cmd.OrderID)
	if err != nil {
		return "", err
	}

	if !stored.Result.Valid() {
		return "", fmt.Errorf("reservation for order %d has no stored result", cmd.OrderID)
	}

	if stored.ProductID != cmd.ProductID || stored.Quantity != cmd.Quantity {
		mylogger.Warn(
			ctx,
			s.logger,
			"Duplicate reservation differs from the stored one, keeping stored result",
			zap.Int64("order_id", cmd.OrderID),
			zap.Int64("stored_product_id", stored.ProductID),
			zap.Int64("stored_quantity", stored.Quantity),
			zap.Int64("product_id", cmd.ProductID),
			zap.Int64("quantity", cmd.Quantity),
		)
	}

	if err := s.enqueueOutcome(ctx, tx, stored); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reservation replay: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Duplicate reservation, returning stored result",
		zap.Int64("order_id", cmd.OrderID),
		zap.String("result", string(stored.Result)),
	)

	return stored.Result, nil
}

func (s *ledgerService) enqueueOutcome(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error {
	payload, err := pkgdomain.NewEnvelope(pkgdomain.ReservationOutcomeType, reservation.Outcome(s.now().UTC()))
	if err != nil {
		return err
	}

	orderID := strconv.FormatInt(reservation.OrderID, 10)
	event := &outboxDomain.OutboxEvent{
		AggregateType: "Reservation",
		AggregateID:   orderID,
		EventType:     pkgdomain.ReservationOutcomeType,
		Topic:         pkgdomain.ReservationOutcomesTopic,
		MessageKey:    orderID,
		Payload:       payload,
		Headers: map[string]string{
			pkgdomain.HeaderMessageType:   pkgdomain.ReservationOutcomeType,
			pkgdomain.HeaderSchemaVersion: pkgdomain.SchemaVersion,
		},
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		mylogger.Error(ctx, s.logger, "Error saving outbox event", zap.Error(err))
		return err
	}

	return nil
}

func (s *ledgerService) GetAvailability(ctx context.Context, id int64) (*domain.Availability, error) {
	product, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return product.Availability(), nil
}

func (s *ledgerService) Restock(ctx context.Context, id, quantity int64) (*domain.Product, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", pkgdomain.ErrValidation)
	}

	product, err := s.productRepo.IncreaseStock(ctx, id, quantity)
	if err != nil {
		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Product restocked",
		zap.Int64("product_id", id),
		zap.Int64("quantity", quantity),
		zap.Int64("available_quantity", product.AvailableQuantity),
	)

	return product, nil
}

func (s *ledgerService) Delete(ctx context.Context, id int64) error {
	err := s.productRepo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", id))
			return err
		}

		mylogger.Error(ctx, s.logger, "error deleting product", zap.Error(err))
		return err
	}

	return nil
}

func (s *ledgerService) Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	if input.Price != nil && !input.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", pkgdomain.ErrValidation)
	}

	if input.AvailableQuantity != nil && *input.AvailableQuantity < 0 {
		return nil, fmt.Errorf("%w: available quantity must not be negative", pkgdomain.ErrValidation)
	}

	product, err := s.productRepo.Update(ctx, id, input)
	if err != nil {
		if !errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Error(ctx, s.logger, "error updating product", zap.Int64("product_id", id), zap.Error(err))
		}

		return nil, err
	}

	return product, nil
}

func (s *ledgerService) Create(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if !product.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", pkgdomain.ErrValidation)
	}

	if product.AvailableQuantity < 0 {
		return nil, fmt.Errorf("%w: available quantity must not be negative", pkgdomain.ErrValidation)
	}

	created, err := s.productRepo.Create(ctx, product)
	if err != nil {
		mylogger.Error(ctx, s.logger, "create error", zap.Error(err))
		return nil, err
	}

	mylogger.Info(ctx, s.logger, "Product created", zap.Int64("product_id", created.ID))
	return created, nil
}

func (s *ledgerService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	res, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", id))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error getting product", zap.Error(err))
		return nil, fmt.Errorf("error getting product by id: %w", err)
	}

	return res, nil
}

func (s *ledgerService) List(ctx context.Context, limit, offset int64, search string) ([]domain.Product, int64, error) {
	list, total, err := s.productRepo.List(ctx, limit, offset, search)
	if err != nil {
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))
		return nil, 0, fmt.Errorf("error listing products: %w", err)
	}

	return list, total, nil
}
