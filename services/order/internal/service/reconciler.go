package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/stock-reservation/pkg/config"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/worker"
	"github.com/sakashimaa/stock-reservation/services/order/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reconciler re-enqueues reservation commands for orders stuck in Pending and
// raises an alert once an order has used up its attempts. Several instances
// may sweep concurrently.
type Reconciler struct {
	pool           *pgxpool.Pool
	orderRepo      repository.OrderRepository
	outboxRepo     worker.OutboxRepository
	metrics        *metrics.Metrics
	logger         *zap.Logger
	interval       time.Duration
	pendingTimeout time.Duration
	maxAttempts    int
	batchSize      int
	now            func() time.Time
	tracer         trace.Tracer
}

type SweepResult struct {
	Requeued int
	Alerted  int
}

func NewReconciler(
	pool *pgxpool.Pool,
	orderRepo repository.OrderRepository,
	outboxRepo worker.OutboxRepository,
	m *metrics.Metrics,
	cfg config.Reconciler,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		pool:           pool,
		orderRepo:      orderRepo,
		outboxRepo:     outboxRepo,
		metrics:        m,
		logger:         logger,
		interval:       cfg.Interval,
		pendingTimeout: cfg.PendingTimeout,
		maxAttempts:    cfg.MaxAttempts,
		batchSize:      cfg.BatchSize,
		now:            time.Now,
		tracer:         otel.Tracer("order/reconciler"),
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	mylogger.Info(
		ctx,
		r.logger,
		"Starting pending order reconciler",
		zap.Duration("interval", r.interval),
		zap.Duration("pending_timeout", r.pendingTimeout),
		zap.Int("max_attempts", r.maxAttempts),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, r.logger, "Reconciler stopping")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				mylogger.Error(ctx, r.logger, "Error sweeping pending orders", zap.Error(err))
			}
		}
	}
}

// Sweep handles one batch of stale Pending orders.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := r.tracer.Start(ctx, "Reconciler.Sweep")
	defer span.End()

	var result SweepResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	orders, err := r.orderRepo.GetStalePending(ctx, tx, r.now().Add(-r.pendingTimeout), r.batchSize)
	if err != nil {
		return result, err
	}

	if len(orders) == 0 {
		return result, nil
	}

	for i := range orders {
		order := &orders[i]

		if order.ReconcileAttempts >= r.maxAttempts {
			if err := r.orderRepo.MarkStuckAlerted(ctx, tx, order.ID); err != nil {
				return SweepResult{}, err
			}

			result.Alerted++

			mylogger.Error(
				ctx,
				r.logger,
				"ALERT: order stuck in Pending",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", order.ProductID),
				zap.Int("reconcile_attempts", order.ReconcileAttempts),
				zap.Time("created_at", order.CreatedAt),
			)

			continue
		}

		if err := enqueueReservation(ctx, tx, r.outboxRepo, order); err != nil {
			return SweepResult{}, fmt.Errorf("failed to re-enqueue order %d: %w", order.ID, err)
		}

		if err := r.orderRepo.MarkReconciled(ctx, tx, order.ID); err != nil {
			return SweepResult{}, err
		}

		result.Requeued++

		mylogger.Warn(
			ctx,
			r.logger,
			"Re-enqueued reservation for pending order",
			zap.Int64("order_id", order.ID),
			zap.Int("attempt", order.ReconcileAttempts+1),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return SweepResult{}, fmt.Errorf("error committing reconciliation: %w", err)
	}
	r.metrics.StuckOrders.Add(float64(result.Alerted))

	span.SetAttributes(
		attribute.Int("reconciler.requeued", result.Requeued),
		attribute.Int("reconciler.alerted", result.Alerted),
	)

	return result, nil
}
