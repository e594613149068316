package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/stock-reservation/pkg/config"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int, maxAttempts int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) (int, error)
	CountBacklog(ctx context.Context) (int64, error)
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, msg kafka.Message) error
}

type OutboxProcessor struct {
	pool          *pgxpool.Pool
	repo          OutboxRepository
	kafkaProducer KafkaProducer
	metrics       *metrics.Metrics
	logger        *zap.Logger
	batchSize     int
	interval      time.Duration
	maxAttempts   int
	tracer        trace.Tracer
}

func NewOutboxProcessor(
	pool *pgxpool.Pool,
	repo OutboxRepository,
	producer KafkaProducer,
	m *metrics.Metrics,
	cfg config.Outbox,
	logger *zap.Logger,
) *OutboxProcessor {
	return &OutboxProcessor{
		pool:          pool,
		repo:          repo,
		kafkaProducer: producer,
		metrics:       m,
		logger:        logger,
		batchSize:     cfg.BatchSize,
		interval:      cfg.Interval,
		maxAttempts:   cfg.MaxAttempts,
		tracer:        otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) error {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return nil
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch of pending rows and returns how many were acked.
// A row is marked published only after the broker acknowledged it.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "ProcessBatch"),
			)
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize, p.maxAttempts)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	span.SetAttributes(attribute.Int("outbox.batch", len(events)))

	published := 0
	for _, event := range events {
		if err := p.kafkaProducer.ProduceMessage(ctx, event.Message()); err != nil {
			if err := p.markFailed(ctx, tx, event, err); err != nil {
				return published, err
			}
			continue
		}

		if err := p.repo.MarkEventPublished(ctx, tx, event.ID); err != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"Outbox worker mark event published failed",
				zap.Int64("id", event.ID),
				zap.Error(err),
			)

			return published, err
		}

		published++
		p.metrics.OutboxPublished.WithLabelValues(event.Topic).Inc()

		mylogger.Debug(
			ctx,
			p.logger,
			"outbox worker event published successfully",
			zap.Int64("id", event.ID),
			zap.String("topic", event.Topic),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing outbox batch: %w", err)
	}

	return published, nil
}

func (p *OutboxProcessor) markFailed(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent, produceErr error) error {
	p.metrics.OutboxFailed.WithLabelValues(event.Topic).Inc()

	mylogger.Warn(
		ctx,
		p.logger,
		"outbox worker produce message failed",
		zap.Int64("id", event.ID),
		zap.String("topic", event.Topic),
		zap.Error(produceErr),
	)

	attempts, err := p.repo.MarkEventFailed(ctx, tx, event.ID, produceErr.Error())
	if err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker mark event failed failed",
			zap.Int64("id", event.ID),
			zap.Error(err),
		)

		return err
	}

	if attempts >= p.maxAttempts {
		p.metrics.OutboxExhausted.WithLabelValues(event.Topic).Inc()

		mylogger.Error(
			ctx,
			p.logger,
			"ALERT: outbox event exhausted publish attempts",
			zap.Int64("id", event.ID),
			zap.String("aggregate_type", event.AggregateType),
			zap.String("aggregate_id", event.AggregateID),
			zap.String("topic", event.Topic),
			zap.Int("attempts", attempts),
		)
	}

	return nil
}
