package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProcessWithDeduplication runs action at most once per key. The key is recorded
// in processed_events inside the same transaction as action, so a failed action
// leaves the key free for redelivery. It reports false for an already processed key.
func ProcessWithDeduplication(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *zap.Logger,
	key string,
	action func(ctx context.Context, tx pgx.Tx) error,
) (bool, error) {
	span := trace.SpanFromContext(ctx)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin dedup transaction: %w", err)
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	query := `
		INSERT INTO processed_events (event_key)
		VALUES ($1)
		ON CONFLICT (event_key) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, key)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to record processed event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		mylogger.Info(
			ctx,
			logger,
			"Event already processed, skipping",
			zap.String("event_key", key),
		)

		return false, nil
	}

	if err := action(ctx, tx); err != nil {
		span.RecordError(err)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return false, fmt.Errorf("failed to commit processed event: %w", err)
	}

	return true, nil
}
