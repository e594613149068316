package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/order/internal/service"
	"go.uber.org/zap"
)

const ConsumerGroupID = "order-reservation-outcomes"

// Consumer applies ReservationOutcomes from the ledger to orders. Outcomes
// that keep failing are dead-lettered; the reconciler resends the command for
// the still Pending order and the ledger replays the stored outcome.
type Consumer struct {
	service    service.OrderService
	deadLetter *kafka.DeadLetterer
	metrics    *metrics.Metrics
	policy     retry.Policy
	logger     *zap.Logger
}

func NewConsumer(
	service service.OrderService,
	producer kafka.Producer,
	m *metrics.Metrics,
	policy retry.Policy,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		service:    service,
		deadLetter: kafka.NewDeadLetterer(producer, pkgdomain.ReservationOutcomesDLQTopic, m, logger),
		metrics:    m,
		policy:     policy,
		logger:     logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		ConsumerGroupID,
		[]string{pkgdomain.ReservationOutcomesTopic},
		c.ProcessMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// ProcessMessage returns an error only when the outcome could neither be stored
// nor dead-lettered, which leaves the offset uncommitted for redelivery.
func (c *Consumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	outcome, err := c.decode(msg)
	if err != nil {
		c.metrics.PoisonMessages.WithLabelValues(msg.Topic).Inc()
		c.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "poison").Inc()

		mylogger.Error(
			ctx,
			c.logger,
			"Dropping poison message",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value),
			zap.Error(err),
		)

		return nil
	}

	_, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*domain.Order, error) {
		order, err := c.service.ApplyReservationOutcome(ctx, outcome)
		if errors.Is(err, pkgdomain.ErrNotFound) {
			return nil, retry.Permanent(err)
		}

		return order, err
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			c.logger,
			"Apply reservation outcome failed, retrying",
			zap.Int64("order_id", outcome.OrderID),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	switch {
	case err == nil:
		c.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "processed").Inc()
		return nil
	case errors.Is(err, pkgdomain.ErrNotFound):
		c.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "unknown_order").Inc()
		mylogger.Warn(
			ctx,
			c.logger,
			"Reservation outcome for unknown order, skipping",
			zap.Int64("order_id", outcome.OrderID),
			zap.String("result", string(outcome.Result)),
		)

		return nil
	case ctx.Err() != nil:
		return err
	default:
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to apply reservation outcome",
			zap.Int64("order_id", outcome.OrderID),
			zap.Error(err),
		)

		return c.deadLetter.Send(ctx, msg, err, attempts)
	}
}

func (c *Consumer) decode(msg *sarama.ConsumerMessage) (pkgdomain.ReservationOutcome, error) {
	if err := pkgdomain.CheckSchemaVersion(kafka.Header(msg, pkgdomain.HeaderSchemaVersion)); err != nil {
		return pkgdomain.ReservationOutcome{}, err
	}

	envelope, err := pkgdomain.DecodeEnvelope(msg.Value)
	if err != nil {
		return pkgdomain.ReservationOutcome{}, err
	}

	if envelope.Event != pkgdomain.ReservationOutcomeType {
		return pkgdomain.ReservationOutcome{}, fmt.Errorf("%w: unexpected event %q", pkgdomain.ErrPoisonMessage, envelope.Event)
	}

	return pkgdomain.DecodeReservationOutcome(envelope.Payload)
}
