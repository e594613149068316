package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/service"
	"go.uber.org/zap"
)

const ConsumerGroupID = "inventory-reservations"

// Consumer applies ReservationCommands from the bus. Poison messages are
// dropped, failures are retried with backoff and then dead-lettered.
type Consumer struct {
	service    service.LedgerService
	deadLetter *kafka.DeadLetterer
	metrics    *metrics.Metrics
	policy     retry.Policy
	logger     *zap.Logger
}

func NewConsumer(
	service service.LedgerService,
	producer kafka.Producer,
	m *metrics.Metrics,
	policy retry.Policy,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		service:    service,
		deadLetter: kafka.NewDeadLetterer(producer, domain.ReservationDLQTopic, m, logger),
		metrics:    m,
		policy:     policy,
		logger:     logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		ConsumerGroupID,
		[]string{domain.ReservationCommandsTopic},
		c.ProcessMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// ProcessMessage returns nil when the message may be acknowledged.
func (c *Consumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	cmd, err := c.decode(msg)
	if err != nil {
		c.dropPoison(ctx, msg, err)
		return nil
	}

	mylogger.Debug(
		ctx,
		c.logger,
		"Processing reservation command",
		zap.Int64("order_id", cmd.OrderID),
		zap.Int64("product_id", cmd.ProductID),
		zap.Int64("quantity", cmd.Quantity),
	)

	result, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) (domain.ReservationResult, error) {
		result, err := c.service.ApplyReservation(ctx, cmd)
		if err != nil && isPermanent(err) {
			return result, retry.Permanent(err)
		}

		return result, err
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			c.logger,
			"Apply reservation failed, retrying",
			zap.Int64("order_id", cmd.OrderID),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	switch {
	case err == nil:
		c.metrics.Reservations.WithLabelValues(string(result)).Inc()
		c.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "processed").Inc()
		return nil
	case isPermanent(err):
		c.dropPoison(ctx, msg, err)
		return nil
	case ctx.Err() != nil:
		// shutting down; leave the offset uncommitted for redelivery
		return err
	default:
		return c.deadLetter.Send(ctx, msg, err, attempts)
	}
}

func (c *Consumer) decode(msg *sarama.ConsumerMessage) (domain.ReservationCommand, error) {
	if err := domain.CheckSchemaVersion(kafka.Header(msg, domain.HeaderSchemaVersion)); err != nil {
		return domain.ReservationCommand{}, err
	}

	if t := kafka.Header(msg, domain.HeaderMessageType); t != "" && t != domain.ReservationCommandType {
		return domain.ReservationCommand{}, fmt.Errorf("%w: unexpected message type %q", domain.ErrPoisonMessage, t)
	}

	return domain.DecodeReservationCommand(msg.Value)
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrPoisonMessage) || errors.Is(err, domain.ErrValidation)
}

func (c *Consumer) dropPoison(ctx context.Context, msg *sarama.ConsumerMessage, err error) {
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
}
