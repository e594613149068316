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
	"github.com/sakashimaa/stock-reservation/services/notification/internal/domain"
	"go.uber.org/zap"
)

const ConsumerGroupID = "notification-service-group"

type OrderStatusHandler interface {
	HandleOrderStatus(ctx context.Context, n pkgdomain.OrderStatusNotification) error
}

// Consumer emails customers about terminal order states. Undeliverable
// notifications and ones that keep failing are dead-lettered.
type Consumer struct {
	service    OrderStatusHandler
	deadLetter *kafka.DeadLetterer
	metrics    *metrics.Metrics
	policy     retry.Policy
	logger     *zap.Logger
}

func NewConsumer(
	service OrderStatusHandler,
	producer kafka.Producer,
	m *metrics.Metrics,
	policy retry.Policy,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		service:    service,
		deadLetter: kafka.NewDeadLetterer(producer, pkgdomain.OrderNotificationsDLQTopic, m, logger),
		metrics:    m,
		policy:     policy,
		logger:     logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		ConsumerGroupID,
		[]string{pkgdomain.OrderNotificationsTopic},
		c.ProcessMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

func (c *Consumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
		zap.Int64("offset", msg.Offset),
	)

	n, err := c.decode(msg)
	if err != nil {
		c.dropPoison(ctx, msg, err)
		return nil
	}

	_, attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		err := c.service.HandleOrderStatus(ctx, n)
		if errors.Is(err, pkgdomain.ErrPoisonMessage) || errors.Is(err, domain.ErrUndeliverable) {
			return struct{}{}, retry.Permanent(err)
		}

		return struct{}{}, err
	}, func(err error, next time.Duration) {
		mylogger.Warn(
			ctx,
			c.logger,
			"Order status notification failed, retrying",
			zap.Int64("order_id", n.OrderID),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})

	switch {
	case err == nil:
		c.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "processed").Inc()
		return nil
	case errors.Is(err, pkgdomain.ErrPoisonMessage):
		c.dropPoison(ctx, msg, err)
		return nil
	case ctx.Err() != nil:
		return err
	default:
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to notify customer",
			zap.Int64("order_id", n.OrderID),
			zap.String("status", n.Status),
			zap.Error(err),
		)

		return c.deadLetter.Send(ctx, msg, err, attempts)
	}
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

func (c *Consumer) decode(msg *sarama.ConsumerMessage) (pkgdomain.OrderStatusNotification, error) {
	if err := pkgdomain.CheckSchemaVersion(kafka.Header(msg, pkgdomain.HeaderSchemaVersion)); err != nil {
		return pkgdomain.OrderStatusNotification{}, err
	}

	envelope, err := pkgdomain.DecodeEnvelope(msg.Value)
	if err != nil {
		return pkgdomain.OrderStatusNotification{}, err
	}

	switch envelope.Event {
	case pkgdomain.OrderConfirmedEvent, pkgdomain.OrderRejectedEvent, pkgdomain.OrderCancelledEvent:
	default:
		return pkgdomain.OrderStatusNotification{}, fmt.Errorf("%w: unexpected event %q", pkgdomain.ErrPoisonMessage, envelope.Event)
	}

	return pkgdomain.DecodeOrderStatusNotification(envelope.Payload)
}
