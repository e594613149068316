package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	outboxUtils "github.com/sakashimaa/stock-reservation/pkg/outbox/utils"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/infrastructure/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type NotificationService struct {
	emailSender email.Sender
	logger      *zap.Logger
	pool        *pgxpool.Pool
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

func NewNotificationService(
	emailSender email.Sender,
	logger *zap.Logger,
	pool *pgxpool.Pool,
	m *metrics.Metrics,
) *NotificationService {
	return &NotificationService{
		emailSender: emailSender,
		logger:      logger,
		pool:        pool,
		metrics:     m,
		tracer:      otel.Tracer("notification-service"),
	}
}

// HandleOrderStatus emails the customer once per order and status. The key is
// only recorded when the send succeeded, so a failed send is retried on redelivery.
func (s *NotificationService) HandleOrderStatus(ctx context.Context, n pkgdomain.OrderStatusNotification) error {
	ctx, span := s.tracer.Start(ctx, "NotificationService.HandleOrderStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order.id", n.OrderID),
		attribute.String("order.status", n.Status),
	)

	if !domain.Supported(n.Status) {
		s.metrics.Notifications.WithLabelValues(n.Status, "unsupported").Inc()
		return fmt.Errorf("%w: no notification for status %q", pkgdomain.ErrPoisonMessage, n.Status)
	}

	sent, err := outboxUtils.ProcessWithDeduplication(ctx, s.pool, s.logger, domain.DedupKey(n), func(ctx context.Context, _ pgx.Tx) error {
		return s.emailSender.SendOrderStatusEmail(ctx, n)
	})
	if err != nil {
		span.RecordError(err)

		result := "failed"
		if errors.Is(err, domain.ErrUndeliverable) {
			result = "undeliverable"
		}
		s.metrics.Notifications.WithLabelValues(n.Status, result).Inc()

		return err
	}

	if !sent {
		s.metrics.Notifications.WithLabelValues(n.Status, "duplicate").Inc()
		return nil
	}

	s.metrics.Notifications.WithLabelValues(n.Status, "sent").Inc()
	mylogger.Info(
		ctx,
		s.logger,
		"Customer notified about order status",
		zap.Int64("order_id", n.OrderID),
		zap.String("status", n.Status),
	)

	return nil
}
