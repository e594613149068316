package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"go.uber.org/zap"
)

const DLQGroupID = "inventory-dlq-monitor"

// DLQMonitor reports every dead letter. It never fails a message.
type DLQMonitor struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDLQMonitor(m *metrics.Metrics, logger *zap.Logger) *DLQMonitor {
	return &DLQMonitor{
		metrics: m,
		logger:  logger,
	}
}

func (d *DLQMonitor) Start(ctx context.Context, brokers []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		DLQGroupID,
		[]string{domain.ReservationDLQTopic},
		d.ProcessMessage,
		d.logger,
	)

	return consumerGroup.Run(ctx)
}

func (d *DLQMonitor) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	originalTopic := kafka.Header(msg, domain.HeaderOriginalTopic)
	if originalTopic == "" {
		originalTopic = "unknown"
	}

	d.metrics.DeadLetters.WithLabelValues(originalTopic).Inc()

	mylogger.Error(
		ctx,
		d.logger,
		"Dead letter received",
		zap.String("original_topic", originalTopic),
		zap.String("original_partition", kafka.Header(msg, domain.HeaderOriginalPartition)),
		zap.String("original_offset", kafka.Header(msg, domain.HeaderOriginalOffset)),
		zap.String("attempts", kafka.Header(msg, domain.HeaderAttempts)),
		zap.String("exception", kafka.Header(msg, domain.HeaderException)),
		zap.ByteString("key", msg.Key),
		zap.ByteString("payload", msg.Value),
	)

	return nil
}
