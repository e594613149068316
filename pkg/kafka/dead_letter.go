package kafka

import (
	"context"
	"errors"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/mylogger"
	"go.uber.org/zap"
)

// DeadLetterer moves messages that exhausted their retries to a dead-letter topic.
type DeadLetterer struct {
	producer Producer
	topic    string
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDeadLetterer(producer Producer, topic string, m *metrics.Metrics, logger *zap.Logger) *DeadLetterer {
	return &DeadLetterer{
		producer: producer,
		topic:    topic,
		metrics:  m,
		logger:   logger,
	}
}

// Send republishes msg with headers describing the failure. It returns nil
// only after the broker acked the dead letter, so the original may be marked.
func (d *DeadLetterer) Send(ctx context.Context, msg *sarama.ConsumerMessage, cause error, attempts uint64) error {
	headers := make(map[string]string, len(msg.Headers)+6)
	for _, h := range msg.Headers {
		if h != nil {
			headers[string(h.Key)] = string(h.Value)
		}
	}
	headers[domain.HeaderMessageID] = uuid.NewString()
	headers[domain.HeaderOriginalTopic] = msg.Topic
	headers[domain.HeaderOriginalPartition] = strconv.FormatInt(int64(msg.Partition), 10)
	headers[domain.HeaderOriginalOffset] = strconv.FormatInt(msg.Offset, 10)
	headers[domain.HeaderException] = cause.Error()
	headers[domain.HeaderAttempts] = strconv.FormatUint(attempts, 10)

	err := d.producer.ProduceMessage(ctx, Message{
		Topic:   d.topic,
		Key:     string(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		mylogger.Error(
			ctx,
			d.logger,
			"Failed to dead-letter message, leaving it for redelivery",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)

		return errors.Join(cause, err)
	}

	d.metrics.DeadLettered.WithLabelValues(msg.Topic).Inc()
	d.metrics.MessagesConsumed.WithLabelValues(msg.Topic, "dead_lettered").Inc()

	mylogger.Error(
		ctx,
		d.logger,
		"ALERT: message dead-lettered",
		zap.String("topic", msg.Topic),
		zap.String("dlq_topic", d.topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Uint64("attempts", attempts),
		zap.Error(cause),
	)

	return nil
}
