package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

type Producer interface {
	ProduceMessage(ctx context.Context, msg Message) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
}

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	return config
}

func NewProducer(brokers []string) (Producer, error) {
	p, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return &producer{syncProducer: p}, nil
}

// NewProducerFromSync wraps an existing sync producer, e.g. sarama/mocks in tests.
func NewProducerFromSync(p sarama.SyncProducer) Producer {
	return &producer{syncProducer: p}
}

// ProduceMessage returns only after the broker acknowledged the write.
func (p *producer) ProduceMessage(ctx context.Context, msg Message) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+len(carrier))
	for k, v := range msg.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	for k, v := range carrier {
		if _, ok := msg.Headers[k]; ok {
			continue
		}
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	producerMsg := &sarama.ProducerMessage{
		Topic:   msg.Topic,
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	}
	if msg.Key != "" {
		producerMsg.Key = sarama.StringEncoder(msg.Key)
	}

	if _, _, err := p.syncProducer.SendMessage(producerMsg); err != nil {
		return fmt.Errorf("error sending message to %s: %w", msg.Topic, err)
	}

	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}
