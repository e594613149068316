package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	service.LedgerService

	mu    sync.Mutex
	calls []domain.ReservationCommand
	apply func(calls int) (domain.ReservationResult, error)
}

func (f *fakeLedger) ApplyReservation(_ context.Context, cmd domain.ReservationCommand) (domain.ReservationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)
	return f.apply(len(f.calls))
}

type fakeProducer struct {
	messages []kafka.Message
	err      error
}

func (p *fakeProducer) ProduceMessage(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}

	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

var testPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

func commandMessage(value string, headers ...*sarama.RecordHeader) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     domain.ReservationCommandsTopic,
		Partition: 2,
		Offset:    41,
		Key:       []byte("7"),
		Value:     []byte(value),
		Headers:   headers,
	}
}

func header(key, value string) *sarama.RecordHeader {
	return &sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

func newTestConsumer(ledger *fakeLedger, producer *fakeProducer) (*Consumer, *metrics.Metrics) {
	m := metrics.New("inventory-test")
	return NewConsumer(ledger, producer, m, testPolicy, zap.NewNop()), m
}

func TestProcessMessage_Applied(t *testing.T) {
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		return domain.ReservationApplied, nil
	}}
	producer := &fakeProducer{}
	consumer, m := newTestConsumer(ledger, producer)

	err := consumer.ProcessMessage(context.Background(), commandMessage(
		`{"orderId":7,"productId":1,"quantity":4}`,
		header(domain.HeaderMessageType, domain.ReservationCommandType),
		header(domain.HeaderSchemaVersion, domain.SchemaVersion),
	))

	require.NoError(t, err)
	require.Len(t, ledger.calls, 1)
	assert.Equal(t, domain.ReservationCommand{OrderID: 7, ProductID: 1, Quantity: 4}, ledger.calls[0])
	assert.Empty(t, producer.messages)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reservations.WithLabelValues("Applied")))
}

func TestProcessMessage_BusinessRejectionIsNotAnError(t *testing.T) {
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		return domain.ReservationInsufficientStock, nil
	}}
	consumer, m := newTestConsumer(ledger, &fakeProducer{})

	err := consumer.ProcessMessage(context.Background(), commandMessage(`{"orderId":10,"productId":1,"quantity":8}`))

	require.NoError(t, err)
	assert.Len(t, ledger.calls, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reservations.WithLabelValues("InsufficientStock")))
}

func TestProcessMessage_PoisonIsDroppedWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name string
		msg  *sarama.ConsumerMessage
	}{
		{"malformed json", commandMessage(`{"orderId":`)},
		{"missing order id", commandMessage(`{"productId":1,"quantity":1}`)},
		{"negative quantity", commandMessage(`{"orderId":1,"productId":1,"quantity":-3}`)},
		{"unknown schema", commandMessage(`{"orderId":1,"productId":1,"quantity":1}`, header(domain.HeaderSchemaVersion, "9"))},
		{"wrong type", commandMessage(`{"orderId":1,"productId":1,"quantity":1}`, header(domain.HeaderMessageType, "Refund"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
				t.Fatal("ledger must not be called for poison messages")
				return "", nil
			}}
			producer := &fakeProducer{}
			consumer, m := newTestConsumer(ledger, producer)

			err := consumer.ProcessMessage(context.Background(), tt.msg)

			require.NoError(t, err)
			assert.Empty(t, ledger.calls)
			assert.Empty(t, producer.messages)
			assert.Equal(t, float64(1), testutil.ToFloat64(m.PoisonMessages.WithLabelValues(domain.ReservationCommandsTopic)))
		})
	}
}

func TestProcessMessage_TransientFailureIsRetried(t *testing.T) {
	ledger := &fakeLedger{apply: func(calls int) (domain.ReservationResult, error) {
		if calls < 3 {
			return "", errors.New("connection reset by peer")
		}
		return domain.ReservationApplied, nil
	}}
	producer := &fakeProducer{}
	consumer, _ := newTestConsumer(ledger, producer)

	err := consumer.ProcessMessage(context.Background(), commandMessage(`{"orderId":7,"productId":1,"quantity":4}`))

	require.NoError(t, err)
	assert.Len(t, ledger.calls, 3)
	assert.Empty(t, producer.messages)
}

func TestProcessMessage_ExhaustedRetriesGoToDLQ(t *testing.T) {
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		return "", errors.New("database is down")
	}}
	producer := &fakeProducer{}
	consumer, m := newTestConsumer(ledger, producer)

	raw := `{"orderId":7,"productId":1,"quantity":4}`
	err := consumer.ProcessMessage(context.Background(), commandMessage(raw, header(domain.HeaderMessageID, "55")))

	require.NoError(t, err)
	assert.Len(t, ledger.calls, int(testPolicy.MaxAttempts))
	require.Len(t, producer.messages, 1)

	dead := producer.messages[0]
	assert.Equal(t, domain.ReservationDLQTopic, dead.Topic)
	assert.Equal(t, "7", dead.Key)
	assert.Equal(t, raw, string(dead.Value))
	assert.Equal(t, domain.ReservationCommandsTopic, dead.Headers[domain.HeaderOriginalTopic])
	assert.Equal(t, "2", dead.Headers[domain.HeaderOriginalPartition])
	assert.Equal(t, "41", dead.Headers[domain.HeaderOriginalOffset])
	assert.Equal(t, "3", dead.Headers[domain.HeaderAttempts])
	assert.Equal(t, "database is down", dead.Headers[domain.HeaderException])
	assert.NotEqual(t, "55", dead.Headers[domain.HeaderMessageID])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeadLettered.WithLabelValues(domain.ReservationCommandsTopic)))
}

func TestProcessMessage_DLQFailureIsNotAcknowledged(t *testing.T) {
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		return "", errors.New("database is down")
	}}
	producer := &fakeProducer{err: sarama.ErrOutOfBrokers}
	consumer, _ := newTestConsumer(ledger, producer)

	err := consumer.ProcessMessage(context.Background(), commandMessage(`{"orderId":7,"productId":1,"quantity":4}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestProcessMessage_ShutdownLeavesMessageForRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		cancel()
		return "", context.Canceled
	}}
	producer := &fakeProducer{}
	consumer, _ := newTestConsumer(ledger, producer)

	err := consumer.ProcessMessage(ctx, commandMessage(`{"orderId":7,"productId":1,"quantity":4}`))

	require.Error(t, err)
	assert.Empty(t, producer.messages)
}

// stalledLedger never answers until the caller gives up.
type stalledLedger struct {
	service.LedgerService

	calls atomic.Int32
}

func (l *stalledLedger) ApplyReservation(ctx context.Context, _ domain.ReservationCommand) (domain.ReservationResult, error) {
	l.calls.Add(1)
	<-ctx.Done()

	return "", ctx.Err()
}

func TestProcessMessage_StalledLedgerIsBoundedAndDeadLettered(t *testing.T) {
	ledger := &stalledLedger{}
	producer := &fakeProducer{}

	policy := testPolicy
	policy.AttemptTimeout = 20 * time.Millisecond
	consumer := NewConsumer(ledger, producer, metrics.New("inventory-test"), policy, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- consumer.ProcessMessage(context.Background(), commandMessage(`{"orderId":7,"productId":1,"quantity":4}`))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessMessage is still waiting on the ledger")
	}

	assert.Equal(t, int32(testPolicy.MaxAttempts), ledger.calls.Load())
	require.Len(t, producer.messages, 1)
	assert.Equal(t, domain.ReservationDLQTopic, producer.messages[0].Topic)
	assert.Contains(t, producer.messages[0].Headers[domain.HeaderException], context.DeadlineExceeded.Error())
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "test-member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return domain.ReservationCommandsTopic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(len(c.messages)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaim_PoisonDoesNotBlockLaterCommands(t *testing.T) {
	ledger := &fakeLedger{apply: func(int) (domain.ReservationResult, error) {
		return domain.ReservationApplied, nil
	}}
	consumer, m := newTestConsumer(ledger, &fakeProducer{})

	poison := commandMessage(`order 7 please`)
	poison.Offset = 10
	valid := commandMessage(`{"orderId":8,"productId":1,"quantity":2}`)
	valid.Offset = 11

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- poison
	claim.messages <- valid
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	handler := kafka.NewGroupHandler(consumer.ProcessMessage, zap.NewNop())

	require.NoError(t, handler.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{10, 11}, session.marked)
	require.Len(t, ledger.calls, 1)
	assert.Equal(t, int64(8), ledger.calls[0].OrderID)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoisonMessages.WithLabelValues(domain.ReservationCommandsTopic)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reservations.WithLabelValues("Applied")))
}

func TestDLQMonitor_ProcessMessage(t *testing.T) {
	m := metrics.New("inventory-test")
	monitor := NewDLQMonitor(m, zap.NewNop())

	err := monitor.ProcessMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: domain.ReservationDLQTopic,
		Value: []byte(`{"orderId":7,"productId":1,"quantity":4}`),
		Headers: []*sarama.RecordHeader{
			header(domain.HeaderOriginalTopic, domain.ReservationCommandsTopic),
			header(domain.HeaderAttempts, "5"),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeadLetters.WithLabelValues(domain.ReservationCommandsTopic)))
}
