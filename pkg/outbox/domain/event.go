package domain

import (
	"strconv"
	"time"

	"github.com/sakashimaa/stock-reservation/pkg/kafka"
)

const headerMessageID = "message-id"

type OutboxEvent struct {
	ID            int64             `db:"id"`
	AggregateType string            `db:"aggregate_type"`
	AggregateID   string            `db:"aggregate_id"`
	EventType     string            `db:"event_type"`
	Topic         string            `db:"topic"`
	MessageKey    string            `db:"message_key"`
	Payload       []byte            `db:"payload"`
	Headers       map[string]string `db:"headers"`
	CreatedAt     time.Time         `db:"created_at"`
	PublishedAt   *time.Time        `db:"published_at"`
	Attempts      int               `db:"attempts"`
	LastError     *string           `db:"last_error"`
}

// Message builds the bus record for the event. The outbox id travels as message-id.
func (e *OutboxEvent) Message() kafka.Message {
	headers := make(map[string]string, len(e.Headers)+1)
	for k, v := range e.Headers {
		headers[k] = v
	}
	headers[headerMessageID] = strconv.FormatInt(e.ID, 10)

	return kafka.Message{
		Topic:   e.Topic,
		Key:     e.MessageKey,
		Value:   e.Payload,
		Headers: headers,
	}
}
