package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReservationCommandsTopic = "reservation_commands"
	ReservationOutcomesTopic = "reservation_outcomes"
	ReservationDLQTopic      = "reservation_commands.dlq"
	OrderNotificationsTopic  = "order_notifications"

	ReservationOutcomesDLQTopic = "reservation_outcomes.dlq"
	OrderNotificationsDLQTopic  = "order_notifications.dlq"
)

const (
	HeaderMessageType   = "message-type"
	HeaderSchemaVersion = "schema-version"
	HeaderMessageID     = "message-id"

	HeaderOriginalTopic     = "dlq-original-topic"
	HeaderOriginalPartition = "dlq-original-partition"
	HeaderOriginalOffset    = "dlq-original-offset"
	HeaderException         = "dlq-exception"
	HeaderAttempts          = "dlq-attempts"
)

const (
	SchemaVersion = "1"

	ReservationCommandType = "ReservationCommand"
	ReservationOutcomeType = "ReservationOutcome"
)

type ReservationCommand struct {
	OrderID   int64 `json:"orderId"`
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

func (c ReservationCommand) Validate() error {
	switch {
	case c.OrderID <= 0:
		return fmt.Errorf("%w: orderId must be positive", ErrPoisonMessage)
	case c.ProductID <= 0:
		return fmt.Errorf("%w: productId must be positive", ErrPoisonMessage)
	case c.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrPoisonMessage)
	}

	return nil
}

// Headers returns the bus headers every ReservationCommand is published with.
func (c ReservationCommand) Headers() map[string]string {
	return map[string]string{
		HeaderMessageType:   ReservationCommandType,
		HeaderSchemaVersion: SchemaVersion,
	}
}

// CheckSchemaVersion accepts an absent header as the current version.
func CheckSchemaVersion(version string) error {
	if version == "" || version == SchemaVersion {
		return nil
	}

	return fmt.Errorf("%w: unsupported schema version %q", ErrPoisonMessage, version)
}

func DecodeReservationCommand(raw []byte) (ReservationCommand, error) {
	var cmd ReservationCommand

	if len(bytes.TrimSpace(raw)) == 0 {
		return cmd, fmt.Errorf("%w: empty payload", ErrPoisonMessage)
	}

	if err := json.Unmarshal(raw, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	if err := cmd.Validate(); err != nil {
		return cmd, err
	}

	return cmd, nil
}

type ReservationResult string

const (
	ReservationApplied           ReservationResult = "Applied"
	ReservationInsufficientStock ReservationResult = "InsufficientStock"
	ReservationProductNotFound   ReservationResult = "NotFound"
)

func (r ReservationResult) Valid() bool {
	switch r {
	case ReservationApplied, ReservationInsufficientStock, ReservationProductNotFound:
		return true
	default:
		return false
	}
}

type ReservationOutcome struct {
	OrderID     int64             `json:"orderId"`
	ProductID   int64             `json:"productId"`
	Quantity    int64             `json:"quantity"`
	Result      ReservationResult `json:"result"`
	ProcessedAt time.Time         `json:"processedAt"`
}

// EventEnvelope wraps outcome and notification payloads on the bus.
type EventEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(event string, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	return json.Marshal(EventEnvelope{
		Event:   event,
		Payload: payloadBytes,
	})
}

func DecodeEnvelope(raw []byte) (EventEnvelope, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	if envelope.Event == "" || len(envelope.Payload) == 0 {
		return envelope, fmt.Errorf("%w: envelope without event or payload", ErrPoisonMessage)
	}

	return envelope, nil
}

func DecodeReservationOutcome(payload []byte) (ReservationOutcome, error) {
	var outcome ReservationOutcome
	if err := json.Unmarshal(payload, &outcome); err != nil {
		return outcome, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	if outcome.OrderID <= 0 {
		return outcome, fmt.Errorf("%w: orderId must be positive", ErrPoisonMessage)
	}

	if !outcome.Result.Valid() {
		return outcome, fmt.Errorf("%w: unknown reservation result %q", ErrPoisonMessage, outcome.Result)
	}

	return outcome, nil
}

const (
	OrderConfirmedEvent = "OrderConfirmed"
	OrderRejectedEvent  = "OrderRejected"
	OrderCancelledEvent = "OrderCancelled"
)

type OrderStatusNotification struct {
	OrderID       int64           `json:"orderId"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

func DecodeOrderStatusNotification(payload []byte) (OrderStatusNotification, error) {
	var n OrderStatusNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}

	switch {
	case n.OrderID <= 0:
		return n, fmt.Errorf("%w: orderId must be positive", ErrPoisonMessage)
	case n.CustomerEmail == "":
		return n, fmt.Errorf("%w: customerEmail is required", ErrPoisonMessage)
	case n.Status == "":
		return n, fmt.Errorf("%w: status is required", ErrPoisonMessage)
	}

	return n, nil
}
