package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	outboxDomain "github.com/sakashimaa/stock-reservation/pkg/outbox/domain"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/worker"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
)

// enqueueReservation writes the ReservationCommand for order into the outbox, keyed by order id.
func enqueueReservation(ctx context.Context, tx pgx.Tx, repo worker.OutboxRepository, order *domain.Order) error {
	cmd := order.ReservationCommand()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal reservation command: %w", err)
	}

	orderID := strconv.FormatInt(order.ID, 10)
	return repo.SaveOutboxEvent(ctx, tx, &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   orderID,
		EventType:     pkgdomain.ReservationCommandType,
		Topic:         pkgdomain.ReservationCommandsTopic,
		MessageKey:    orderID,
		Payload:       payload,
		Headers:       cmd.Headers(),
	})
}

func enqueueNotification(ctx context.Context, tx pgx.Tx, repo worker.OutboxRepository, order *domain.Order) error {
	event, notification := order.Notification()

	payload, err := pkgdomain.NewEnvelope(event, notification)
	if err != nil {
		return err
	}

	orderID := strconv.FormatInt(order.ID, 10)
	return repo.SaveOutboxEvent(ctx, tx, &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   orderID,
		EventType:     event,
		Topic:         pkgdomain.OrderNotificationsTopic,
		MessageKey:    orderID,
		Payload:       payload,
		Headers: map[string]string{
			pkgdomain.HeaderMessageType:   event,
			pkgdomain.HeaderSchemaVersion: pkgdomain.SchemaVersion,
		},
	})
}
