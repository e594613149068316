package tests

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreateOrder_PersistsPendingWithCommand() {
	order := s.createOrder(1, 4, "ann@example.com")

	s.Require().NotZero(order.ID)
	s.Require().True(decimal.RequireFromString("100.00").Equal(order.UnitPrice))
	s.Require().True(decimal.RequireFromString("400.00").Equal(order.TotalPrice))

	var (
		topic, key string
		payload    []byte
		headers    map[string]string
	)
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT topic, message_key, payload, headers FROM outbox WHERE aggregate_id = $1`,
		strconv.FormatInt(order.ID, 10),
	).Scan(&topic, &key, &payload, &headers)
	s.Require().NoError(err)

	s.Require().Equal(pkgdomain.ReservationCommandsTopic, topic)
	s.Require().Equal(strconv.FormatInt(order.ID, 10), key)
	s.Require().Equal(pkgdomain.ReservationCommandType, headers[pkgdomain.HeaderMessageType])
	s.Require().Equal(pkgdomain.SchemaVersion, headers[pkgdomain.HeaderSchemaVersion])

	cmd, err := pkgdomain.DecodeReservationCommand(payload)
	s.Require().NoError(err)
	s.Require().Equal(pkgdomain.ReservationCommand{OrderID: order.ID, ProductID: 1, Quantity: 4}, cmd)
}

func (s *IntegrationTestSuite) TestCreateOrder_CommandIsPublished() {
	workerCtx, cancel := context.WithCancel(s.Ctx)
	s.T().Cleanup(cancel)

	go func() {
		_ = s.OutboxProcessor.Start(workerCtx)
	}()

	order := s.createOrder(1, 1, "ann@example.com")

	s.Require().Eventually(func() bool {
		var publishedAt *time.Time

		err := s.DbPool.QueryRow(
			s.Ctx,
			`SELECT published_at FROM outbox WHERE aggregate_id = $1`,
			fmt.Sprintf("%d", order.ID),
		).Scan(&publishedAt)

		return err == nil && publishedAt != nil
	}, 10*time.Second, 100*time.Millisecond)
}

func (s *IntegrationTestSuite) TestCreateOrder_RejectedAtIntake() {
	tests := []struct {
		name       string
		productID  int64
		quantity   int64
		wantReason string
		wantErr    error
	}{
		{"unknown product", 42, 1, domain.ReasonProductUnknown, pkgdomain.ErrNotFound},
		{"insufficient stock", 1, 11, domain.ReasonInsufficientStock, pkgdomain.ErrInsufficientStock},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
				ProductID:     tt.productID,
				Quantity:      tt.quantity,
				CustomerName:  "Bob",
				CustomerEmail: "bob@example.com",
			})

			var rejection *domain.RejectionError
			s.Require().True(errors.As(err, &rejection))
			s.Require().Equal(tt.wantReason, rejection.Reason)
			s.Require().ErrorIs(err, tt.wantErr)
		})
	}

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM orders`))
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM outbox`))
}

func (s *IntegrationTestSuite) TestCreateOrder_InventoryDown() {
	s.Inventory.err = fmt.Errorf("%w: connection refused", pkgdomain.ErrTransient)

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		ProductID:     1,
		Quantity:      1,
		CustomerName:  "Bob",
		CustomerEmail: "bob@example.com",
	})
	s.Require().ErrorIs(err, pkgdomain.ErrTransient)
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCreateOrder_SurvivesClientDisconnect() {
	ctx, cancel := context.WithCancel(s.Ctx)
	s.Inventory.onCall = cancel

	order, err := s.OrderService.CreateOrder(ctx, domain.CreateOrderInput{
		ProductID:     1,
		Quantity:      2,
		CustomerName:  "Bob",
		CustomerEmail: "bob@example.com",
	})
	s.Require().NoError(err)
	s.Require().ErrorIs(ctx.Err(), context.Canceled)

	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM orders WHERE id = $1`, order.ID))
	s.Require().Equal(int64(1), s.countRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1`,
		strconv.FormatInt(order.ID, 10),
	))
}

// Order A confirms and drains the ledger to 6; order B for 10 is then refused at intake.
func (s *IntegrationTestSuite) TestScenario_SecondOrderRejectedAtIntake() {
	a := s.createOrder(1, 4, "ann@example.com")

	confirmed, err := s.OrderService.ApplyReservationOutcome(s.Ctx, pkgdomain.ReservationOutcome{
		OrderID:   a.ID,
		ProductID: 1,
		Quantity:  4,
		Result:    pkgdomain.ReservationApplied,
	})
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusConfirmed, confirmed.Status)
	s.Inventory.setQuantity(1, 6)

	_, err = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		ProductID:     1,
		Quantity:      10,
		CustomerName:  "Bob",
		CustomerEmail: "bob@example.com",
	})

	var rejection *domain.RejectionError
	s.Require().True(errors.As(err, &rejection))
	s.Require().Equal(domain.ReasonInsufficientStock, rejection.Reason)
	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestListByCustomer_NewestFirst() {
	first := s.createOrder(1, 1, "ann@example.com")
	second := s.createOrder(1, 2, "ann@example.com")
	s.createOrder(1, 3, "bob@example.com")

	orders, err := s.OrderService.ListByCustomer(s.Ctx, "ann@example.com")
	s.Require().NoError(err)
	s.Require().Len(orders, 2)
	s.Require().Equal(second.ID, orders[0].ID)
	s.Require().Equal(first.ID, orders[1].ID)

	_, err = s.OrderService.ListByCustomer(s.Ctx, "")
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)
}

func (s *IntegrationTestSuite) TestCreateOrder_TotalOutOfRangeIsInvalid() {
	s.Inventory.products[1].Price = decimal.RequireFromString("9999999999.99")
	s.Inventory.setQuantity(1, 1000)

	_, err := s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		ProductID:     1,
		Quantity:      10,
		CustomerName:  "Integration Customer",
		CustomerEmail: "big@example.com",
	})
	s.Require().NoError(err)

	_, err = s.OrderService.CreateOrder(s.Ctx, domain.CreateOrderInput{
		ProductID:     1,
		Quantity:      101,
		CustomerName:  "Integration Customer",
		CustomerEmail: "big@example.com",
	})
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)
	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM orders`))
}
