package tests

import (
	"strconv"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/order/internal/domain"
	"github.com/shopspring/decimal"
)

func outcome(orderID int64, result pkgdomain.ReservationResult) pkgdomain.ReservationOutcome {
	return pkgdomain.ReservationOutcome{OrderID: orderID, ProductID: 1, Result: result}
}

func (s *IntegrationTestSuite) notificationCount(orderID int64) int64 {
	return s.countRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND topic = $2`,
		strconv.FormatInt(orderID, 10),
		pkgdomain.OrderNotificationsTopic,
	)
}

func (s *IntegrationTestSuite) TestApplyOutcome_ConfirmsAndNotifies() {
	order := s.createOrder(1, 4, "ann@example.com")

	updated, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationApplied))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusConfirmed, updated.Status)
	s.Require().Empty(updated.StatusReason)
	s.Require().True(decimal.RequireFromString("400.00").Equal(updated.TotalPrice))
	s.Require().Equal(int64(1), s.notificationCount(order.ID))

	var payload []byte
	err = s.DbPool.QueryRow(
		s.Ctx,
		`SELECT payload FROM outbox WHERE aggregate_id = $1 AND topic = $2`,
		strconv.FormatInt(order.ID, 10),
		pkgdomain.OrderNotificationsTopic,
	).Scan(&payload)
	s.Require().NoError(err)

	envelope, err := pkgdomain.DecodeEnvelope(payload)
	s.Require().NoError(err)
	s.Require().Equal(pkgdomain.OrderConfirmedEvent, envelope.Event)
}

func (s *IntegrationTestSuite) TestApplyOutcome_FirstTerminalTransitionWins() {
	order := s.createOrder(1, 4, "ann@example.com")

	_, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationApplied))
	s.Require().NoError(err)

	// redelivered or conflicting outcomes leave the order as it is
	again, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationInsufficientStock))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusConfirmed, again.Status)
	s.Require().Equal(int64(1), s.notificationCount(order.ID))
}

// Two orders of 8 pass the advisory check against 10 units; the ledger confirms one.
func (s *IntegrationTestSuite) TestScenario_ConcurrentOrdersResolvedByOutcome() {
	a := s.createOrder(1, 8, "ann@example.com")
	b := s.createOrder(1, 8, "bob@example.com")

	confirmed, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(a.ID, pkgdomain.ReservationApplied))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusConfirmed, confirmed.Status)

	rejected, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(b.ID, pkgdomain.ReservationInsufficientStock))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusRejected, rejected.Status)
	s.Require().Equal(domain.ReasonInsufficientStock, rejected.StatusReason)

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM orders WHERE status = 'Pending'`))
}

func (s *IntegrationTestSuite) TestApplyOutcome_ProductGoneRejects() {
	order := s.createOrder(1, 1, "ann@example.com")

	rejected, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationProductNotFound))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusRejected, rejected.Status)
	s.Require().Equal(domain.ReasonProductUnknown, rejected.StatusReason)
}

func (s *IntegrationTestSuite) TestApplyOutcome_UnknownOrder() {
	_, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(4242, pkgdomain.ReservationApplied))
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestUpdateStatus_ManualOverride() {
	order := s.createOrder(1, 3, "ann@example.com")

	cancelled, err := s.OrderService.UpdateStatus(s.Ctx, order.ID, domain.OrderStatusCancelled)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Require().True(order.TotalPrice.Equal(cancelled.TotalPrice))
	s.Require().Equal(int64(1), s.notificationCount(order.ID))

	// same status again is a no-op
	_, err = s.OrderService.UpdateStatus(s.Ctx, order.ID, domain.OrderStatusCancelled)
	s.Require().NoError(err)
	s.Require().Equal(int64(1), s.notificationCount(order.ID))

	_, err = s.OrderService.UpdateStatus(s.Ctx, order.ID, domain.OrderStatusPending)
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)

	_, err = s.OrderService.UpdateStatus(s.Ctx, 4242, domain.OrderStatusConfirmed)
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)

	// a late outcome cannot reopen an overridden order
	late, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationApplied))
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCancelled, late.Status)
}
