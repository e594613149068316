package tests

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus/testutil"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
)

func (s *IntegrationTestSuite) ageOrder(orderID int64) {
	_, err := s.DbPool.Exec(
		s.Ctx,
		`UPDATE orders
		SET created_at = created_at - INTERVAL '10 minutes',
			last_reconciled_at = last_reconciled_at - INTERVAL '10 minutes'
		WHERE id = $1`,
		orderID,
	)
	s.Require().NoError(err)
}

func (s *IntegrationTestSuite) commandCount(orderID int64) int64 {
	return s.countRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND topic = $2`,
		strconv.FormatInt(orderID, 10),
		pkgdomain.ReservationCommandsTopic,
	)
}

func (s *IntegrationTestSuite) TestReconciler_FreshOrdersAreLeftAlone() {
	order := s.createOrder(1, 1, "ann@example.com")

	result, err := s.Reconciler.Sweep(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(result.Requeued)
	s.Require().Equal(int64(1), s.commandCount(order.ID))
}

func (s *IntegrationTestSuite) TestReconciler_RequeuesThenAlerts() {
	order := s.createOrder(1, 1, "ann@example.com")

	for attempt := 1; attempt <= 2; attempt++ {
		s.ageOrder(order.ID)

		result, err := s.Reconciler.Sweep(s.Ctx)
		s.Require().NoError(err)
		s.Require().Equal(1, result.Requeued)
		s.Require().Equal(int64(1+attempt), s.commandCount(order.ID))

		// just reconciled, so not stale yet
		result, err = s.Reconciler.Sweep(s.Ctx)
		s.Require().NoError(err)
		s.Require().Zero(result.Requeued)
	}

	s.ageOrder(order.ID)

	result, err := s.Reconciler.Sweep(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(result.Requeued)
	s.Require().Equal(1, result.Alerted)
	s.Require().Equal(1.0, testutil.ToFloat64(s.Metrics.StuckOrders))
	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM orders WHERE stuck_alerted_at IS NOT NULL`))

	// alerted once only
	s.ageOrder(order.ID)
	result, err = s.Reconciler.Sweep(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(result.Alerted)
	s.Require().Equal(int64(3), s.commandCount(order.ID))
}

func (s *IntegrationTestSuite) TestReconciler_IgnoresTerminalOrders() {
	order := s.createOrder(1, 1, "ann@example.com")
	_, err := s.OrderService.ApplyReservationOutcome(s.Ctx, outcome(order.ID, pkgdomain.ReservationApplied))
	s.Require().NoError(err)
	s.ageOrder(order.ID)

	result, err := s.Reconciler.Sweep(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(result.Requeued)
	s.Require().Zero(result.Alerted)
}
