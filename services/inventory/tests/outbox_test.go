package tests

import (
	"github.com/prometheus/client_golang/prometheus/testutil"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
)

func (s *IntegrationTestSuite) TestOutbox_OutcomeIsPublishedOnce() {
	product := s.createProduct("Widget", 10, "1.00")

	_, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(401, product.ID, 2))
	s.Require().NoError(err)
	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))

	published, err := s.OutboxProcessor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, published)

	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))
	s.Require().Equal(1.0, testutil.ToFloat64(
		s.Metrics.OutboxPublished.WithLabelValues(pkgdomain.ReservationOutcomesTopic),
	))

	published, err = s.OutboxProcessor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(published)
}

func (s *IntegrationTestSuite) TestOutbox_RolledBackReservationLeavesNoEvent() {
	_, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(402, 1, -1))
	s.Require().Error(err)
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM outbox`))
}
