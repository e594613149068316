package tests

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/testutil"
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/domain"
	"github.com/shopspring/decimal"
)

func rejected(orderID int64) pkgdomain.OrderStatusNotification {
	return pkgdomain.OrderStatusNotification{
		OrderID:       orderID,
		CustomerName:  "Bob",
		CustomerEmail: "bob@example.com",
		Status:        "Rejected",
		Reason:        "insufficient stock",
		TotalPrice:    decimal.NewFromInt(800),
	}
}

func (s *IntegrationTestSuite) processedKeys() int {
	var n int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM processed_events").Scan(&n)
	s.Require().NoError(err)

	return n
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_SendsOnce() {
	s.Require().NoError(s.Service.HandleOrderStatus(s.Ctx, rejected(10)))
	s.Require().NoError(s.Service.HandleOrderStatus(s.Ctx, rejected(10)))

	s.Equal(1, s.Sender.count())
	s.Equal(1, s.processedKeys())
	s.Equal(1.0, testutil.ToFloat64(s.Metrics.Notifications.WithLabelValues("Rejected", "sent")))
	s.Equal(1.0, testutil.ToFloat64(s.Metrics.Notifications.WithLabelValues("Rejected", "duplicate")))
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_StatusChangeIsNewNotification() {
	s.Require().NoError(s.Service.HandleOrderStatus(s.Ctx, rejected(11)))

	cancelled := rejected(11)
	cancelled.Status = "Cancelled"
	cancelled.Reason = "manual override"
	s.Require().NoError(s.Service.HandleOrderStatus(s.Ctx, cancelled))

	s.Equal(2, s.Sender.count())
	s.Equal(2, s.processedKeys())
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_FailedSendIsRetried() {
	s.Sender.fail(errors.New("smtp unavailable"))

	err := s.Service.HandleOrderStatus(s.Ctx, rejected(12))
	s.Require().Error(err)
	s.Equal(0, s.processedKeys(), "a failed send must not consume the dedup key")

	s.Sender.fail(nil)
	s.Require().NoError(s.Service.HandleOrderStatus(s.Ctx, rejected(12)))

	s.Equal(1, s.Sender.count())
	s.Equal(1, s.processedKeys())
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_UnsupportedStatus() {
	n := rejected(13)
	n.Status = "Pending"

	err := s.Service.HandleOrderStatus(s.Ctx, n)
	s.ErrorIs(err, pkgdomain.ErrPoisonMessage)
	s.Equal(0, s.Sender.count())
	s.Equal(0, s.processedKeys())
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_ConcurrentRedeliverySendsOnce() {
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Service.HandleOrderStatus(s.Ctx, rejected(14))
		}()
	}
	wg.Wait()

	s.Equal(1, s.Sender.count())
	s.Equal(1, s.processedKeys())
}

func (s *IntegrationTestSuite) TestHandleOrderStatus_UndeliverableIsReported() {
	s.Sender.fail(fmt.Errorf("%w: 550 mailbox unavailable", domain.ErrUndeliverable))

	err := s.Service.HandleOrderStatus(s.Ctx, rejected(15))
	s.Require().ErrorIs(err, domain.ErrUndeliverable)

	s.Equal(0, s.processedKeys())
	s.Equal(1.0, testutil.ToFloat64(s.Metrics.Notifications.WithLabelValues("Rejected", "undeliverable")))
}
