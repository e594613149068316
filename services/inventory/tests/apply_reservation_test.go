package tests

import (
	"sync"

	"github.com/sakashimaa/stock-reservation/pkg/domain"
)

func cmd(orderID, productID, quantity int64) domain.ReservationCommand {
	return domain.ReservationCommand{OrderID: orderID, ProductID: productID, Quantity: quantity}
}

func (s *IntegrationTestSuite) TestApplyReservation_Applied() {
	product := s.createProduct("Widget", 10, "100.00")

	result, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(1, product.ID, 4))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationApplied, result)
	s.Require().Equal(int64(6), s.availableQuantity(product.ID))

	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM reservations WHERE order_id = 1 AND result = 'Applied'`))
	s.Require().Equal(int64(1), s.countRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = '1' AND topic = $1 AND message_key = '1'`,
		domain.ReservationOutcomesTopic,
	))
}

func (s *IntegrationTestSuite) TestApplyReservation_InsufficientStockLeavesLedgerUntouched() {
	product := s.createProduct("Widget", 5, "10.00")

	result, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(2, product.ID, 8))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationInsufficientStock, result)
	s.Require().Equal(int64(5), s.availableQuantity(product.ID))
}

func (s *IntegrationTestSuite) TestApplyReservation_UnknownProduct() {
	result, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(3, 4242, 1))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationProductNotFound, result)
}

func (s *IntegrationTestSuite) TestApplyReservation_DeletedProductIsNotFound() {
	product := s.createProduct("Retired", 10, "1.00")
	s.Require().NoError(s.LedgerService.Delete(s.Ctx, product.ID))

	result, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(4, product.ID, 1))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationProductNotFound, result)
}

func (s *IntegrationTestSuite) TestApplyReservation_InvalidCommand() {
	_, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(5, 1, 0))
	s.Require().ErrorIs(err, domain.ErrPoisonMessage)
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM reservations`))
}

// Redelivered command for an already applied order.
func (s *IntegrationTestSuite) TestApplyReservation_RedeliveryDoesNotDecrementTwice() {
	product := s.createProduct("Widget", 10, "100.00")

	first, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(7, product.ID, 4))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationApplied, first)

	second, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(7, product.ID, 4))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationApplied, second)

	s.Require().Equal(int64(6), s.availableQuantity(product.ID))
	s.Require().Equal(int64(1), s.countRows(`SELECT COUNT(*) FROM reservations WHERE order_id = 7`))
	// every delivery re-emits the outcome so a lost callback can be replayed
	s.Require().Equal(int64(2), s.countRows(`SELECT COUNT(*) FROM outbox WHERE aggregate_id = '7'`))
}

func (s *IntegrationTestSuite) TestApplyReservation_RedeliveryOfRejectionStaysRejected() {
	product := s.createProduct("Widget", 3, "100.00")

	first, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(8, product.ID, 5))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationInsufficientStock, first)

	_, err = s.LedgerService.Restock(s.Ctx, product.ID, 10)
	s.Require().NoError(err)

	second, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(8, product.ID, 5))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationInsufficientStock, second)
	s.Require().Equal(int64(13), s.availableQuantity(product.ID))
}

func (s *IntegrationTestSuite) TestApplyReservation_ConcurrentDuplicatesApplyOnce() {
	product := s.createProduct("Widget", 10, "100.00")

	const deliveries = 8
	results := make([]domain.ReservationResult, deliveries)
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.LedgerService.ApplyReservation(s.Ctx, cmd(9, product.ID, 3))
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		s.Require().NoError(errs[i])
		s.Require().Equal(domain.ReservationApplied, results[i])
	}
	s.Require().Equal(int64(7), s.availableQuantity(product.ID))
}

// Two orders race for the last 5 units: exactly one wins.
func (s *IntegrationTestSuite) TestApplyReservation_RaceForLastUnits() {
	product := s.createProduct("Widget", 5, "100.00")

	var wg sync.WaitGroup
	results := make([]domain.ReservationResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.LedgerService.ApplyReservation(s.Ctx, cmd(int64(100+i), product.ID, 5))
		}(i)
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.Require().ElementsMatch(
		[]domain.ReservationResult{domain.ReservationApplied, domain.ReservationInsufficientStock},
		results,
	)
	s.Require().Equal(int64(0), s.availableQuantity(product.ID))
}

func (s *IntegrationTestSuite) TestApplyReservation_StockNeverGoesNegative() {
	product := s.createProduct("Widget", 10, "100.00")

	const orders = 20
	var wg sync.WaitGroup
	results := make(chan domain.ReservationResult, orders)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			result, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(orderID, product.ID, 3))
			if err == nil {
				results <- result
			}
		}(int64(1000 + i))
	}
	wg.Wait()
	close(results)

	applied := 0
	for result := range results {
		if result == domain.ReservationApplied {
			applied++
		}
	}

	s.Require().Equal(3, applied)
	s.Require().Equal(int64(1), s.availableQuantity(product.ID))
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM products WHERE available_quantity < 0`))
}

// Two orders of 8 against 10 units both pass the advisory check; the first applied wins.
func (s *IntegrationTestSuite) TestScenario_StaleAdvisoryReadResolvedByLedger() {
	product := s.createProduct("Widget", 10, "100.00")

	availability, err := s.LedgerService.GetAvailability(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().True(availability.Covers(8))

	a, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(201, product.ID, 8))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationApplied, a)
	s.Require().Equal(int64(2), s.availableQuantity(product.ID))

	b, err := s.LedgerService.ApplyReservation(s.Ctx, cmd(202, product.ID, 8))
	s.Require().NoError(err)
	s.Require().Equal(domain.ReservationInsufficientStock, b)
	s.Require().Equal(int64(2), s.availableQuantity(product.ID))
}
