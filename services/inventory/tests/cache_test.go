package tests

import (
	"context"
	"fmt"
	"time"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/service"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) cacheKeyExists(productID int64) bool {
	n, err := s.RedisClient.Exists(s.Ctx, fmt.Sprintf("product:%d", productID)).Result()
	s.Require().NoError(err)

	return n == 1
}

func (s *IntegrationTestSuite) TestCachedLedger_ReadPopulatesCache() {
	product := s.createProduct("Cached", 10, "5.00")
	s.Require().False(s.cacheKeyExists(product.ID))

	availability, err := s.CachedLedgerService.GetAvailability(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().Equal(int64(10), availability.AvailableQuantity)
	s.Require().True(s.cacheKeyExists(product.ID))
}

func (s *IntegrationTestSuite) TestCachedLedger_AppliedReservationInvalidates() {
	product := s.createProduct("Cached", 10, "5.00")

	_, err := s.CachedLedgerService.GetAvailability(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().True(s.cacheKeyExists(product.ID))

	result, err := s.CachedLedgerService.ApplyReservation(s.Ctx, cmd(301, product.ID, 4))
	s.Require().NoError(err)
	s.Require().Equal(pkgdomain.ReservationApplied, result)
	s.Require().False(s.cacheKeyExists(product.ID))

	availability, err := s.CachedLedgerService.GetAvailability(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().Equal(int64(6), availability.AvailableQuantity)
}

func (s *IntegrationTestSuite) TestCachedLedger_RestockAndUpdateInvalidate() {
	product := s.createProduct("Cached", 1, "5.00")

	_, err := s.CachedLedgerService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)

	_, err = s.CachedLedgerService.Restock(s.Ctx, product.ID, 9)
	s.Require().NoError(err)
	s.Require().False(s.cacheKeyExists(product.ID))

	_, err = s.CachedLedgerService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)

	name := "Renamed"
	updated, err := s.CachedLedgerService.Update(s.Ctx, product.ID, &domain.UpdateProductInput{Name: &name})
	s.Require().NoError(err)
	s.Require().Equal("Renamed", updated.Name)
	s.Require().False(s.cacheKeyExists(product.ID))

	fresh, err := s.CachedLedgerService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().Equal("Renamed", fresh.Name)
	s.Require().Equal(int64(10), fresh.AvailableQuantity)
}

func (s *IntegrationTestSuite) TestCachedLedger_DeleteInvalidates() {
	product := s.createProduct("Cached", 1, "5.00")

	_, err := s.CachedLedgerService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.CachedLedgerService.Delete(s.Ctx, product.ID))
	s.Require().False(s.cacheKeyExists(product.ID))

	_, err = s.CachedLedgerService.FindByID(s.Ctx, product.ID)
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)
}

// racingLedger restocks through the cached service while a cache fill is
// between its database read and its cache write.
type racingLedger struct {
	service.LedgerService

	during func()
}

func (r *racingLedger) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := r.LedgerService.FindByID(ctx, id)
	if r.during != nil {
		during := r.during
		r.during = nil
		during()
	}

	return product, err
}

func (s *IntegrationTestSuite) TestCachedLedger_FillRacingInvalidationIsNotServed() {
	product := s.createProduct("Racy", 2, "5.00")

	racing := &racingLedger{LedgerService: s.LedgerService}
	cached := service.NewCachedLedgerService(racing, s.RedisClient, time.Minute, zap.NewNop())
	racing.during = func() {
		_, err := cached.Restock(s.Ctx, product.ID, 8)
		s.Require().NoError(err)
	}

	stale, err := cached.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().Equal(int64(2), stale.AvailableQuantity)
	s.Require().True(s.cacheKeyExists(product.ID), "the racing fill still lands in redis")

	fresh, err := cached.GetAvailability(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), fresh.AvailableQuantity)
}
