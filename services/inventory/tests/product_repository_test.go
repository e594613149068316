package tests

import (
	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCreateProduct_RejectsInvalidInput() {
	_, err := s.LedgerService.Create(s.Ctx, &domain.Product{Name: "Free", Price: decimal.Zero, AvailableQuantity: 1})
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)

	_, err = s.LedgerService.Create(s.Ctx, &domain.Product{
		Name:              "Negative",
		Price:             decimal.RequireFromString("1.00"),
		AvailableQuantity: -1,
	})
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)
	s.Require().Zero(s.countRows(`SELECT COUNT(*) FROM products`))
}

func (s *IntegrationTestSuite) TestFindByID_PreservesPrice() {
	product := s.createProduct("Lamp", 3, "199.99")

	found, err := s.LedgerService.FindByID(s.Ctx, product.ID)
	s.Require().NoError(err)
	s.Require().Equal("Lamp", found.Name)
	s.Require().True(decimal.RequireFromString("199.99").Equal(found.Price))
	s.Require().Equal(int64(3), found.AvailableQuantity)
}

func (s *IntegrationTestSuite) TestFindByID_NotFound() {
	_, err := s.LedgerService.FindByID(s.Ctx, 999)
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)

	_, err = s.LedgerService.GetAvailability(s.Ctx, 999)
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestList_SearchAndPaging() {
	s.createProduct("Red chair", 1, "10.00")
	s.createProduct("Blue chair", 1, "10.00")
	s.createProduct("Table", 1, "50.00")

	chairs, total, err := s.LedgerService.List(s.Ctx, 10, 0, "chair")
	s.Require().NoError(err)
	s.Require().Equal(int64(2), total)
	s.Require().Len(chairs, 2)

	page, total, err := s.LedgerService.List(s.Ctx, 2, 2, "")
	s.Require().NoError(err)
	s.Require().Equal(int64(3), total)
	s.Require().Len(page, 1)
}

func (s *IntegrationTestSuite) TestUpdate_PartialFields() {
	product := s.createProduct("Desk", 4, "80.00")

	price := decimal.RequireFromString("75.50")
	updated, err := s.LedgerService.Update(s.Ctx, product.ID, &domain.UpdateProductInput{Price: &price})
	s.Require().NoError(err)
	s.Require().Equal("Desk", updated.Name)
	s.Require().True(price.Equal(updated.Price))
	s.Require().Equal(int64(4), updated.AvailableQuantity)

	negative := int64(-3)
	_, err = s.LedgerService.Update(s.Ctx, product.ID, &domain.UpdateProductInput{AvailableQuantity: &negative})
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)

	_, err = s.LedgerService.Update(s.Ctx, 999, &domain.UpdateProductInput{Price: &price})
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestRestock() {
	product := s.createProduct("Desk", 4, "80.00")

	restocked, err := s.LedgerService.Restock(s.Ctx, product.ID, 6)
	s.Require().NoError(err)
	s.Require().Equal(int64(10), restocked.AvailableQuantity)

	_, err = s.LedgerService.Restock(s.Ctx, product.ID, 0)
	s.Require().ErrorIs(err, pkgdomain.ErrValidation)

	_, err = s.LedgerService.Restock(s.Ctx, 999, 1)
	s.Require().ErrorIs(err, pkgdomain.ErrNotFound)
}

func (s *IntegrationTestSuite) TestDelete_HidesProduct() {
	product := s.createProduct("Desk", 4, "80.00")

	s.Require().NoError(s.LedgerService.Delete(s.Ctx, product.ID))
	s.Require().ErrorIs(s.LedgerService.Delete(s.Ctx, product.ID), pkgdomain.ErrNotFound)

	_, total, err := s.LedgerService.List(s.Ctx, 10, 0, "")
	s.Require().NoError(err)
	s.Require().Zero(total)
}
