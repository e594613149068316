package tests

import (
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) createProduct(name string, quantity int64, price string) *domain.Product {
	product, err := s.LedgerService.Create(s.Ctx, &domain.Product{
		Name:              name,
		Description:       "integration fixture",
		Price:             decimal.RequireFromString(price),
		AvailableQuantity: quantity,
	})
	s.Require().NoError(err)
	s.Require().NotZero(product.ID)

	return product
}

func (s *IntegrationTestSuite) availableQuantity(productID int64) int64 {
	product, err := s.LedgerService.FindByID(s.Ctx, productID)
	s.Require().NoError(err)

	return product.AvailableQuantity
}
