package repository

import (
	"fmt"

	"github.com/sakashimaa/stock-reservation/pkg/domain"
)

var ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)
var ErrInsufficientStock = fmt.Errorf("product %w", domain.ErrInsufficientStock)
var ErrReservationNotFound = fmt.Errorf("reservation %w", domain.ErrNotFound)
