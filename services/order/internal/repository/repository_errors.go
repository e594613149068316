package repository

import (
	"fmt"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
)

var ErrOrderNotFound = fmt.Errorf("order %w", pkgdomain.ErrNotFound)
