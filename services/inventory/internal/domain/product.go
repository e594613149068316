package domain

import (
	"time"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID                int64           `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	Description       string          `json:"description" db:"description"`
	Price             decimal.Decimal `json:"price" db:"price"`
	AvailableQuantity int64           `json:"availableQuantity" db:"available_quantity"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

func (p *Product) Availability() *Availability {
	return &Availability{
		ProductID:         p.ID,
		Name:              p.Name,
		Price:             p.Price,
		AvailableQuantity: p.AvailableQuantity,
	}
}

// Availability is the advisory view of a product. It may be stale by the time a reservation is applied.
type Availability struct {
	ProductID         int64           `json:"productId"`
	Name              string          `json:"productName"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int64           `json:"availableQuantity"`
}

func (a *Availability) Covers(quantity int64) bool {
	return a.AvailableQuantity >= quantity
}

type UpdateProductInput struct {
	Name              *string          `json:"name"`
	Description       *string          `json:"description"`
	Price             *decimal.Decimal `json:"price"`
	AvailableQuantity *int64           `json:"availableQuantity"`
}

func (in *UpdateProductInput) Empty() bool {
	return in.Name == nil && in.Description == nil && in.Price == nil && in.AvailableQuantity == nil
}

// Reservation is the per-order fence row. Result is empty until the decision is stored.
type Reservation struct {
	OrderID   int64                       `db:"order_id"`
	ProductID int64                       `db:"product_id"`
	Quantity  int64                       `db:"quantity"`
	Result    pkgdomain.ReservationResult `db:"result"`
	CreatedAt time.Time                   `db:"created_at"`
}

func (r *Reservation) Outcome(processedAt time.Time) pkgdomain.ReservationOutcome {
	return pkgdomain.ReservationOutcome{
		OrderID:     r.OrderID,
		ProductID:   r.ProductID,
		Quantity:    r.Quantity,
		Result:      r.Result,
		ProcessedAt: processedAt,
	}
}
