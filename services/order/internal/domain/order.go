package domain

import (
	"fmt"
	"time"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusRejected  OrderStatus = "Rejected"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

const (
	ReasonProductUnknown    = "product unknown"
	ReasonInsufficientStock = "insufficient stock"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s may be set from outside the intake flow.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && s != OrderStatusPending
}

type Order struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"productId"`
	Quantity          int64           `json:"quantity"`
	CustomerName      string          `json:"customerName"`
	CustomerEmail     string          `json:"customerEmail"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
	Status            OrderStatus     `json:"status"`
	StatusReason      string          `json:"statusReason,omitempty"`
	ReconcileAttempts int             `json:"-"`
	LastReconciledAt  *time.Time      `json:"-"`
	StuckAlertedAt    *time.Time      `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MaxTotalPrice is the largest value orders.total_price NUMERIC(14,2) can hold.
var MaxTotalPrice = decimal.RequireFromString("999999999999.99")

// CalculateTotal fixes TotalPrice from the observed unit price. It is called once, at creation.
func (o *Order) CalculateTotal() error {
	total := o.UnitPrice.Mul(decimal.NewFromInt(o.Quantity))
	if total.GreaterThan(MaxTotalPrice) {
		return fmt.Errorf("%w: total price %s exceeds %s", pkgdomain.ErrValidation, total.StringFixed(2), MaxTotalPrice.StringFixed(2))
	}

	o.TotalPrice = total

	return nil
}

func (o *Order) ReservationCommand() pkgdomain.ReservationCommand {
	return pkgdomain.ReservationCommand{
		OrderID:   o.ID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
	}
}

// Notification builds the customer-facing event for a terminal status.
func (o *Order) Notification() (string, pkgdomain.OrderStatusNotification) {
	event := pkgdomain.OrderCancelledEvent
	switch o.Status {
	case OrderStatusConfirmed:
		event = pkgdomain.OrderConfirmedEvent
	case OrderStatusRejected:
		event = pkgdomain.OrderRejectedEvent
	}

	return event, pkgdomain.OrderStatusNotification{
		OrderID:       o.ID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		Status:        string(o.Status),
		Reason:        o.StatusReason,
		TotalPrice:    o.TotalPrice,
	}
}

// StatusForResult maps a ledger decision to the order's terminal status and reason.
func StatusForResult(result pkgdomain.ReservationResult) (OrderStatus, string) {
	switch result {
	case pkgdomain.ReservationApplied:
		return OrderStatusConfirmed, ""
	case pkgdomain.ReservationInsufficientStock:
		return OrderStatusRejected, ReasonInsufficientStock
	default:
		return OrderStatusRejected, ReasonProductUnknown
	}
}

type CreateOrderInput struct {
	ProductID     int64
	Quantity      int64
	CustomerName  string
	CustomerEmail string
}

// Availability is the advisory answer of the inventory service. It is a hint, not a lock.
type Availability struct {
	ProductID         int64           `json:"productId"`
	ProductName       string          `json:"productName"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int64           `json:"availableQuantity"`
}

// RejectionError is a definitive refusal at intake. Nothing is persisted for it.
type RejectionError struct {
	Reason string
	Err    error
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}
