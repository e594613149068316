package domain

import (
	"errors"
	"fmt"

	pkgdomain "github.com/sakashimaa/stock-reservation/pkg/domain"
)

const (
	StatusConfirmed = "Confirmed"
	StatusRejected  = "Rejected"
	StatusCancelled = "Cancelled"
)

// DedupKey identifies one customer email per order and terminal status.
func DedupKey(n pkgdomain.OrderStatusNotification) string {
	return fmt.Sprintf("order-status:%d:%s", n.OrderID, n.Status)
}

func Supported(status string) bool {
	switch status {
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrUndeliverable marks a permanent delivery failure, such as a rejected mailbox.
var ErrUndeliverable = errors.New("notification undeliverable")
