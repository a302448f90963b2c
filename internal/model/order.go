package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusOnHold     OrderStatus = "on-hold"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusFailed     OrderStatus = "failed"
	StatusRefunded   OrderStatus = "refunded"
	StatusCancelled  OrderStatus = "cancelled"
)

// Rank orders statuses along the payment lifecycle. A notification that
// would move an order to a lower rank is considered stale.
func (s OrderStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusOnHold:
		return 1
	case StatusFailed:
		return 2
	case StatusProcessing:
		return 3
	case StatusCompleted:
		return 4
	case StatusRefunded, StatusCancelled:
		return 5
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// Paid is true once the store considers the order paid for.
func (s OrderStatus) Paid() bool {
	return s == StatusProcessing || s == StatusCompleted
}

type Order struct {
	ID            string
	CustomerID    string
	Total         decimal.Decimal
	Currency      string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanCompletePayment mirrors the statuses from which a payment may be completed.
func (o *Order) CanCompletePayment() bool {
	switch o.Status {
	case StatusPending, StatusOnHold, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (o *Order) AmountMinor() int64 {
	return ToMinorUnits(o.Total)
}

type OrderNote struct {
	OrderID   string
	Note      string
	CreatedAt time.Time
}
