package ports

import (
	"context"
	"errors"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
)

var ErrCheckoutInProgress = errors.New("a payment for this order is already in progress")

type Mailer interface {
	Send(ctx context.Context, to, subject, title, message string) error
}

// CheckoutGuard serialises checkout submissions per order.
type CheckoutGuard interface {
	Acquire(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID string) error
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, ev model.StatusChangedEvent) error
}
