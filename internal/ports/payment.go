package ports

import (
	"context"
	"errors"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
)

var (
	ErrTransport          = errors.New("splits transport failure")
	ErrMalformedResponse  = errors.New("malformed splits response")
	ErrVendorRejected     = errors.New("splits rejected the request")
	ErrInvalidFingerprint = errors.New("invalid notification fingerprint")
	ErrCardTokenRequired  = errors.New("card token required")
	ErrInvalidSale        = errors.New("invalid sale request")
)

// IPaymentProcessor is the set of Splits operations available to one payment method.
type IPaymentProcessor interface {
	Method() model.PaymentMethod
	QuoteInstallments(ctx context.Context, req model.QuoteRequest) ([]model.InstallmentQuote, error)
	CreateSale(ctx context.Context, req model.SaleRequest) (*model.SaleResponse, error)
	FetchTransaction(ctx context.Context, token string) (*model.TransactionRecord, error)
	CancelOrRefund(ctx context.Context, token string) (*model.RefundResponse, error)
}

// INotificationVerifier authenticates an inbound notification.
type INotificationVerifier interface {
	Verify(n model.Notification) error
}
