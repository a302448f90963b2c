package ports

import (
	"context"
	"errors"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
)

var ErrOrderNotFound = errors.New("order not found")

// IOrderRepository is the store-owned order and metadata storage. Writes are
// last-write-wins; MergeTransaction only touches the given fields.
type IOrderRepository interface {
	FindByID(ctx context.Context, id string) (*model.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*model.Order, error)
	UpdateStatus(ctx context.Context, id string, status model.OrderStatus, note string) error
	CompletePayment(ctx context.Context, id, note string) error
	AddNote(ctx context.Context, id string, note string) error
	GetTransaction(ctx context.Context, orderID string) (*model.TransactionRecord, error)
	SaveTransaction(ctx context.Context, orderID string, rec model.TransactionRecord) error
	MergeTransaction(ctx context.Context, orderID string, fields map[string]any) error
	SetMeta(ctx context.Context, orderID, key, value string) error
}
