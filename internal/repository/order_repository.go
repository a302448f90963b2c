package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

//go:embed schema.sql
var Schema string

// Combines all needed interfaces
type Queryable interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

type DB interface {
	Queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OrderRepository struct {
	db DB
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: pool}
}

// Migrate applies the embedded schema. It is idempotent.
func (r *OrderRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const orderColumns = `o.id, o.customer_id, o.total::text, o.currency, o.status, o.payment_method, o.paid_at, o.created_at, o.updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		total  string
		status string
		method string
	)
	err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&total,
		&o.Currency,
		&status,
		&method,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrOrderNotFound
		}
		return nil, fmt.Errorf("error scanning order: %w", err)
	}

	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s has an invalid total %q: %w", o.ID, total, err)
	}
	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	return &o, nil
}

func (r *OrderRepository) Create(ctx context.Context, o *model.Order) error {
	status := o.Status
	if status == "" {
		status = model.StatusPending
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO orders (id, customer_id, total, currency, status, payment_method)
        VALUES ($1, $2, $3::numeric, $4, $5, $6)`,
		o.ID, o.CustomerID, o.Total.StringFixed(2), o.Currency, string(status), string(o.PaymentMethod),
	)
	if err != nil {
		return fmt.Errorf("error creating order: %w", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = $1`, id)
	return scanOrder(row)
}

// FindByTransactionID resolves an order through the transaction id index.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (*model.Order, error) {
	if transactionID == "" {
		return nil, ports.ErrOrderNotFound
	}
	row := r.db.QueryRow(ctx, `
        SELECT `+orderColumns+`
        FROM orders o
        JOIN order_meta m ON m.order_id = o.id
        WHERE m.meta_key = $1 AND m.meta_value = to_jsonb($2::text)
        ORDER BY m.updated_at DESC
        LIMIT 1`,
		model.MetaTransactionID, transactionID,
	)
	return scanOrder(row)
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status model.OrderStatus, note string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid order status %q", status)
	}
	return r.WithTransaction(ctx, func(txRepo *OrderRepository) error {
		tag, err := txRepo.db.Exec(ctx, `UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ports.ErrOrderNotFound
		}
		if note == "" {
			return nil
		}
		return txRepo.AddNote(ctx, id, note)
	})
}

// CompletePayment records note and moves an unpaid order to processing in one
// transaction. Paid orders keep their status.
func (r *OrderRepository) CompletePayment(ctx context.Context, id, note string) error {
	return r.WithTransaction(ctx, func(txRepo *OrderRepository) error {
		_, err := txRepo.db.Exec(ctx, `
        UPDATE orders
        SET status = $2, paid_at = COALESCE(paid_at, NOW()), updated_at = NOW()
        WHERE id = $1 AND status = ANY($3)`,
			id, string(model.StatusProcessing),
			[]string{
				string(model.StatusPending),
				string(model.StatusOnHold),
				string(model.StatusFailed),
				string(model.StatusCancelled),
			},
		)
		if err != nil {
			return fmt.Errorf("failed to complete payment: %w", err)
		}
		return txRepo.AddNote(ctx, id, note)
	})
}

func (r *OrderRepository) AddNote(ctx context.Context, id string, note string) error {
	if _, err := r.db.Exec(ctx, `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note); err != nil {
		return fmt.Errorf("failed to add order note: %w", err)
	}
	return nil
}

func (r *OrderRepository) Notes(ctx context.Context, id string) ([]model.OrderNote, error) {
	rows, err := r.db.Query(ctx, `SELECT order_id, note, created_at FROM order_notes WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("error querying order notes: %w", err)
	}
	defer rows.Close()

	var notes []model.OrderNote
	for rows.Next() {
		var n model.OrderNote
		if err := rows.Scan(&n.OrderID, &n.Note, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning order note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return notes, nil
}

func (r *OrderRepository) GetTransaction(ctx context.Context, orderID string) (*model.TransactionRecord, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $2`,
		orderID, model.MetaTransactionData).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting transaction data: %w", err)
	}

	var rec model.TransactionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("error decoding transaction data: %w", err)
	}
	return &rec, nil
}

// SaveTransaction writes the transaction index, the record and its display
// fields in one database transaction.
func (r *OrderRepository) SaveTransaction(ctx context.Context, orderID string, rec model.TransactionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding transaction data: %w", err)
	}

	return r.WithTransaction(ctx, func(txRepo *OrderRepository) error {
		if err := txRepo.upsertMeta(ctx, orderID, model.MetaTransactionID, rec.ID); err != nil {
			return err
		}
		if _, err := txRepo.db.Exec(ctx, `
            INSERT INTO order_meta (order_id, meta_key, meta_value)
            VALUES ($1, $2, $3::jsonb)
            ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = NOW()`,
			orderID, model.MetaTransactionData, string(data)); err != nil {
			return fmt.Errorf("failed to save transaction data: %w", err)
		}
		for key, value := range rec.DisplayMeta() {
			if err := txRepo.upsertMeta(ctx, orderID, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeTransaction merges fields into the stored record without replacing it.
func (r *OrderRepository) MergeTransaction(ctx context.Context, orderID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("error encoding transaction patch: %w", err)
	}
	_, err = r.db.Exec(ctx, `
        INSERT INTO order_meta (order_id, meta_key, meta_value)
        VALUES ($1, $2, $3::jsonb)
        ON CONFLICT (order_id, meta_key)
        DO UPDATE SET meta_value = order_meta.meta_value || EXCLUDED.meta_value, updated_at = NOW()`,
		orderID, model.MetaTransactionData, string(patch))
	if err != nil {
		return fmt.Errorf("failed to merge transaction data: %w", err)
	}
	return nil
}

func (r *OrderRepository) SetMeta(ctx context.Context, orderID, key, value string) error {
	return r.upsertMeta(ctx, orderID, key, value)
}

func (r *OrderRepository) GetMeta(ctx context.Context, orderID, key string) (string, error) {
	var v string
	err := r.db.QueryRow(ctx, `SELECT meta_value #>> '{}' FROM order_meta WHERE order_id = $1 AND meta_key = $2`, orderID, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error getting order meta %s: %w", key, err)
	}
	return v, nil
}

func (r *OrderRepository) upsertMeta(ctx context.Context, orderID, key, value string) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO order_meta (order_id, meta_key, meta_value)
        VALUES ($1, $2, to_jsonb($3::text))
        ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = NOW()`,
		orderID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set order meta %s: %w", key, err)
	}
	return nil
}

func (r *OrderRepository) WithTransaction(ctx context.Context,
	fn func(*OrderRepository) error,
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Create a transaction-scoped repository
	txRepo := &OrderRepository{db: tx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p) // Re-throw panic after cleanup
		}
	}()

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

var _ ports.IOrderRepository = (*OrderRepository)(nil)
