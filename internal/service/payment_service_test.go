package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielmoisemontezima/splits-payment-service/internal/core"
	"github.com/danielmoisemontezima/splits-payment-service/internal/logging"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
	"github.com/danielmoisemontezima/splits-payment-service/internal/testutil"
)

type serviceFixture struct {
	*reconcilerFixture
	card   *testutil.Processor
	ticket *testutil.Processor
	guard  *testutil.Guard
	svc    *PaymentService
}

func newServiceFixture(t *testing.T, orders ...*model.Order) *serviceFixture {
	t.Helper()
	rf := newReconcilerFixture(t, orders...)
	f := &serviceFixture{
		reconcilerFixture: rf,
		card:              &testutil.Processor{PaymentMethod: model.CreditCard},
		ticket:            &testutil.Processor{PaymentMethod: model.BankingTicket},
		guard:             &testutil.Guard{},
	}
	registry := core.NewProviderRegistry()
	registry.Register(f.card)
	registry.Register(f.ticket)
	f.svc = NewPaymentService(rf.cfg, registry, rf.store, rf.r, f.guard, logging.Discard())
	return f
}

func TestEndToEnd_CheckoutThenDuplicatePaidNotification(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.card.SaleFunc = func(_ context.Context, req model.SaleRequest) (*model.SaleResponse, error) {
		assert.Equal(t, int64(15000), req.Amount)
		assert.Equal(t, "card_abc", req.CardToken)
		return &model.SaleResponse{StatusCode: 200, TransactionID: "42"}, nil
	}

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID:      "1001",
		CardHash:     "card_abc",
		Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, res.Result)
	assert.Equal(t, "/checkout/order-received/1001", res.RedirectURL)
	assert.True(t, res.ClearCart)
	assert.Equal(t, model.StatusProcessing, f.store.Status("1001"))

	// Splits confirms the payment twice.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.r.HandleNotification(context.Background(), notification("42", "paid")))
	}

	assert.Equal(t, model.StatusProcessing, f.store.Status("1001"))
	assert.Len(t, f.store.Notes("1001"), 1)
	assert.Equal(t, 1, f.publisher.Count())
	assert.Equal(t, 1, f.card.SaleCount())
	assert.Equal(t, "42", f.store.Meta("1001", model.MetaTransactionID))
	assert.Equal(t, "150.00", f.store.Meta("1001", model.MetaTotalPaid))
}

func TestProcessPayment_Declined(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.card.SaleFunc = func(context.Context, model.SaleRequest) (*model.SaleResponse, error) {
		return &model.SaleResponse{StatusCode: 402, Message: "Cartão recusado"}, nil
	}

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultFail, res.Result)
	assert.Equal(t, "Cartão recusado", res.Message)
	assert.Equal(t, model.StatusPending, f.store.Status("1001"))
	assert.False(t, f.guard.Held("1001"), "guard released so the customer can retry")
}

func TestProcessPayment_ApprovedWithoutTransactionIDNeedsManualReconciliation(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.card.SaleFunc = func(context.Context, model.SaleRequest) (*model.SaleResponse, error) {
		return &model.SaleResponse{StatusCode: 200}, nil
	}

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, res.Result, "the customer has been charged")
	assert.Equal(t, model.StatusOnHold, f.store.Status("1001"))
	notes := f.store.Notes("1001")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "manually")
	assert.Empty(t, f.store.Meta("1001", model.MetaTransactionID))
	assert.Empty(t, f.store.Data("1001"))
	assert.Zero(t, f.publisher.Count())

	// A notification with an empty id must not match the order.
	require.NoError(t, f.r.HandleNotification(context.Background(), notification("", "paid")))
	assert.Equal(t, model.StatusOnHold, f.store.Status("1001"))
}

func TestProcessPayment_TransportFailure(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.card.SaleFunc = func(context.Context, model.SaleRequest) (*model.SaleResponse, error) {
		return nil, ports.ErrTransport
	}

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultFail, res.Result)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, model.StatusPending, f.store.Status("1001"))
}

func TestProcessPayment_Rejections(t *testing.T) {
	foreign := testutil.NewOrder("3003", "10.00", model.CreditCard)
	foreign.Currency = "USD"

	tests := []struct {
		name   string
		method model.PaymentMethod
		req    model.CheckoutRequest
	}{
		{"missing card hash", model.CreditCard, model.CheckoutRequest{OrderID: "1001", Installments: 1}},
		{"too many installments", model.CreditCard, model.CheckoutRequest{OrderID: "1001", CardHash: "c", Installments: 13}},
		{"negative installments", model.CreditCard, model.CheckoutRequest{OrderID: "1001", CardHash: "c", Installments: -1}},
		{"method mismatch", model.BankingTicket, model.CheckoutRequest{OrderID: "1001"}},
		{"foreign currency", model.CreditCard, model.CheckoutRequest{OrderID: "3003", CardHash: "c", Installments: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard), foreign)

			res, err := f.svc.ProcessPayment(context.Background(), tt.method, tt.req)
			require.NoError(t, err)
			assert.Equal(t, model.ResultFail, res.Result)
			assert.Zero(t, f.card.SaleCount()+f.ticket.SaleCount())
		})
	}
}

func TestProcessPayment_AlreadyPaidDoesNotChargeAgain(t *testing.T) {
	order := testutil.NewOrder("1001", "150.00", model.CreditCard)
	order.Status = model.StatusProcessing
	f := newServiceFixture(t, order)

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, res.Result)
	assert.Zero(t, f.card.SaleCount())
}

func TestProcessPayment_ConcurrentSubmissionRejected(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	ok, err := f.guard.Acquire(context.Background(), "1001")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultFail, res.Result)
	assert.Zero(t, f.card.SaleCount())
}

func TestProcessPayment_GuardUnavailableFailsOpen(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.guard.Err = errors.New("redis down")

	res, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{
		OrderID: "1001", CardHash: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ResultSuccess, res.Result)
	assert.Equal(t, 1, f.card.SaleCount())
}

func TestProcessPayment_BankingTicketAwaitsPayment(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("2002", "99.90", model.BankingTicket))
	f.svc.cfg.BankingTicket.Async = true
	f.ticket.SaleFunc = func(_ context.Context, req model.SaleRequest) (*model.SaleResponse, error) {
		assert.Equal(t, int64(9990), req.Amount)
		assert.Equal(t, 1, req.Installments)
		assert.Empty(t, req.CardToken)
		return &model.SaleResponse{StatusCode: 200, TransactionID: "77"}, nil
	}

	res, err := f.svc.ProcessPayment(context.Background(), model.BankingTicket, model.CheckoutRequest{OrderID: "2002", Installments: 5})
	require.NoError(t, err)

	assert.Equal(t, model.ResultSuccess, res.Result)
	assert.True(t, res.Async)
	assert.Equal(t, model.StatusOnHold, f.store.Status("2002"))
	assert.Equal(t, "waiting_payment", f.store.Data("2002")["status"])
}

func TestProcessPayment_UnknownOrder(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.ProcessPayment(context.Background(), model.CreditCard, model.CheckoutRequest{OrderID: "404", CardHash: "c"})
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestQuoteInstallments(t *testing.T) {
	f := newServiceFixture(t)

	quotes, err := f.svc.QuoteInstallments(context.Background(), model.CreditCard, decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, int64(1000), quotes[0].Total)

	quotes, err = f.svc.QuoteInstallments(context.Background(), model.BankingTicket, decimal.RequireFromString("10.00"))
	require.NoError(t, err)
	assert.Equal(t, []model.InstallmentQuote{{Count: 1, PerInstallment: 1000, Total: 1000}}, quotes)
}

func TestQuoteInstallments_VendorFailureYieldsEmptyList(t *testing.T) {
	f := newServiceFixture(t)
	f.card.QuoteFunc = func(context.Context, model.QuoteRequest) ([]model.InstallmentQuote, error) {
		return nil, ports.ErrTransport
	}

	quotes, err := f.svc.QuoteInstallments(context.Background(), model.CreditCard, decimal.RequireFromString("150.00"))
	require.NoError(t, err)
	assert.NotNil(t, quotes)
	assert.Empty(t, quotes)
}

func TestQuoteInstallments_InvalidAmount(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.QuoteInstallments(context.Background(), model.CreditCard, decimal.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
}

func TestVerifyCheckout(t *testing.T) {
	tests := []struct {
		name    string
		tx      model.TransactionRecord
		quotes  []model.InstallmentQuote
		wantErr bool
	}{
		{"valid single installment", model.TransactionRecord{ID: "42", Amount: 15000, Installments: 1}, nil, false},
		{"valid three installments", model.TransactionRecord{ID: "42", Amount: 15000, Installments: 3}, nil, false},
		{"too many installments", model.TransactionRecord{ID: "42", Amount: 15000, Installments: 13}, nil, true},
		{"installment below smallest", model.TransactionRecord{ID: "42", Amount: 15000, Installments: 2},
			[]model.InstallmentQuote{{Count: 1, PerInstallment: 15000, Total: 15000}, {Count: 2, PerInstallment: 400, Total: 15000}}, true},
		{"installments not quoted", model.TransactionRecord{ID: "42", Amount: 15000, Installments: 2},
			[]model.InstallmentQuote{{Count: 1, PerInstallment: 15000, Total: 15000}}, true},
		{"amount mismatch", model.TransactionRecord{ID: "42", Amount: 14999, Installments: 1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
			f.card.FetchFunc = func(_ context.Context, token string) (*model.TransactionRecord, error) {
				assert.Equal(t, "tok_1", token)
				rec := tt.tx
				return &rec, nil
			}
			if tt.quotes != nil {
				f.card.QuoteFunc = func(context.Context, model.QuoteRequest) ([]model.InstallmentQuote, error) {
					return tt.quotes, nil
				}
			}

			data, err := f.svc.VerifyCheckout(context.Background(), model.CreditCard, "1001", "tok_1")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCheckoutInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1001", data.OrderID)
			assert.Equal(t, int64(15000), data.Amount)
			assert.Equal(t, tt.tx.Installments, data.Installment.Count)
		})
	}
}

func TestVerifyCheckout_FetchFailure(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))

	_, err := f.svc.VerifyCheckout(context.Background(), model.CreditCard, "1001", "tok_1")
	assert.ErrorIs(t, err, ErrCheckoutInvalid)
}

func TestRefund(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))
	f.withTransaction(t, "1001", "42", model.CreditCard)

	var refunded []string
	f.card.RefundFunc = func(_ context.Context, token string) (*model.RefundResponse, error) {
		refunded = append(refunded, token)
		return &model.RefundResponse{TransactionID: token, Status: "refunded"}, nil
	}

	res, err := f.svc.Refund(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "refunded", res.Status)
	assert.Equal(t, []string{"42"}, refunded)
	// The order moves when Splits notifies the refund.
	assert.Equal(t, model.StatusPending, f.store.Status("1001"))
}

func TestRefund_WithoutTransaction(t *testing.T) {
	f := newServiceFixture(t, testutil.NewOrder("1001", "150.00", model.CreditCard))

	_, err := f.svc.Refund(context.Background(), "1001")
	assert.ErrorIs(t, err, ErrNoTransaction)
}
