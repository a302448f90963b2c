package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/core"
	"github.com/danielmoisemontezima/splits-payment-service/internal/metrics"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

var (
	ErrCheckoutInvalid = errors.New("checkout data invalid")
	ErrNoTransaction   = errors.New("order has no splits transaction")
)

// Messages shown to the customer.
const (
	msgUnavailable      = "Payment could not be processed right now, please try again."
	msgCardMissing      = "Please fill in the card details."
	msgInstallments     = "Invalid number of installments."
	msgMethodMismatch   = "This order must be paid with a different payment method."
	msgCurrency         = "Splits only accepts payments in BRL."
	msgInProgress       = "A payment for this order is already being processed."
	msgDeclinedFallback = "The payment was declined."

	noteMissingTransaction = "Splits Tecnologia: sale approved without a transaction id. Reconcile this order manually in the Splits portal."
)

type PaymentService struct {
	cfg        config.Config
	registry   *core.ProviderRegistry
	orders     ports.IOrderRepository
	reconciler *Reconciler
	guard      ports.CheckoutGuard
	log        *slog.Logger
}

func NewPaymentService(cfg config.Config, registry *core.ProviderRegistry, orders ports.IOrderRepository,
	reconciler *Reconciler, guard ports.CheckoutGuard, log *slog.Logger) *PaymentService {
	return &PaymentService{
		cfg:        cfg,
		registry:   registry,
		orders:     orders,
		reconciler: reconciler,
		guard:      guard,
		log:        log,
	}
}

func (s *PaymentService) quoteRequest(amount int64) model.QuoteRequest {
	return model.QuoteRequest{
		Amount:              amount,
		MaxInstallments:     s.cfg.CreditCard.MaxInstallment,
		FreeInstallments:    s.cfg.CreditCard.FreeInstallments,
		SmallestInstallment: s.cfg.CreditCard.SmallestInstallmentMinor(),
	}
}

// QuoteInstallments returns the installment options for amount. An empty
// result means the quote is unavailable, not that no option is valid.
func (s *PaymentService) QuoteInstallments(ctx context.Context, method model.PaymentMethod, amount decimal.Decimal) ([]model.InstallmentQuote, error) {
	minor := model.ToMinorUnits(amount)
	if minor <= 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidAmount, amount)
	}

	processor, err := s.registry.Get(method)
	if err != nil {
		return nil, err
	}

	if method == model.BankingTicket {
		return model.ComputeInstallments(minor, 1, 0), nil
	}

	quotes, err := processor.QuoteInstallments(ctx, s.quoteRequest(minor))
	if errors.Is(err, model.ErrInvalidQuoteRequest) {
		return nil, err
	}
	if err != nil {
		s.log.Warn("installment quote unavailable", "amount", minor, "err", err)
		return []model.InstallmentQuote{}, nil
	}
	return quotes, nil
}

// ProcessPayment charges the order through Splits. Business failures come
// back as a fail result; errors are reserved for lookups and storage.
func (s *PaymentService) ProcessPayment(ctx context.Context, method model.PaymentMethod, req model.CheckoutRequest) (*model.ProcessPaymentResult, error) {
	processor, err := s.registry.Get(method)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("order_id", order.ID, "payment_method", string(method))

	if order.PaymentMethod != "" && order.PaymentMethod != method {
		return s.fail(method, msgMethodMismatch), nil
	}
	if order.Currency != "" && !strings.EqualFold(order.Currency, s.cfg.Store.Currency) {
		return s.fail(method, msgCurrency), nil
	}
	if order.Status.Paid() {
		log.Info("order already paid, not charging again")
		return s.success(order, method), nil
	}

	installments := req.Installments
	if method == model.BankingTicket || installments == 0 {
		installments = 1
	}
	if installments < 1 || installments > s.cfg.CreditCard.MaxInstallment {
		return s.fail(method, msgInstallments), nil
	}
	if method.RequiresCardToken() && req.CardHash == "" {
		return s.fail(method, msgCardMissing), nil
	}

	acquired, err := s.guard.Acquire(ctx, order.ID)
	if err != nil {
		log.Error("checkout guard unavailable, continuing without it", "err", err)
		acquired = true
	}
	if !acquired {
		log.Warn("duplicate checkout submission rejected")
		return s.fail(method, msgInProgress), nil
	}

	amount := order.AmountMinor()
	// Not idempotent: a resubmitted checkout charges again.
	sale, err := processor.CreateSale(ctx, model.SaleRequest{
		Amount:       amount,
		CardToken:    req.CardHash,
		Installments: installments,
	})
	if err != nil {
		s.release(ctx, log, order.ID)
		log.Error("sale request failed", "amount", amount, "err", err)
		if errors.Is(err, ports.ErrCardTokenRequired) {
			return s.fail(method, msgCardMissing), nil
		}
		return s.fail(method, msgUnavailable), nil
	}
	if !sale.Approved() {
		s.release(ctx, log, order.ID)
		log.Info("sale declined", "status_code", sale.StatusCode, "message", sale.Message)
		msg := sale.Message
		if msg == "" {
			msg = msgDeclinedFallback
		}
		return s.fail(method, msg), nil
	}

	if sale.TransactionID == "" {
		// The customer has been charged but notifications cannot be matched to the order.
		log.Error("sale approved without transaction id, order flagged for manual reconciliation",
			"amount", amount, "status_code", sale.StatusCode)
		if err := s.orders.UpdateStatus(ctx, order.ID, model.StatusOnHold, noteMissingTransaction); err != nil {
			log.Error("failed to flag order for manual reconciliation", "err", err)
			return nil, err
		}
		metrics.Checkouts.WithLabelValues(string(method), model.ResultSuccess).Inc()
		return s.success(order, method), nil
	}

	status := model.VendorPaid
	if method == model.BankingTicket {
		status = model.VendorWaitingPayment
	}
	rec := model.TransactionRecord{
		ID:            sale.TransactionID,
		Amount:        amount,
		Installments:  installments,
		Status:        status,
		PaymentMethod: method,
	}
	if err := s.orders.SaveTransaction(ctx, order.ID, rec); err != nil {
		// The customer has been charged; keep going so the order reflects it.
		log.Error("sale approved but transaction data not saved, reconcile manually",
			"transaction_id", sale.TransactionID, "err", err)
	}

	if _, err := s.reconciler.ApplyStatus(ctx, order, sale.TransactionID, status, model.SourceCheckout); err != nil {
		log.Error("sale approved but order status not updated", "transaction_id", sale.TransactionID, "err", err)
		return nil, err
	}

	metrics.Checkouts.WithLabelValues(string(method), model.ResultSuccess).Inc()
	return s.success(order, method), nil
}

func (s *PaymentService) success(order *model.Order, method model.PaymentMethod) *model.ProcessPaymentResult {
	return &model.ProcessPaymentResult{
		Result:      model.ResultSuccess,
		RedirectURL: s.cfg.Store.ReturnURLFor(order.ID),
		ClearCart:   true,
		Async:       method == model.BankingTicket && s.cfg.BankingTicket.Async,
	}
}

func (s *PaymentService) fail(method model.PaymentMethod, message string) *model.ProcessPaymentResult {
	metrics.Checkouts.WithLabelValues(string(method), model.ResultFail).Inc()
	return model.Failed(message)
}

func (s *PaymentService) release(ctx context.Context, log *slog.Logger, orderID string) {
	if err := s.guard.Release(ctx, orderID); err != nil {
		log.Error("failed to release checkout guard", "err", err)
	}
}

// VerifyCheckout checks a vendor transaction created on the order pay page
// against the order and the installment policy.
func (s *PaymentService) VerifyCheckout(ctx context.Context, method model.PaymentMethod, orderID, token string) (*model.CheckoutData, error) {
	processor, err := s.registry.Get(method)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("order_id", order.ID, "token", token)

	tx, err := processor.FetchTransaction(ctx, token)
	if err != nil {
		log.Warn("invalid transaction data", "err", err)
		return nil, fmt.Errorf("%w: invalid transaction data: %v", ErrCheckoutInvalid, err)
	}

	amount := order.AmountMinor()
	quotes, err := processor.QuoteInstallments(ctx, s.quoteRequest(amount))
	if err != nil {
		log.Warn("installment quote unavailable, using local policy", "err", err)
		quotes = model.ComputeInstallments(amount, s.cfg.CreditCard.MaxInstallment, s.cfg.CreditCard.SmallestInstallmentMinor())
	}

	count := tx.Installments
	if count < 1 {
		count = 1
	}
	installment, ok := model.FindInstallment(quotes, count)
	if count > s.cfg.CreditCard.MaxInstallment || !ok {
		log.Warn("payment made with more installments than allowed")
		return nil, fmt.Errorf("%w: payment made with more installments than allowed", ErrCheckoutInvalid)
	}
	if count != 1 && installment.PerInstallment < s.cfg.CreditCard.SmallestInstallmentMinor() {
		log.Warn("payment divided into a lower amount than permitted")
		return nil, fmt.Errorf("%w: payment divided into a lower amount than permitted", ErrCheckoutInvalid)
	}
	if tx.Amount != installment.Total {
		log.Warn("wrong payment amount total", "transaction_amount", tx.Amount, "expected", installment.Total)
		return nil, fmt.Errorf("%w: wrong payment amount total", ErrCheckoutInvalid)
	}

	return &model.CheckoutData{
		OrderID:     order.ID,
		Amount:      tx.Amount,
		Total:       order.Total,
		Installment: installment,
	}, nil
}

// Refund asks Splits to refund the order's transaction. The order itself
// changes when the refunded notification arrives.
func (s *PaymentService) Refund(ctx context.Context, orderID string) (*model.RefundResponse, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	processor, err := s.registry.Get(order.PaymentMethod)
	if err != nil {
		return nil, err
	}

	rec, err := s.orders.GetTransaction(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ID == "" {
		return nil, ErrNoTransaction
	}

	log := s.log.With("order_id", order.ID, "transaction_id", rec.ID)
	log.Info("cancelling transaction")

	// Repeated refunds are forwarded as-is.
	res, err := processor.CancelOrRefund(ctx, rec.ID)
	if err != nil {
		log.Error("refund failed", "err", err)
		return nil, err
	}
	if err := s.orders.AddNote(ctx, order.ID, "Splits Tecnologia: refund requested."); err != nil {
		log.Error("failed to add refund note", "err", err)
	}
	return res, nil
}
