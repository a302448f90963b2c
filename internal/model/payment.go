package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentMethod selects which Splits capability serves an order.
type PaymentMethod string

const (
	CreditCard    PaymentMethod = "splits-credit-card"
	BankingTicket PaymentMethod = "splits-banking-ticket"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case CreditCard, BankingTicket:
		return PaymentMethod(s), nil
	case "credit-card", "card":
		return CreditCard, nil
	case "banking-ticket", "boleto":
		return BankingTicket, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s)
}

// RequiresCardToken reports whether a sale for this method must carry a card hash.
func (m PaymentMethod) RequiresCardToken() bool {
	return m == CreditCard
}

type QuoteRequest struct {
	Amount              int64
	MaxInstallments     int
	FreeInstallments    int
	SmallestInstallment int64
}

func (q QuoteRequest) Validate() error {
	if q.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidQuoteRequest)
	}
	if q.MaxInstallments < 1 || q.MaxInstallments > MaxInstallments {
		return fmt.Errorf("%w: max installments must be within 1..%d", ErrInvalidQuoteRequest, MaxInstallments)
	}
	return nil
}

type InstallmentQuote struct {
	Count          int   `json:"installment_count"`
	PerInstallment int64 `json:"per_installment_amount"`
	Total          int64 `json:"total_amount"`
}

type SaleRequest struct {
	Amount       int64
	CardToken    string
	Installments int
}

type SaleResponse struct {
	StatusCode    int    `json:"status_code"`
	Message       string `json:"message"`
	TransactionID string `json:"vendor_transaction_id"`
}

// Approved is true only for the vendor's 200 business status.
func (r SaleResponse) Approved() bool {
	return r.StatusCode == 200
}

type RefundResponse struct {
	TransactionID string         `json:"transaction_id"`
	Status        string         `json:"status"`
	Raw           map[string]any `json:"raw"`
}

type CheckoutRequest struct {
	OrderID      string `json:"order_id"`
	CardHash     string `json:"card_hash"`
	Installments int    `json:"installments"`
}

const (
	ResultSuccess = "success"
	ResultFail    = "fail"
)

type ProcessPaymentResult struct {
	Result      string `json:"result"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
	ClearCart   bool   `json:"clear_cart,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

func Failed(message string) *ProcessPaymentResult {
	return &ProcessPaymentResult{Result: ResultFail, Message: message}
}

// CheckoutData is the verified view of a vendor transaction on the order pay page.
type CheckoutData struct {
	OrderID     string           `json:"order_id"`
	Amount      int64            `json:"amount"`
	Total       decimal.Decimal  `json:"total"`
	Installment InstallmentQuote `json:"installment"`
}
