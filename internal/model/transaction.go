package model

import (
	"fmt"
	"strings"
)

type VendorStatus string

const (
	VendorAuthorized     VendorStatus = "authorized"
	VendorPendingReview  VendorStatus = "pending_review"
	VendorProcessing     VendorStatus = "processing"
	VendorPaid           VendorStatus = "paid"
	VendorWaitingPayment VendorStatus = "waiting_payment"
	VendorRefused        VendorStatus = "refused"
	VendorRefunded       VendorStatus = "refunded"
)

func ParseVendorStatus(s string) (VendorStatus, error) {
	v := VendorStatus(strings.TrimSpace(s))
	switch v {
	case VendorAuthorized, VendorPendingReview, VendorProcessing, VendorPaid,
		VendorWaitingPayment, VendorRefused, VendorRefunded:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVendorStatus, s)
}

// Order metadata keys.
const (
	MetaTransactionID   = "_splits_transaction_id"
	MetaTransactionData = "_splits_transaction_data"

	MetaBoletoURL      = "Banking Ticket URL"
	MetaCreditCard     = "Credit Card"
	MetaInstallments   = "Installments"
	MetaTotalPaid      = "Total paid"
	MetaAntifraudScore = "Anti Fraud Score"
)

// TransactionRecord is the vendor transaction as persisted on the order.
type TransactionRecord struct {
	ID             string        `json:"id"`
	Amount         int64         `json:"amount,omitempty"`
	Installments   int           `json:"installments,omitempty"`
	Status         VendorStatus  `json:"status,omitempty"`
	PaymentMethod  PaymentMethod `json:"payment_method,omitempty"`
	BoletoURL      string        `json:"boleto_url,omitempty"`
	CardBrand      string        `json:"card_brand,omitempty"`
	AntifraudScore string        `json:"antifraud_score,omitempty"`
}

// DisplayMeta returns the human-readable fields shown on the order screen.
func (t TransactionRecord) DisplayMeta() map[string]string {
	meta := map[string]string{}
	if t.PaymentMethod == BankingTicket {
		if t.BoletoURL != "" {
			meta[MetaBoletoURL] = t.BoletoURL
		}
		return meta
	}
	if t.CardBrand != "" {
		meta[MetaCreditCard] = CardBrandName(t.CardBrand)
	}
	if t.Installments > 0 {
		meta[MetaInstallments] = fmt.Sprintf("%d", t.Installments)
	}
	if t.Amount > 0 {
		meta[MetaTotalPaid] = FormatMoney(t.Amount)
	}
	if t.AntifraudScore != "" {
		meta[MetaAntifraudScore] = t.AntifraudScore
	}
	return meta
}

var cardBrandNames = map[string]string{
	"visa":       "Visa",
	"mastercard": "MasterCard",
	"amex":       "American Express",
	"aura":       "Aura",
	"jcb":        "JCB",
	"diners":     "Diners",
	"elo":        "Elo",
	"hipercard":  "Hipercard",
	"discover":   "Discover",
}

func CardBrandName(brand string) string {
	if name, ok := cardBrandNames[strings.ToLower(brand)]; ok {
		return name
	}
	return brand
}
