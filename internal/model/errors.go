package model

import "errors"

var (
	ErrUnknownVendorStatus  = errors.New("unknown vendor status")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrInvalidQuoteRequest  = errors.New("invalid installment quote request")
	ErrInvalidAmount        = errors.New("invalid amount")
)
