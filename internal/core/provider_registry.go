package core

import (
	"fmt"
	"sort"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

// ProviderRegistry selects the Splits capability serving a payment method.
// It is filled at startup and read-only afterwards.
type ProviderRegistry struct {
	processors map[model.PaymentMethod]ports.IPaymentProcessor
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		processors: make(map[model.PaymentMethod]ports.IPaymentProcessor),
	}
}

func (r *ProviderRegistry) Register(processor ports.IPaymentProcessor) {
	r.processors[processor.Method()] = processor
}

func (r *ProviderRegistry) Get(method model.PaymentMethod) (ports.IPaymentProcessor, error) {
	if p, exists := r.processors[method]; exists {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s not configured", model.ErrUnknownPaymentMethod, method)
}

func (r *ProviderRegistry) Methods() []model.PaymentMethod {
	methods := make([]model.PaymentMethod, 0, len(r.processors))
	for m := range r.processors {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}
