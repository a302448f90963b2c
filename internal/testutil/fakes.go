// Package testutil provides in-memory collaborators shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

const (
	APIKey = "test-api-key"
	Secret = "secret"
	Admin  = "admin@example.com"
)

// Config returns a valid configuration pointing at baseURL.
func Config(baseURL string) config.Config {
	var cfg config.Config
	cfg.App.Name = "splits-payment-service"
	cfg.App.HTTPAddr = ":0"
	cfg.HTTP.RequestTimeout = 5 * time.Second
	cfg.Splits = config.SplitsConfig{
		BaseURL:               baseURL,
		APIKey:                APIKey,
		WebhookSecret:         Secret,
		Timeout:               2 * time.Second,
		PortalURL:             "https://portal.splits.com.br/#/transactions/%s",
		FingerprintAlgorithms: []string{"sha256", "sha1"},
	}
	cfg.CreditCard = config.CreditCardConfig{
		Enabled:             true,
		MaxInstallment:      12,
		SmallestInstallment: "5",
		FreeInstallments:    1,
	}
	cfg.BankingTicket = config.BankingTicketConfig{Enabled: true}
	cfg.Store = config.StoreConfig{
		Currency:   "BRL",
		ReturnURL:  "/checkout/order-received/{order_id}",
		AdminEmail: Admin,
	}
	cfg.Reconciler.MonotonicGuard = true
	return cfg
}

// NewOrder builds a pending BRL order.
func NewOrder(id, total string, method model.PaymentMethod) *model.Order {
	return &model.Order{
		ID:            id,
		Total:         decimal.RequireFromString(total),
		Currency:      "BRL",
		Status:        model.StatusPending,
		PaymentMethod: method,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

// OrderStore is an in-memory ports.IOrderRepository.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]model.Order
	notes  map[string][]string
	meta   map[string]map[string]string
	data   map[string]map[string]any

	// Fail, when set, is returned by every write.
	Fail error
	// FailComplete fails CompletePayment only. Nothing from the call is kept.
	FailComplete error
}

func NewOrderStore(orders ...*model.Order) *OrderStore {
	s := &OrderStore{
		orders: make(map[string]model.Order),
		notes:  make(map[string][]string),
		meta:   make(map[string]map[string]string),
		data:   make(map[string]map[string]any),
	}
	for _, o := range orders {
		s.orders[o.ID] = *o
	}
	return s
}

func (s *OrderStore) FindByID(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	return &o, nil
}

func (s *OrderStore) FindByTransactionID(_ context.Context, transactionID string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if transactionID == "" {
		return nil, ports.ErrOrderNotFound
	}
	for id, meta := range s.meta {
		if meta[model.MetaTransactionID] == transactionID {
			o := s.orders[id]
			return &o, nil
		}
	}
	return nil, ports.ErrOrderNotFound
}

func (s *OrderStore) UpdateStatus(_ context.Context, id string, status model.OrderStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	o, ok := s.orders[id]
	if !ok {
		return ports.ErrOrderNotFound
	}
	o.Status = status
	s.orders[id] = o
	if note != "" {
		s.notes[id] = append(s.notes[id], note)
	}
	return nil
}

func (s *OrderStore) CompletePayment(_ context.Context, id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if s.FailComplete != nil {
		return s.FailComplete
	}
	s.notes[id] = append(s.notes[id], note)
	o, ok := s.orders[id]
	if !ok || !o.CanCompletePayment() {
		return nil
	}
	now := time.Now()
	o.Status = model.StatusProcessing
	o.PaidAt = &now
	s.orders[id] = o
	return nil
}

func (s *OrderStore) AddNote(_ context.Context, id string, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.notes[id] = append(s.notes[id], note)
	return nil
}

func (s *OrderStore) GetTransaction(_ context.Context, orderID string) (*model.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[orderID]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var rec model.TransactionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *OrderStore) SaveTransaction(_ context.Context, orderID string, rec model.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	d := map[string]any{}
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	s.data[orderID] = d
	s.setMeta(orderID, model.MetaTransactionID, rec.ID)
	for k, v := range rec.DisplayMeta() {
		s.setMeta(orderID, k, v)
	}
	return nil
}

func (s *OrderStore) MergeTransaction(_ context.Context, orderID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	d, ok := s.data[orderID]
	if !ok {
		d = map[string]any{}
		s.data[orderID] = d
	}
	for k, v := range fields {
		d[k] = v
	}
	return nil
}

func (s *OrderStore) SetMeta(_ context.Context, orderID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.setMeta(orderID, key, value)
	return nil
}

func (s *OrderStore) setMeta(orderID, key, value string) {
	if s.meta[orderID] == nil {
		s.meta[orderID] = map[string]string{}
	}
	s.meta[orderID][key] = value
}

// Status returns the current status of an order.
func (s *OrderStore) Status(id string) model.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id].Status
}

func (s *OrderStore) Notes(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes[id]...)
}

func (s *OrderStore) Meta(id, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[id][key]
}

// Data returns a copy of the stored transaction document.
func (s *OrderStore) Data(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{}
	for k, v := range s.data[id] {
		out[k] = v
	}
	return out
}

// Processor is a ports.IPaymentProcessor driven by function fields.
type Processor struct {
	PaymentMethod model.PaymentMethod

	QuoteFunc  func(ctx context.Context, req model.QuoteRequest) ([]model.InstallmentQuote, error)
	SaleFunc   func(ctx context.Context, req model.SaleRequest) (*model.SaleResponse, error)
	FetchFunc  func(ctx context.Context, token string) (*model.TransactionRecord, error)
	RefundFunc func(ctx context.Context, token string) (*model.RefundResponse, error)

	mu    sync.Mutex
	Sales []model.SaleRequest
}

func (p *Processor) Method() model.PaymentMethod {
	return p.PaymentMethod
}

func (p *Processor) QuoteInstallments(ctx context.Context, req model.QuoteRequest) ([]model.InstallmentQuote, error) {
	if p.QuoteFunc != nil {
		return p.QuoteFunc(ctx, req)
	}
	return model.ComputeInstallments(req.Amount, req.MaxInstallments, req.SmallestInstallment), nil
}

func (p *Processor) CreateSale(ctx context.Context, req model.SaleRequest) (*model.SaleResponse, error) {
	p.mu.Lock()
	p.Sales = append(p.Sales, req)
	p.mu.Unlock()
	if p.SaleFunc != nil {
		return p.SaleFunc(ctx, req)
	}
	return &model.SaleResponse{StatusCode: 200, TransactionID: "42"}, nil
}

func (p *Processor) FetchTransaction(ctx context.Context, token string) (*model.TransactionRecord, error) {
	if p.FetchFunc != nil {
		return p.FetchFunc(ctx, token)
	}
	return nil, ports.ErrVendorRejected
}

func (p *Processor) CancelOrRefund(ctx context.Context, token string) (*model.RefundResponse, error) {
	if p.RefundFunc != nil {
		return p.RefundFunc(ctx, token)
	}
	return &model.RefundResponse{TransactionID: token, Status: "refunded"}, nil
}

func (p *Processor) SaleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sales)
}

type Email struct {
	To, Subject, Title, Message string
}

// Mailer records every email it is asked to send.
type Mailer struct {
	mu   sync.Mutex
	Sent []Email
	Err  error
	// Block makes Send hang until its context is done.
	Block bool
}

func (m *Mailer) Send(ctx context.Context, to, subject, title, message string) error {
	if m.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, Email{To: to, Subject: subject, Title: title, Message: message})
	return nil
}

func (m *Mailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// Publisher records published status events.
type Publisher struct {
	mu     sync.Mutex
	Events []model.StatusChangedEvent
	// Block makes publishing hang until its context is done, like an unreachable broker.
	Block bool
}

func (p *Publisher) PublishStatusChanged(ctx context.Context, ev model.StatusChangedEvent) error {
	if p.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return nil
}

func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Events)
}

// Guard is an in-memory ports.CheckoutGuard.
type Guard struct {
	mu   sync.Mutex
	held map[string]bool
	Err  error
}

func (g *Guard) Acquire(_ context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return false, g.Err
	}
	if g.held == nil {
		g.held = map[string]bool{}
	}
	if g.held[orderID] {
		return false, nil
	}
	g.held[orderID] = true
	return true, nil
}

func (g *Guard) Release(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, orderID)
	return nil
}

func (g *Guard) Held(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held[orderID]
}

// Verifier accepts or rejects every notification.
type Verifier struct {
	Err error
}

func (v Verifier) Verify(n model.Notification) error {
	if !n.Complete() {
		return ports.ErrInvalidFingerprint
	}
	return v.Err
}

var (
	_ ports.IOrderRepository      = (*OrderStore)(nil)
	_ ports.IPaymentProcessor     = (*Processor)(nil)
	_ ports.Mailer                = (*Mailer)(nil)
	_ ports.EventPublisher        = (*Publisher)(nil)
	_ ports.CheckoutGuard         = (*Guard)(nil)
	_ ports.INotificationVerifier = Verifier{}
)
