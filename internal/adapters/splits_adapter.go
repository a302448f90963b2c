package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/metrics"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

const (
	gatewayEndpoint = "gateway"
	gatewayHeader   = "x-gateway-token"
	maxResponseSize = 1 << 20

	installmentsQuery = `query installments_values($gateway_token: ID!, $amount: Int!, $max_installments: Int, $free_installments: Int!, $smallest_installment: Int!) {installments_values(gateway_token: $gateway_token, amount: $amount, max_installments: $max_installments, free_installments: $free_installments, smallest_installment: $smallest_installment) { parcel value total }}`

	createSaleMutation = `mutation create_sale_open($valor:String!, $token_cartao: String, $plano_cobranca: PlanoCobrancaInput!) { create_sale_open( valor:$valor, token_cartao:$token_cartao, plano_cobranca:$plano_cobranca ) { status message id } }`
)

// SplitsAdapter talks to the Splits API on behalf of one payment method.
type SplitsAdapter struct {
	method model.PaymentMethod
	cfg    config.SplitsConfig
	client *http.Client
	log    *slog.Logger
	tracer trace.Tracer
}

func NewSplitsAdapter(method model.PaymentMethod, cfg config.SplitsConfig, client *http.Client, log *slog.Logger) *SplitsAdapter {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SplitsAdapter{
		method: method,
		cfg:    cfg,
		client: client,
		log:    log.With("payment_method", string(method)),
		tracer: otel.Tracer("splits-gateway"),
	}
}

func (s *SplitsAdapter) Method() model.PaymentMethod {
	return s.method
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type installmentsPayload struct {
	InstallmentsValues []struct {
		Parcel flexInt `json:"parcel"`
		Value  flexInt `json:"value"`
		Total  flexInt `json:"total"`
	} `json:"installments_values"`
}

type createSalePayload struct {
	CreateSaleOpen *struct {
		Status  *flexInt   `json:"status"`
		Message string     `json:"message"`
		ID      flexString `json:"id"`
	} `json:"create_sale_open"`
}

type transactionPayload struct {
	ID             flexString `json:"id"`
	Amount         flexInt    `json:"amount"`
	Installments   flexInt    `json:"installments"`
	Status         string     `json:"status"`
	PaymentMethod  string     `json:"payment_method"`
	BoletoURL      string     `json:"boleto_url"`
	CardBrand      string     `json:"card_brand"`
	AntifraudScore flexString `json:"antifraud_score"`
	Errors         []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *SplitsAdapter) QuoteInstallments(ctx context.Context, req model.QuoteRequest) ([]model.InstallmentQuote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	smallest := req.SmallestInstallment
	if req.MaxInstallments == 1 {
		smallest = 0
	}

	var out installmentsPayload
	err := s.doGraphQL(ctx, "quote_installments", graphQLRequest{
		Query: installmentsQuery,
		Variables: map[string]any{
			"gateway_token":        s.cfg.APIKey,
			"amount":               req.Amount,
			"max_installments":     req.MaxInstallments,
			"free_installments":    req.FreeInstallments,
			"smallest_installment": smallest,
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	quotes := make([]model.InstallmentQuote, 0, len(out.InstallmentsValues))
	for _, v := range out.InstallmentsValues {
		if v.Parcel < 1 || v.Value <= 0 || v.Total <= 0 {
			return nil, fmt.Errorf("%w: installment entry %+v", ports.ErrMalformedResponse, v)
		}
		quotes = append(quotes, model.InstallmentQuote{
			Count:          int(v.Parcel),
			PerInstallment: int64(v.Value),
			Total:          int64(v.Total),
		})
	}
	return quotes, nil
}

func (s *SplitsAdapter) CreateSale(ctx context.Context, req model.SaleRequest) (*model.SaleResponse, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ports.ErrInvalidSale)
	}
	if req.Installments < 1 {
		return nil, fmt.Errorf("%w: installments must be at least 1", ports.ErrInvalidSale)
	}
	if s.method.RequiresCardToken() && req.CardToken == "" {
		return nil, ports.ErrCardTokenRequired
	}

	var token any
	if req.CardToken != "" {
		token = req.CardToken
	}

	var out createSalePayload
	err := s.doGraphQL(ctx, "create_sale", graphQLRequest{
		Query: createSaleMutation,
		Variables: map[string]any{
			"valor":        strconv.FormatInt(req.Amount, 10),
			"token_cartao": token,
			"plano_cobranca": map[string]any{
				"tipo":       "MENSAL",
				"quantidade": req.Installments,
			},
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	sale := out.CreateSaleOpen
	if sale == nil || sale.Status == nil {
		return nil, fmt.Errorf("%w: create_sale_open without status", ports.ErrMalformedResponse)
	}
	return &model.SaleResponse{
		StatusCode:    int(*sale.Status),
		Message:       sale.Message,
		TransactionID: string(sale.ID),
	}, nil
}

func (s *SplitsAdapter) FetchTransaction(ctx context.Context, token string) (*model.TransactionRecord, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty transaction token", ports.ErrInvalidSale)
	}

	body, err := s.doForm(ctx, "fetch_transaction", http.MethodGet, "transactions/"+url.PathEscape(token))
	if err != nil {
		return nil, err
	}

	var p transactionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.log.Error("unreadable transaction response", "body", string(body), "err", err)
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}
	if len(p.Errors) > 0 {
		s.log.Warn("failed to get transaction data", "token", token, "body", string(body))
		return nil, fmt.Errorf("%w: %s", ports.ErrVendorRejected, p.Errors[0].Message)
	}
	if p.ID == "" && p.Amount == 0 {
		s.log.Error("transaction response without data", "body", string(body))
		return nil, fmt.Errorf("%w: transaction without id or amount", ports.ErrMalformedResponse)
	}

	rec := &model.TransactionRecord{
		ID:             string(p.ID),
		Amount:         int64(p.Amount),
		Installments:   int(p.Installments),
		PaymentMethod:  s.method,
		BoletoURL:      p.BoletoURL,
		CardBrand:      p.CardBrand,
		AntifraudScore: string(p.AntifraudScore),
	}
	if rec.ID == "" {
		rec.ID = token
	}
	if p.Status != "" {
		status, err := model.ParseVendorStatus(p.Status)
		if err != nil {
			s.log.Warn("transaction carries an unknown status", "token", token, "status", p.Status)
		} else {
			rec.Status = status
		}
	}
	return rec, nil
}

func (s *SplitsAdapter) CancelOrRefund(ctx context.Context, token string) (*model.RefundResponse, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty transaction token", ports.ErrInvalidSale)
	}

	body, err := s.doForm(ctx, "cancel_or_refund", http.MethodPost, "transactions/"+url.PathEscape(token)+"/refund")
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		s.log.Error("unreadable refund response", "body", string(body), "err", err)
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}
	if errs, ok := raw["errors"]; ok && errs != nil {
		s.log.Warn("failed to cancel the transaction", "token", token, "body", string(body))
		return nil, fmt.Errorf("%w: %v", ports.ErrVendorRejected, errs)
	}

	status, _ := raw["status"].(string)
	return &model.RefundResponse{TransactionID: token, Status: status, Raw: raw}, nil
}

func (s *SplitsAdapter) doGraphQL(ctx context.Context, op string, req graphQLRequest, out any) (err error) {
	ctx, span := s.tracer.Start(ctx, "splits."+op)
	defer span.End()
	start := time.Now()
	defer func() { s.observe(span, op, start, err) }()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+gatewayEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(gatewayHeader, s.cfg.APIKey)

	body, err := s.send(httpReq, op)
	if err != nil {
		return err
	}

	var env graphQLEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.log.Error("unreadable gateway response", "operation", op, "body", string(body), "err", err)
		return fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}
	if len(env.Errors) > 0 {
		s.log.Warn("gateway returned errors", "operation", op, "body", string(body))
		return fmt.Errorf("%w: %s", ports.ErrVendorRejected, env.Errors[0].Message)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		s.log.Error("gateway response without data", "operation", op, "body", string(body))
		return fmt.Errorf("%w: missing data", ports.ErrMalformedResponse)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		s.log.Error("unexpected gateway data shape", "operation", op, "body", string(body), "err", err)
		return fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}
	return nil
}

// doForm performs a legacy REST call carrying the API key in a form body.
func (s *SplitsAdapter) doForm(ctx context.Context, op, method, endpoint string) (body []byte, err error) {
	ctx, span := s.tracer.Start(ctx, "splits."+op)
	defer span.End()
	start := time.Now()
	defer func() { s.observe(span, op, start, err) }()

	form := url.Values{"api_key": {s.cfg.APIKey}}
	httpReq, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.send(httpReq, op)
}

func (s *SplitsAdapter) send(req *http.Request, op string) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error("splits request failed", "operation", op, "err", err)
		return nil, fmt.Errorf("%w: %v", ports.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		s.log.Error("reading splits response failed", "operation", op, "err", err)
		return nil, fmt.Errorf("%w: %v", ports.ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("splits server error", "operation", op, "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: http status %d", ports.ErrTransport, resp.StatusCode)
	}
	// 4xx bodies still carry the vendor's errors document.
	return body, nil
}

func (s *SplitsAdapter) observe(span trace.Span, op string, start time.Time, err error) {
	outcome := metrics.OutcomeSucceeded
	switch {
	case err == nil:
	case errors.Is(err, ports.ErrTransport):
		outcome = "transport_error"
	case errors.Is(err, ports.ErrMalformedResponse):
		outcome = "malformed"
	case errors.Is(err, ports.ErrVendorRejected):
		outcome = "rejected"
	default:
		outcome = metrics.OutcomeError
	}
	metrics.GatewayRequests.WithLabelValues(string(s.method), op, outcome).Inc()
	metrics.GatewayDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))

	span.SetAttributes(attribute.String("splits.operation", op), attribute.String("splits.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
}

// flexInt accepts a JSON number or numeric string; fractions are truncated.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexInt(d.Truncate(0).IntPart())
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

var _ ports.IPaymentProcessor = (*SplitsAdapter)(nil)
