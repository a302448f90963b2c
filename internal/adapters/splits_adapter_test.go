package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/logging"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

type capturedGraphQL struct {
	Token     string
	Query     string
	Variables map[string]any
}

// graphQLServer answers every gateway call with response and records the request.
func graphQLServer(t *testing.T, status int, response string, captured *capturedGraphQL) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/gateway", r.URL.Path)
		if captured != nil {
			var req graphQLRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			captured.Token = r.Header.Get(gatewayHeader)
			captured.Query = req.Query
			captured.Variables = req.Variables
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(method model.PaymentMethod, baseURL string) *SplitsAdapter {
	cfg := config.SplitsConfig{
		BaseURL: baseURL + "/",
		APIKey:  "key-123",
		Timeout: 2 * time.Second,
	}
	return NewSplitsAdapter(method, cfg, nil, logging.Discard())
}

func TestQuoteInstallments(t *testing.T) {
	var got capturedGraphQL
	srv := graphQLServer(t, http.StatusOK, `{"data":{"installments_values":[
		{"parcel":1,"value":15000,"total":15000},
		{"parcel":"2","value":"7500","total":15000},
		{"parcel":3,"value":5000.7,"total":15000}
	]}}`, &got)

	quotes, err := newTestAdapter(model.CreditCard, srv.URL).QuoteInstallments(context.Background(), model.QuoteRequest{
		Amount:              15000,
		MaxInstallments:     3,
		FreeInstallments:    1,
		SmallestInstallment: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, []model.InstallmentQuote{
		{Count: 1, PerInstallment: 15000, Total: 15000},
		{Count: 2, PerInstallment: 7500, Total: 15000},
		{Count: 3, PerInstallment: 5000, Total: 15000},
	}, quotes)
	assert.Equal(t, "key-123", got.Token)
	assert.Contains(t, got.Query, "installments_values")
	assert.EqualValues(t, 15000, got.Variables["amount"])
	assert.EqualValues(t, 500, got.Variables["smallest_installment"])
}

func TestQuoteInstallments_SingleInstallmentSendsNoSmallest(t *testing.T) {
	var got capturedGraphQL
	srv := graphQLServer(t, http.StatusOK, `{"data":{"installments_values":[{"parcel":1,"value":1000,"total":1000}]}}`, &got)

	quotes, err := newTestAdapter(model.CreditCard, srv.URL).QuoteInstallments(context.Background(), model.QuoteRequest{
		Amount:              1000,
		MaxInstallments:     1,
		FreeInstallments:    1,
		SmallestInstallment: 500,
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, quotes[0].Total, int64(1000))
	assert.EqualValues(t, 0, got.Variables["smallest_installment"])
}

func TestQuoteInstallments_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `oops`, ports.ErrTransport},
		{"not json", http.StatusOK, `<html>`, ports.ErrMalformedResponse},
		{"graphql errors", http.StatusOK, `{"errors":[{"message":"bad token"}]}`, ports.ErrVendorRejected},
		{"no data", http.StatusOK, `{"data":null}`, ports.ErrMalformedResponse},
		{"empty entry", http.StatusOK, `{"data":{"installments_values":[{"parcel":0,"value":0,"total":0}]}}`, ports.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := graphQLServer(t, tt.status, tt.body, nil)
			_, err := newTestAdapter(model.CreditCard, srv.URL).QuoteInstallments(context.Background(), model.QuoteRequest{
				Amount: 1000, MaxInstallments: 2, FreeInstallments: 1, SmallestInstallment: 500,
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuoteInstallments_InvalidRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	defer srv.Close()

	_, err := newTestAdapter(model.CreditCard, srv.URL).QuoteInstallments(context.Background(), model.QuoteRequest{Amount: 0, MaxInstallments: 1})
	assert.ErrorIs(t, err, model.ErrInvalidQuoteRequest)
	assert.Zero(t, calls.Load())
}

func TestQuoteInstallments_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestAdapter(model.CreditCard, srv.URL).QuoteInstallments(context.Background(), model.QuoteRequest{
		Amount: 1000, MaxInstallments: 1, FreeInstallments: 1,
	})
	assert.ErrorIs(t, err, ports.ErrTransport)
}

func TestCreateSale_Approved(t *testing.T) {
	var got capturedGraphQL
	srv := graphQLServer(t, http.StatusOK, `{"data":{"create_sale_open":{"status":200,"message":"ok","id":42}}}`, &got)

	sale, err := newTestAdapter(model.CreditCard, srv.URL).CreateSale(context.Background(), model.SaleRequest{
		Amount:       15000,
		CardToken:    "card_abc",
		Installments: 3,
	})
	require.NoError(t, err)

	assert.True(t, sale.Approved())
	assert.Equal(t, "42", sale.TransactionID)
	assert.Contains(t, got.Query, "create_sale_open")
	assert.Equal(t, "15000", got.Variables["valor"])
	assert.Equal(t, "card_abc", got.Variables["token_cartao"])
	plan, ok := got.Variables["plano_cobranca"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "MENSAL", plan["tipo"])
	assert.EqualValues(t, 3, plan["quantidade"])
}

func TestCreateSale_Declined(t *testing.T) {
	srv := graphQLServer(t, http.StatusOK, `{"data":{"create_sale_open":{"status":402,"message":"Cartão recusado","id":null}}}`, nil)

	sale, err := newTestAdapter(model.CreditCard, srv.URL).CreateSale(context.Background(), model.SaleRequest{
		Amount: 15000, CardToken: "card_abc", Installments: 1,
	})
	require.NoError(t, err)
	assert.False(t, sale.Approved())
	assert.Equal(t, "Cartão recusado", sale.Message)
	assert.Empty(t, sale.TransactionID)
}

func TestCreateSale_BankingTicketSendsNullToken(t *testing.T) {
	var got capturedGraphQL
	srv := graphQLServer(t, http.StatusOK, `{"data":{"create_sale_open":{"status":200,"message":"","id":"77"}}}`, &got)

	sale, err := newTestAdapter(model.BankingTicket, srv.URL).CreateSale(context.Background(), model.SaleRequest{Amount: 9990, Installments: 1})
	require.NoError(t, err)
	assert.Equal(t, "77", sale.TransactionID)
	v, present := got.Variables["token_cartao"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestCreateSale_Validation(t *testing.T) {
	a := newTestAdapter(model.CreditCard, "http://127.0.0.1:1")

	_, err := a.CreateSale(context.Background(), model.SaleRequest{Amount: 1000, Installments: 1})
	assert.ErrorIs(t, err, ports.ErrCardTokenRequired)

	_, err = a.CreateSale(context.Background(), model.SaleRequest{Amount: 0, CardToken: "x", Installments: 1})
	assert.ErrorIs(t, err, ports.ErrInvalidSale)

	_, err = a.CreateSale(context.Background(), model.SaleRequest{Amount: 1000, CardToken: "x", Installments: 0})
	assert.ErrorIs(t, err, ports.ErrInvalidSale)
}

func TestCreateSale_MissingStatus(t *testing.T) {
	srv := graphQLServer(t, http.StatusOK, `{"data":{"create_sale_open":{"message":"??"}}}`, nil)

	_, err := newTestAdapter(model.CreditCard, srv.URL).CreateSale(context.Background(), model.SaleRequest{
		Amount: 1000, CardToken: "x", Installments: 1,
	})
	assert.ErrorIs(t, err, ports.ErrMalformedResponse)
}

func TestFetchTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transactions/tok_1", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		assert.Equal(t, "key-123", form.Get("api_key"))
		_, _ = io.WriteString(w, `{"id":42,"amount":15000,"installments":3,"status":"paid","card_brand":"visa","antifraud_score":"7"}`)
	}))
	defer srv.Close()

	rec, err := newTestAdapter(model.CreditCard, srv.URL).FetchTransaction(context.Background(), "tok_1")
	require.NoError(t, err)
	assert.Equal(t, &model.TransactionRecord{
		ID:             "42",
		Amount:         15000,
		Installments:   3,
		Status:         model.VendorPaid,
		PaymentMethod:  model.CreditCard,
		CardBrand:      "visa",
		AntifraudScore: "7",
	}, rec)
}

func TestFetchTransaction_VendorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"message":"not found"}]}`)
	}))
	defer srv.Close()

	_, err := newTestAdapter(model.CreditCard, srv.URL).FetchTransaction(context.Background(), "tok_1")
	assert.ErrorIs(t, err, ports.ErrVendorRejected)
}

func TestCancelOrRefund(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transactions/42/refund", r.URL.Path)
		_, _ = io.WriteString(w, `{"status":"refunded"}`)
	}))
	defer srv.Close()

	a := newTestAdapter(model.CreditCard, srv.URL)
	res, err := a.CancelOrRefund(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "refunded", res.Status)
	assert.Equal(t, "42", res.TransactionID)

	// Repeated refunds are forwarded to the vendor.
	_, err = a.CancelOrRefund(context.Background(), "42")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCancelOrRefund_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"already refunded"}]}`)
	}))
	defer srv.Close()

	_, err := newTestAdapter(model.CreditCard, srv.URL).CancelOrRefund(context.Background(), "42")
	assert.ErrorIs(t, err, ports.ErrVendorRejected)
}
