package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/danielmoisemontezima/splits-payment-service/internal/adapters"
	"github.com/danielmoisemontezima/splits-payment-service/internal/logging"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
	"github.com/danielmoisemontezima/splits-payment-service/internal/service"
	"github.com/danielmoisemontezima/splits-payment-service/pkg/utils"
)

// NotificationFailure is the body Splits receives when an IPN is refused.
const NotificationFailure = "Splits Tecnologia Request Failure"

const maxNotificationBody = 64 * 1024

type PaymentController struct {
	service    *service.PaymentService
	reconciler *service.Reconciler
	timeout    time.Duration
}

func NewPaymentController(service *service.PaymentService, reconciler *service.Reconciler, timeout time.Duration) *PaymentController {
	if timeout <= 0 {
		timeout = 70 * time.Second
	}
	return &PaymentController{service: service, reconciler: reconciler, timeout: timeout}
}

func paymentMethod(r *http.Request) (model.PaymentMethod, error) {
	return model.ParsePaymentMethod(chi.URLParam(r, "method"))
}

func (c *PaymentController) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	method, err := paymentMethod(r)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	// Covers the vendor timeout on the sale call.
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	var req model.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	response, err := c.service.ProcessPayment(ctx, method, req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

type installmentsResponse struct {
	Available    bool                     `json:"available"`
	Installments []model.InstallmentQuote `json:"installments"`
}

func (c *PaymentController) GetInstallments(w http.ResponseWriter, r *http.Request) {
	method, err := paymentMethod(r)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "amount must be a decimal number")
		return
	}

	quotes, err := c.service.QuoteInstallments(ctx, method, amount)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, installmentsResponse{
		Available:    len(quotes) > 0,
		Installments: quotes,
	})
}

func (c *PaymentController) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	method, err := paymentMethod(r)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	token := chi.URLParam(r, "token")
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	data, err := c.service.VerifyCheckout(ctx, method, orderID, token)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, data)
}

func (c *PaymentController) Refund(w http.ResponseWriter, r *http.Request) {
	if _, err := paymentMethod(r); err != nil {
		respondWithServiceError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	response, err := c.service.Refund(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

// HandleNotification answers Splits with an empty 200 once the IPN has been
// authenticated and processed, and with a plain text 401 otherwise.
func (c *PaymentController) HandleNotification(w http.ResponseWriter, r *http.Request) {
	log := logging.FromCtx(r.Context())
	if _, err := paymentMethod(r); err != nil {
		utils.RespondWithText(w, http.StatusNotFound, "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		utils.RespondWithText(w, http.StatusUnauthorized, NotificationFailure)
		return
	}

	n, err := adapters.ParseNotification(rawBody)
	if err != nil {
		log.Warn("unparseable notification", "err", err)
		utils.RespondWithText(w, http.StatusUnauthorized, NotificationFailure)
		return
	}

	err = c.reconciler.HandleNotification(ctx, n)
	switch {
	case errors.Is(err, ports.ErrInvalidFingerprint):
		utils.RespondWithText(w, http.StatusUnauthorized, NotificationFailure)
	case err != nil:
		// Splits retries non-2xx deliveries.
		log.Error("notification not processed", "transaction_id", n.TransactionID, "err", err)
		utils.RespondWithText(w, http.StatusInternalServerError, "")
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (c *PaymentController) GetHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "OK",
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUnknownPaymentMethod), errors.Is(err, ports.ErrOrderNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidAmount), errors.Is(err, model.ErrInvalidQuoteRequest):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrCheckoutInvalid):
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrNoTransaction):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ports.ErrTransport), errors.Is(err, ports.ErrVendorRejected), errors.Is(err, ports.ErrMalformedResponse):
		utils.RespondWithError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
