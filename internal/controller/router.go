package controller

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(c *PaymentController, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, Metrics, RequestLogger(log))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/payments/health", c.GetHealthCheck)

	r.Post("/payments/{method}/checkout", c.ProcessPayment)
	r.Get("/payments/{method}/installments", c.GetInstallments)
	r.Get("/payments/{method}/transactions/{token}", c.VerifyTransaction)
	r.Post("/payments/{method}/orders/{id}/refund", c.Refund)
	r.Post("/webhooks/{method}", c.HandleNotification)

	return r
}
