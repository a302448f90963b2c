package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/danielmoisemontezima/splits-payment-service/internal/adapters"
	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/controller"
	"github.com/danielmoisemontezima/splits-payment-service/internal/core"
	"github.com/danielmoisemontezima/splits-payment-service/internal/logging"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
	"github.com/danielmoisemontezima/splits-payment-service/internal/repository"
	"github.com/danielmoisemontezima/splits-payment-service/internal/service"
	"github.com/danielmoisemontezima/splits-payment-service/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML configuration file")
	flag.Parse()

	// Load configurations
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	log := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	// Initialize database pool
	pool, err := config.InitPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Error("failed to initialize database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	orders := repository.NewOrderRepository(pool)
	if err := orders.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", "err", err)
		os.Exit(1)
	}

	var guard ports.CheckoutGuard = adapters.NoopCheckoutGuard{}
	if cfg.Redis.Addr != "" {
		rdb, err := config.InitRedis(ctx, cfg.Redis)
		if err != nil {
			log.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		guard = adapters.NewRedisCheckoutGuard(rdb, cfg.Redis.CheckoutLockTTL)
	} else {
		log.Warn("redis not configured, duplicate checkout submissions are not guarded")
	}

	var publisher ports.EventPublisher = adapters.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := adapters.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.WriteTimeout)
		defer writer.Close()
		publisher = adapters.NewKafkaPublisher(logging.New("kafka"), writer)
	}

	var mailer ports.Mailer = adapters.NewLogMailer(logging.New("mailer"))
	if cfg.SMTP.Host != "" {
		mailer = adapters.NewSMTPMailer(cfg.SMTP, logging.New("mailer"))
	}

	// Initialize providers
	httpClient := &http.Client{Timeout: cfg.Splits.Timeout}
	providerRegistry := core.NewProviderRegistry()
	if cfg.CreditCard.Enabled {
		providerRegistry.Register(adapters.NewSplitsAdapter(model.CreditCard, cfg.Splits, httpClient, logging.New("splits")))
	}
	if cfg.BankingTicket.Enabled {
		providerRegistry.Register(adapters.NewSplitsAdapter(model.BankingTicket, cfg.Splits, httpClient, logging.New("splits")))
	}
	verifier := adapters.NewFingerprinter(cfg.Splits.Secret(), cfg.Splits.FingerprintAlgorithms)

	// Setup services
	reconciler := service.NewReconciler(cfg, orders, verifier, mailer, publisher, logging.New("reconciler"))
	paymentService := service.NewPaymentService(cfg, providerRegistry, orders, reconciler, guard, logging.New("payments"))
	paymentController := controller.NewPaymentController(paymentService, reconciler, cfg.HTTP.RequestTimeout)

	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      controller.NewRouter(paymentController, logging.New("http")),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("server running", "addr", srv.Addr, "methods", providerRegistry.Methods())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
}
