package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
)

// EnvPrefix namespaces environment overrides, e.g. PAYMENT_SPLITS__API_KEY.
const EnvPrefix = "PAYMENT_"

type SplitsConfig struct {
	BaseURL               string        `koanf:"base_url"`
	APIKey                string        `koanf:"api_key"`
	WebhookSecret         string        `koanf:"webhook_secret"`
	Timeout               time.Duration `koanf:"timeout"`
	PortalURL             string        `koanf:"portal_url"`
	FingerprintAlgorithms []string      `koanf:"fingerprint_algorithms"`
}

// Secret is the shared secret used to fingerprint notifications.
func (s SplitsConfig) Secret() string {
	if s.WebhookSecret != "" {
		return s.WebhookSecret
	}
	return s.APIKey
}

// TransactionURL links a vendor transaction in the Splits portal.
func (s SplitsConfig) TransactionURL(transactionID string) string {
	return fmt.Sprintf(s.PortalURL, transactionID)
}

type CreditCardConfig struct {
	Enabled             bool   `koanf:"enabled"`
	MaxInstallment      int    `koanf:"max_installment"`
	SmallestInstallment string `koanf:"smallest_installment"`
	FreeInstallments    int    `koanf:"free_installments"`
}

// SmallestInstallmentMinor applies the 5.00 floor to the configured value.
func (c CreditCardConfig) SmallestInstallmentMinor() int64 {
	v, err := decimal.NewFromString(strings.TrimSpace(c.SmallestInstallment))
	if err != nil {
		return model.MinSmallestInstallment
	}
	return model.SmallestInstallment(v)
}

type BankingTicketConfig struct {
	Enabled bool `koanf:"enabled"`
	Async   bool `koanf:"async"`
}

type StoreConfig struct {
	Currency   string `koanf:"currency"`
	ReturnURL  string `koanf:"return_url"`
	AdminEmail string `koanf:"admin_email"`
}

// ReturnURLFor builds the thank-you page URL of an order.
func (s StoreConfig) ReturnURLFor(orderID string) string {
	return strings.ReplaceAll(s.ReturnURL, "{order_id}", orderID)
}

type ReconcilerConfig struct {
	MonotonicGuard bool `koanf:"monotonic_guard"`
}

type PostgresConfig struct {
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	MaxConns int32  `koanf:"max_conns"`
}

func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&connect_timeout=180",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSLMode,
	)
}

type RedisConfig struct {
	Addr            string        `koanf:"addr"`
	Password        string        `koanf:"password"`
	DB              int           `koanf:"db"`
	CheckoutLockTTL time.Duration `koanf:"checkout_lock_ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout    time.Duration `koanf:"read_timeout"`
		WriteTimeout   time.Duration `koanf:"write_timeout"`
		IdleTimeout    time.Duration `koanf:"idle_timeout"`
		RequestTimeout time.Duration `koanf:"request_timeout"`
	} `koanf:"http"`

	Postgres      PostgresConfig      `koanf:"postgres"`
	Redis         RedisConfig         `koanf:"redis"`
	Kafka         KafkaConfig         `koanf:"kafka"`
	SMTP          SMTPConfig          `koanf:"smtp"`
	Splits        SplitsConfig        `koanf:"splits"`
	CreditCard    CreditCardConfig    `koanf:"credit_card"`
	BankingTicket BankingTicketConfig `koanf:"banking_ticket"`
	Store         StoreConfig         `koanf:"store"`
	Reconciler    ReconcilerConfig    `koanf:"reconciler"`
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":                         "splits-payment-service",
		"app.http_addr":                    ":8080",
		"app.log_level":                    "info",
		"app.log_file":                     "./logs/app.log",
		"http.read_timeout":                "15s",
		"http.write_timeout":               "75s",
		"http.idle_timeout":                "60s",
		"http.request_timeout":             "70s",
		"postgres.port":                    "5432",
		"postgres.sslmode":                 "disable",
		"postgres.max_conns":               25,
		"redis.checkout_lock_ttl":          "2m",
		"kafka.topic":                      "payment.status",
		"kafka.write_timeout":              "2s",
		"smtp.port":                        587,
		"smtp.timeout":                     "5s",
		"splits.base_url":                  "https://us-central1-splits-app-194513.cloudfunctions.net/api/",
		"splits.timeout":                   "60s",
		"splits.portal_url":                "https://portal.splits.com.br/#/transactions/%s",
		"splits.fingerprint_algorithms":    []string{"sha256", "sha1"},
		"credit_card.enabled":              true,
		"credit_card.max_installment":      12,
		"credit_card.smallest_installment": "5",
		"credit_card.free_installments":    1,
		"banking_ticket.enabled":           true,
		"store.currency":                   "BRL",
		"store.return_url":                 "/checkout/order-received/{order_id}",
		"reconciler.monotonic_guard":       true,
	}
}

// Load layers defaults, an optional YAML file and PAYMENT_ environment
// variables, in that order. A .env file is read first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	// PAYMENT_SPLITS__API_KEY -> splits.api_key
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	if c.Splits.APIKey == "" {
		return fmt.Errorf("splits.api_key required")
	}
	if c.Splits.BaseURL == "" {
		return fmt.Errorf("splits.base_url required")
	}
	if !strings.HasSuffix(c.Splits.BaseURL, "/") {
		return fmt.Errorf("splits.base_url must end with /")
	}
	if c.Splits.Timeout <= 0 {
		return fmt.Errorf("splits.timeout must be positive")
	}
	if len(c.Splits.FingerprintAlgorithms) == 0 {
		return fmt.Errorf("splits.fingerprint_algorithms required")
	}
	for _, alg := range c.Splits.FingerprintAlgorithms {
		if alg != "sha1" && alg != "sha256" {
			return fmt.Errorf("unsupported fingerprint algorithm %q", alg)
		}
	}
	if !strings.EqualFold(c.Store.Currency, "BRL") {
		return fmt.Errorf("splits only supports BRL, store.currency is %q", c.Store.Currency)
	}
	if c.CreditCard.MaxInstallment < 1 || c.CreditCard.MaxInstallment > model.MaxInstallments {
		return fmt.Errorf("credit_card.max_installment must be within 1..%d", model.MaxInstallments)
	}
	if c.CreditCard.FreeInstallments < 1 {
		return fmt.Errorf("credit_card.free_installments must be at least 1")
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(c.CreditCard.SmallestInstallment)); err != nil {
		return fmt.Errorf("credit_card.smallest_installment: %w", err)
	}
	if !c.CreditCard.Enabled && !c.BankingTicket.Enabled {
		return fmt.Errorf("at least one payment method must be enabled")
	}
	return nil
}
