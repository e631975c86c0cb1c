// Package config содержит логику чтения конфигурации сервиса сверки платежей.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/valoralocal/reconciler/internal/model"
)

const (
	// PlanMonthly — идентификатор ежемесячного плана.
	PlanMonthly = "monthly"
	// PlanAnnual — идентификатор годового плана.
	PlanAnnual = "annual"

	// PayPalModeLive включает проверку подписи вебхуков PayPal.
	PayPalModeLive = "live"
	// PayPalModeSandbox отключает проверку подписи вебхуков PayPal.
	PayPalModeSandbox = "sandbox"

	payPalLiveURL    = "https://api-m.paypal.com"
	payPalSandboxURL = "https://api-m.sandbox.paypal.com"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BaseURL     string `env:"BASE_URL"`
	AdminKey    string `env:"ADMIN_KEY"`
	RedisURL    string `env:"REDIS_URL"`
	AMQPURL     string `env:"AMQP_URL"`

	MercadoPago MercadoPagoConfig `envPrefix:"MP_"`
	PayPal      PayPalConfig      `envPrefix:"PAYPAL_"`
	Referral    ReferralConfig    `envPrefix:"REFERRAL_"`
	Email       EmailConfig
	Pricing     PricingConfig `envPrefix:"PLAN_"`

	SweepSchedule     string        `env:"SWEEP_SCHEDULE" envDefault:"@every 5m"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"15m"`
	ExpiryGrace       time.Duration `env:"EXPIRY_GRACE" envDefault:"72h"`
	RateLimitPerMin   int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	CORSOrigins       []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// MercadoPagoConfig содержит параметры интеграции с MercadoPago.
type MercadoPagoConfig struct {
	AccessToken   string `env:"ACCESS_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	APIURL        string `env:"API_URL" envDefault:"https://api.mercadopago.com"`
	Currency      string `env:"CURRENCY" envDefault:"CLP"`
}

// PayPalConfig содержит параметры интеграции с PayPal.
type PayPalConfig struct {
	ClientID      string `env:"CLIENT_ID"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	Mode          string `env:"MODE" envDefault:"sandbox"`
	WebhookID     string `env:"WEBHOOK_ID"`
	APIURL        string `env:"API_URL"`
	Currency      string `env:"CURRENCY" envDefault:"USD"`
	MonthlyPlanID string `env:"PLAN_MONTHLY_ID"`
	AnnualPlanID  string `env:"PLAN_ANNUAL_ID"`
}

// ReferralConfig задаёт единые параметры реферальной программы.
type ReferralConfig struct {
	MaxReferrals int   `env:"MAX_REFERRALS" envDefault:"10"`
	RewardAmount int64 `env:"REWARD_AMOUNT" envDefault:"2000"`
}

// EmailConfig содержит параметры отправки писем.
type EmailConfig struct {
	ResendAPIKey string `env:"RESEND_API_KEY"`
	From         string `env:"EMAIL_FROM" envDefault:"ValoraLocal <no-reply@valoralocal.cl>"`
	SalesEmail   string `env:"SALES_EMAIL"`
}

// PricingConfig содержит цены тарифных планов.
type PricingConfig struct {
	MonthlyPriceCLP int64  `env:"MONTHLY_PRICE_CLP" envDefault:"9990"`
	AnnualPriceCLP  int64  `env:"ANNUAL_PRICE_CLP" envDefault:"99900"`
	MonthlyPriceUSD string `env:"MONTHLY_PRICE_USD" envDefault:"12.00"`
	AnnualPriceUSD  string `env:"ANNUAL_PRICE_USD" envDefault:"120.00"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", "", "public base URL used in redirects and emails")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.PayPal.Mode = strings.ToLower(strings.TrimSpace(cfg.PayPal.Mode))

	return cfg, nil
}

// Validate проверяет обязательные параметры.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURI == "" {
		missing = append(missing, "DATABASE_URI")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.PayPal.IsLive() && c.PayPal.WebhookID == "" {
		missing = append(missing, "PAYPAL_WEBHOOK_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.PayPal.Mode != PayPalModeLive && c.PayPal.Mode != PayPalModeSandbox {
		return fmt.Errorf("PAYPAL_MODE must be %q or %q, got %q", PayPalModeSandbox, PayPalModeLive, c.PayPal.Mode)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BASE_URL must be a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL")
	}

	if c.Referral.MaxReferrals <= 0 {
		return fmt.Errorf("REFERRAL_MAX_REFERRALS must be greater than 0, got %d", c.Referral.MaxReferrals)
	}
	if c.Referral.RewardAmount < 0 {
		return fmt.Errorf("REFERRAL_REWARD_AMOUNT must not be negative, got %d", c.Referral.RewardAmount)
	}
	return nil
}

// IsLive сообщает, работает ли интеграция PayPal в боевом режиме.
func (p PayPalConfig) IsLive() bool {
	return p.Mode == PayPalModeLive
}

// BaseAPIURL возвращает адрес API PayPal с учётом режима.
func (p PayPalConfig) BaseAPIURL() string {
	if p.APIURL != "" {
		return strings.TrimRight(p.APIURL, "/")
	}
	if p.IsLive() {
		return payPalLiveURL
	}
	return payPalSandboxURL
}

// Plans возвращает таблицу тарифных планов.
func (c *Config) Plans() map[string]model.Plan {
	return map[string]model.Plan{
		PlanMonthly: {
			ID:              PlanMonthly,
			Name:            "ValoraLocal Mensual",
			PriceCLP:        c.Pricing.MonthlyPriceCLP,
			PriceUSD:        c.Pricing.MonthlyPriceUSD,
			FrequencyMonths: 1,
			DurationDays:    30,
			PayPalPlanID:    c.PayPal.MonthlyPlanID,
		},
		PlanAnnual: {
			ID:              PlanAnnual,
			Name:            "ValoraLocal Anual",
			PriceCLP:        c.Pricing.AnnualPriceCLP,
			PriceUSD:        c.Pricing.AnnualPriceUSD,
			FrequencyMonths: 12,
			DurationDays:    365,
			PayPalPlanID:    c.PayPal.AnnualPlanID,
		},
	}
}
