package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wichananm65/storefront-backend/internal/money"
)

const defaultMpesaBaseURL = "https://sandbox.safaricom.co.ke"

type Config struct {
	Env         string
	Addr        string
	DatabaseURL string
	JWTSecret   string
	RedisURL    string

	SessionCookieSecure bool

	Mpesa    MpesaConfig
	Checkout CheckoutConfig
}

type MpesaConfig struct {
	Enabled        bool
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

type CheckoutConfig struct {
	TaxBasisPoints     int64
	ShippingFee        money.Amount
	RateLimitPerMinute int
}

// Load reads .env (when present) and the process environment. Every missing
// required key is reported in a single error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		Env:                 r.str("APP_ENV", "development"),
		Addr:                r.str("APP_ADDR", ":8080"),
		DatabaseURL:         r.required("DATABASE_URL"),
		JWTSecret:           r.required("JWT_SECRET"),
		RedisURL:            r.str("REDIS_URL", ""),
		SessionCookieSecure: r.boolean("SESSION_COOKIE_SECURE", false),
		Mpesa: MpesaConfig{
			Enabled: r.boolean("MPESA_ENABLED", true),
			BaseURL: strings.TrimRight(r.str("MPESA_BASE_URL", defaultMpesaBaseURL), "/"),
			Timeout: r.duration("MPESA_TIMEOUT", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			TaxBasisPoints:     int64(r.integer("CHECKOUT_TAX_BPS", 0)),
			ShippingFee:        r.amount("CHECKOUT_SHIPPING_FEE", 0),
			RateLimitPerMinute: r.integer("CHECKOUT_RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if cfg.Mpesa.Enabled {
		cfg.Mpesa.ConsumerKey = r.required("MPESA_CONSUMER_KEY")
		cfg.Mpesa.ConsumerSecret = r.required("MPESA_CONSUMER_SECRET")
		cfg.Mpesa.ShortCode = r.required("MPESA_SHORTCODE")
		cfg.Mpesa.PassKey = r.required("MPESA_PASSKEY")
		cfg.Mpesa.CallbackURL = r.required("MPESA_CALLBACK_URL")
	}

	if cfg.Checkout.TaxBasisPoints < 0 {
		r.invalid = append(r.invalid, "CHECKOUT_TAX_BPS")
	}
	if cfg.Checkout.ShippingFee < 0 {
		r.invalid = append(r.invalid, "CHECKOUT_SHIPPING_FEE")
	}

	if err := r.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsProduction() bool { return c.Env == "production" }

type reader struct {
	getenv  func(string) string
	missing []string
	invalid []string
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.missing = append(r.missing, key)
	}
	return v
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return def
	}
	return b
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.invalid = append(r.invalid, key)
		return def
	}
	return d
}

func (r *reader) amount(key string, def money.Amount) money.Amount {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	a, err := money.Parse(v)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return def
	}
	return a
}

func (r *reader) err() error {
	var parts []string
	if len(r.missing) > 0 {
		parts = append(parts, "missing "+strings.Join(r.missing, ", "))
	}
	if len(r.invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(r.invalid, ", "))
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
