package configs

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once on startup and passed down explicitly.
type Config struct {
	Env  string
	Port string

	// =======================
	// Processor
	// =======================
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeProductID     string

	// Amounts are kept in cents everywhere below the config layer.
	BaseMonthlyRateCents int64
	SiblingDiscountCents int64

	// =======================
	// Admin gate
	// =======================
	AdminPassword   string
	JWTSecret       string
	AdminSessionTTL time.Duration
	CronSecret      string

	// =======================
	// Storage
	// =======================
	DatabaseURL string
	RedisURL    string

	CorsOrigins []string

	// =======================
	// Retry / grace policy
	// =======================
	RetryMaxAttempts int
	RetryDelayDays   int
	GracePeriodDays  int
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// =======================
// ENV LOADER
// =======================
func LoadEnv() Config {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" && os.Getenv("PLATFORM_ENV") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("[config] no .env file found, using process environment")
		} else {
			log.Println("[config] .env loaded")
		}
	} else {
		log.Println("[config] running on platform, using process environment")
	}
	return FromEnv()
}

// FromEnv reads the configuration without touching .env files.
func FromEnv() Config {
	cfg := Config{
		Env:  GetEnv("APP_ENV", "development"),
		Port: GetEnv("PORT", "3000"),

		StripeSecretKey:     GetEnv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET"),
		StripeProductID:     GetEnv("STRIPE_PRODUCT_ID"),

		BaseMonthlyRateCents: dollarsToCents(GetEnv("BASE_MONTHLY_RATE", "150")),
		SiblingDiscountCents: dollarsToCents(GetEnv("SIBLING_DISCOUNT", "10")),

		AdminPassword:   GetEnv("ADMIN_PASSWORD"),
		JWTSecret:       GetEnv("JWT_SECRET"),
		AdminSessionTTL: getDuration("ADMIN_SESSION_TTL", 12*time.Hour),
		CronSecret:      GetEnv("CRON_SECRET"),

		DatabaseURL: databaseURL(),
		RedisURL:    GetEnv("REDIS_URL"),

		CorsOrigins: splitList(GetEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),

		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryDelayDays:   getInt("RETRY_DELAY_DAYS", 3),
		GracePeriodDays:  getInt("GRACE_PERIOD_DAYS", 7),
	}
	return cfg
}

// Validate reports the settings the server cannot run without.
func (c Config) Validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.AdminPassword == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	return nil
}

func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if (!exists || strings.TrimSpace(value) == "") && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return strings.TrimSpace(value)
}

func databaseURL() string {
	if v := GetEnv("DATABASE_URL"); v != "" {
		return v
	}
	if GetEnv("DB_HOST") == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&application_name=tuitionpay",
		GetEnv("DB_USER"),
		GetEnv("DB_PASSWORD"),
		GetEnv("DB_HOST"),
		GetEnv("DB_PORT", "5432"),
		GetEnv("DB_NAME"),
		GetEnv("DB_SSLMODE", "require"),
	)
}

func getInt(key string, def int) int {
	if v := GetEnv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := GetEnv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// dollarsToCents accepts "150", "150.5" or "140.25".
func dollarsToCents(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f*100 + 0.5)
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
