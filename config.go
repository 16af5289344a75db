package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"
)

type Config struct {
	Port         string
	StoreBackend string
	CartBackend  string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string

	CatalogURL string
	JWTSecret  string

	Currency           string
	CartTTL            time.Duration
	MaxQuantityPerLine int
	ReservationTTL     time.Duration
	AttemptTTL         time.Duration
	SweepInterval      time.Duration
	KeyRetention       time.Duration

	PaymentProvider       string
	PaymentDefaultOutcome string
	PaymentDeclineTokens  []string
	PaymentErrorTokens    []string
	PaymentDeclineOver    string

	RateLimitPerSecond float64
	RateLimitBurst     int

	SeedDemo bool
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		StoreBackend:  getEnv("STORE_BACKEND", "postgres"),
		CartBackend:   getEnv("CART_BACKEND", "redis"),
		PostgresDSN:   getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=storefront port=5432 sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "storefront.orders"),

		CatalogURL: getEnv("CATALOG_SERVICE_URL", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		Currency:           getEnv("CURRENCY", "USD"),
		CartTTL:            getEnvDuration("CART_TTL", 0),
		MaxQuantityPerLine: getEnvInt("MAX_QTY_PER_LINE", 99),
		ReservationTTL:     getEnvDuration("RESERVATION_TTL", 5*time.Minute),
		AttemptTTL:         getEnvDuration("ATTEMPT_TTL", 90*time.Second),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		KeyRetention:       getEnvDuration("IDEMPOTENCY_RETENTION", 24*time.Hour),

		PaymentProvider:       getEnv("PAYMENT_PROVIDER", "simulated"),
		PaymentDefaultOutcome: getEnv("PAYMENT_DEFAULT_OUTCOME", "approved"),
		PaymentDeclineTokens:  splitCSV(getEnv("PAYMENT_DECLINE_TOKENS", "card_declined")),
		PaymentErrorTokens:    splitCSV(getEnv("PAYMENT_ERROR_TOKENS", "card_error")),
		PaymentDeclineOver:    getEnv("PAYMENT_DECLINE_OVER", ""),

		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		SeedDemo: getEnvBool("SEED_DEMO", false),
	}

	// fall back rather than boot with a currency the ledger can't record
	if _, err := currency.ParseISO(cfg.Currency); err != nil {
		cfg.Currency = "USD"
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
