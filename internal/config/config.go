package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	PostgresDSN  string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	// Gateway handshake. The salt is handed to the signature service at
	// construction and never persisted anywhere.
	GatewayURL   string
	MerchantKey  string
	MerchantSalt string
	SuccessURL   string
	FailureURL   string

	PlatformFeePercent decimal.Decimal

	ReservationTTL time.Duration
	OrderTTL       time.Duration
	IdempotencyTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		GatewayURL:   os.Getenv("GATEWAY_URL"),
		MerchantKey:  os.Getenv("MERCHANT_KEY"),
		MerchantSalt: os.Getenv("MERCHANT_SALT"),
		SuccessURL:   os.Getenv("GATEWAY_SUCCESS_URL"),
		FailureURL:   os.Getenv("GATEWAY_FAILURE_URL"),

		PlatformFeePercent: envDecimal("PLATFORM_FEE_PERCENT", "10"),

		ReservationTTL: envDuration("RESERVATION_TTL", 10*time.Minute),
		OrderTTL:       envDuration("ORDER_TTL", 10*time.Minute),
		IdempotencyTTL: envDuration("IDEMPOTENCY_TTL", time.Hour),
	}, nil
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d == 0 {
		return def
	}
	return d
}

func envDecimal(key, def string) decimal.Decimal {
	d, err := decimal.NewFromString(os.Getenv(key))
	if err != nil {
		return decimal.RequireFromString(def)
	}
	return d
}
