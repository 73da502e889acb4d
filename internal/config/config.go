package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string
	SnowflakeNode int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe      StripeConfig
	Entitlement EntitlementConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig

	Observability ObservabilityConfig

	TierCatalogPath string
}

// StripeConfig carries the billing provider credentials and tier price mapping.
type StripeConfig struct {
	SecretKey       string
	WebhookSecret   string
	SuccessURL      string
	CancelURL       string
	PriceBasic      string
	PricePro        string
	PriceEnterprise string
}

type EntitlementConfig struct {
	UpgradeURL       string
	PastDueGraceDays int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	APIRate  float64
	APIBurst int
}

type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	MetricsEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
	SamplingRatio  float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "classifieds"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "classifieds"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Stripe: StripeConfig{
			SecretKey:       strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:   strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			SuccessURL:      getenv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/subscription/success"),
			CancelURL:       getenv("CHECKOUT_CANCEL_URL", "http://localhost:3000/subscription"),
			PriceBasic:      strings.TrimSpace(getenv("STRIPE_PRICE_BASIC", "")),
			PricePro:        strings.TrimSpace(getenv("STRIPE_PRICE_PRO", "")),
			PriceEnterprise: strings.TrimSpace(getenv("STRIPE_PRICE_ENTERPRISE", "")),
		},
		Entitlement: EntitlementConfig{
			UpgradeURL:       getenv("UPGRADE_URL", "/subscription/upgrade"),
			PastDueGraceDays: getenvInt("PAST_DUE_GRACE_DAYS", 7),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
			LockTTL:  time.Duration(getenvInt("WEBHOOK_LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  getenvBool("API_RATE_LIMIT_ENABLED", false),
			APIRate:  getenvFloat("API_RATE_LIMIT_PER_SECOND", 5),
			APIBurst: getenvInt("API_RATE_LIMIT_BURST", 20),
		},
		TierCatalogPath: strings.TrimSpace(getenv("TIER_CATALOG_PATH", "")),
	}

	otelEnabled := getenvBool("OTEL_ENABLED", false)
	cfg.Observability = ObservabilityConfig{
		LogLevel:       strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:      strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		TracingEnabled: otelEnabled,
		MetricsEnabled: getenvBool("OTEL_METRICS_ENABLED", otelEnabled),
		OTLPEndpoint:   strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
		OTLPProtocol:   strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
