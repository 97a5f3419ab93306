package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPaymentPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Sweeper   SweeperConfig
	Email     EmailConfig

	// PaymentInitTTL is how long an initiated payment may wait for its
	// first gateway confirmation before the sweeper marks it expired.
	PaymentInitTTL time.Duration
}

// EmailConfig configures the SMTP notifier. An empty host disables sending.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// RateLimitConfig throttles payment initiations per student. Disabled unless
// a redis address is configured.
type RateLimitConfig struct {
	Enabled       bool
	InitiateRate  float64
	InitiateBurst int
}

// SweeperConfig drives the background job that expires stale PENDING payments.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

// GatewayConfig configures the external payment gateway client.
type GatewayConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Currency    string
	Channels    []string
	Timeout     time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "academy"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "academy"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Gateway: GatewayConfig{
			SecretKey:   strings.TrimSpace(getenv("GATEWAY_SECRET_KEY", "")),
			BaseURL:     strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.paystack.co"), "/"),
			CallbackURL: strings.TrimSpace(getenv("GATEWAY_CALLBACK_URL", "")),
			Currency:    strings.ToUpper(getenv("GATEWAY_CURRENCY", "NGN")),
			Channels:    parseList(getenv("GATEWAY_CHANNELS", "card,bank_transfer")),
			Timeout:     getenvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},

		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@brightmont.academy"),
		},

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			InitiateRate:  getenvFloat("RATE_LIMIT_INITIATE_RATE", 0.5),
			InitiateBurst: getenvInt("RATE_LIMIT_INITIATE_BURST", 5),
		},

		Sweeper: SweeperConfig{
			Interval:  getenvDuration("SWEEPER_INTERVAL", time.Minute),
			BatchSize: getenvInt("SWEEPER_BATCH_SIZE", 100),
			LockTTL:   getenvDuration("SWEEPER_LOCK_TTL", 5*time.Minute),
		},

		PaymentInitTTL: getenvDuration("PAYMENT_INIT_TTL", 30*time.Minute),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
