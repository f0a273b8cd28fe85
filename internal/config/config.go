package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetFloatEnv returns a float environment variable or a default value.
func GetFloatEnv(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// GetDurationEnv returns a duration environment variable or a default value.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func IsProduction() bool {
	return GetEnv("ENV", "development") == "production"
}

// DatabaseConfig holds the Postgres connection settings and pool sizing.
type DatabaseConfig struct {
	Host            string
	User            string
	Password        string
	Name            string
	Port            string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// StripeConfig holds the payment gateway credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// EscrowConfig holds the business parameters of the escrow flow.
type EscrowConfig struct {
	PlatformFeeRate   float64
	Currency          string
	AppBaseURL        string
	CodeMaxAttempts   int
	CodeAttemptWindow time.Duration
	ClaimTTL          time.Duration
}

// KafkaConfig holds the broker list and the chat topic.
type KafkaConfig struct {
	Brokers   []string
	ChatTopic string
}

// Config is the full application configuration.
type Config struct {
	Port        string
	JWTSecret   string
	CORSOrigins string
	Database    DatabaseConfig
	Redis       RedisConfig
	Stripe      StripeConfig
	Escrow      EscrowConfig
	Kafka       KafkaConfig
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port:        GetEnv("PORT", "3000"),
		JWTSecret:   GetEnv("JWT_SECRET", "bazaar"),
		CORSOrigins: GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		Database: DatabaseConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "bazaar"),
			Port:            GetEnv("DB_PORT", "5432"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		Stripe: StripeConfig{
			SecretKey:     GetEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Escrow: EscrowConfig{
			PlatformFeeRate:   GetFloatEnv("PLATFORM_FEE_RATE", 0.05),
			Currency:          GetEnv("CURRENCY", "usd"),
			AppBaseURL:        strings.TrimRight(GetEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
			CodeMaxAttempts:   GetIntEnv("CODE_MAX_ATTEMPTS", 5),
			CodeAttemptWindow: GetDurationEnv("CODE_ATTEMPT_WINDOW", 15*time.Minute),
			ClaimTTL:          GetDurationEnv("ESCROW_CLAIM_TTL", 2*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:   splitList(GetEnv("KAFKA_BROKERS", "")),
			ChatTopic: GetEnv("CHAT_TOPIC", "chat.system-message"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
