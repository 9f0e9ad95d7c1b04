package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"llm_fanout/internal/payments"
)

// Balance store backends
const (
	BalanceBackendRedis    = "redis"
	BalanceBackendPostgres = "postgres"
)

// Config holds configuration for the service.
type Config struct {
	HTTP        HTTPConfig
	Auth        AuthConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Encryption  EncryptionConfig
	Provider    ProviderConfig
	Billing     BillingConfig
	Stripe      StripeConfig
	Logging     LoggingConfig
	LoggingSink LoggingSinkConfig
}

// HTTPConfig holds server settings
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds session token settings
type AuthConfig struct {
	JWTSecret []byte
	Issuer    string // empty accepts any issuer
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EncryptionConfig holds the credential encryption key
type EncryptionConfig struct {
	Key []byte // 32 bytes
}

// ProviderConfig holds provider-related settings
type ProviderConfig struct {
	RequestTimeout        time.Duration // bound on each provider call
	OpenAIBaseURL         string
	AnthropicBaseURL      string
	AnthropicMaxTokens    int
	GeminiMaxOutputTokens int

	// Platform keys, used for users on platform credits
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	DefaultSummaryModel string
}

// BillingConfig holds metering settings
type BillingConfig struct {
	Backend            string // redis or postgres
	FreeTokenAllowance int64  // refilled monthly
	OutputReserve      int64  // tokens reserved for the answer when admitting a call
}

// StripeConfig holds payment settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Prices        payments.PriceTable
	SuccessURL    string
	CancelURL     string
}

// Enabled reports whether checkout and webhooks can be served
func (s StripeConfig) Enabled() bool {
	return s.SecretKey != "" && s.WebhookSecret != ""
}

// LoggingConfig holds application log settings
type LoggingConfig struct {
	Level    string
	JSON     bool
	FilePath string // rotating log file, empty for stderr only
}

// LoggingSinkConfig holds configuration for the S3 activity log
type LoggingSinkConfig struct {
	Enabled       bool
	UseRedis      bool          // queue records in Redis instead of memory
	BatchSize     int           // records per S3 object
	FlushInterval time.Duration // upload a partial batch after this duration
	MaxRetries    int
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	S3Endpoint    string // optional, for S3-compatible stores
	PodName       string // distinguishes replicas in object keys
}

// env parses the variable named key, falling back to def when it is unset
// or does not parse.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func parseString(s string) (string, error) { return s, nil }

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func getEnvInt(key string, def int) int { return env(key, def, strconv.Atoi) }
func getEnvInt64(key string, def int64) int64 { return env(key, def, parseInt64) }
func getEnvBool(key string, def bool) bool { return env(key, def, strconv.ParseBool) }
func getEnvString(key, def string) string { return env(key, def, parseString) }
func getEnvDuration(key string, def time.Duration) time.Duration {
	return env(key, def, time.ParseDuration)
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	encryptionKey, err := parseEncryptionKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}

	prices, err := payments.ParsePriceTable(os.Getenv("STRIPE_PRICE_TOKENS"))
	if err != nil {
		return nil, fmt.Errorf("STRIPE_PRICE_TOKENS: %w", err)
	}

	backend := strings.ToLower(getEnvString("BALANCE_BACKEND", BalanceBackendRedis))
	if backend != BalanceBackendRedis && backend != BalanceBackendPostgres {
		return nil, fmt.Errorf("BALANCE_BACKEND must be %q or %q, got %q", BalanceBackendRedis, BalanceBackendPostgres, backend)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:            getEnvString("HTTP_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: []byte(jwtSecret),
			Issuer:    getEnvString("JWT_ISSUER", ""),
		},
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Encryption: EncryptionConfig{Key: encryptionKey},
		Provider: ProviderConfig{
			RequestTimeout:        getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
			OpenAIBaseURL:         getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AnthropicBaseURL:      getEnvString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			AnthropicMaxTokens:    getEnvInt("ANTHROPIC_MAX_TOKENS", 4096),
			GeminiMaxOutputTokens: getEnvInt("GEMINI_MAX_OUTPUT_TOKENS", 0),
			OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
			AnthropicAPIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
			DefaultSummaryModel:   getEnvString("SUMMARY_MODEL", "gemini-1.5-flash"),
		},
		Billing: BillingConfig{
			Backend:            backend,
			FreeTokenAllowance: getEnvInt64("FREE_TOKEN_ALLOWANCE", 50_000),
			OutputReserve:      getEnvInt64("BILLING_OUTPUT_RESERVE", 1024),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			Prices:        prices,
			SuccessURL:    getEnvString("STRIPE_SUCCESS_URL", "http://localhost:3000/billing/success"),
			CancelURL:     getEnvString("STRIPE_CANCEL_URL", "http://localhost:3000/billing/cancel"),
		},
		Logging: LoggingConfig{
			Level:    getEnvString("LOG_LEVEL", "info"),
			JSON:     getEnvBool("LOG_JSON", false),
			FilePath: getEnvString("LOG_FILE_PATH", ""),
		},
		LoggingSink: LoggingSinkConfig{
			Enabled:       getEnvBool("LOGGING_SINK_ENABLED", false),
			UseRedis:      getEnvBool("LOGGING_SINK_USE_REDIS", true),
			BatchSize:     getEnvInt("LOGGING_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("LOGGING_SINK_FLUSH_INTERVAL", 5*time.Minute),
			MaxRetries:    getEnvInt("LOGGING_SINK_MAX_RETRIES", 3),
			S3Bucket:      getEnvString("LOGGING_SINK_S3_BUCKET", ""),
			S3Region:      getEnvString("LOGGING_SINK_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("LOGGING_SINK_S3_PREFIX", "logs/"),
			S3Endpoint:    getEnvString("LOGGING_SINK_S3_ENDPOINT", ""),
			PodName:       getEnvString("POD_NAME", "fanout-0"),
		},
	}

	if cfg.LoggingSink.Enabled && cfg.LoggingSink.S3Bucket == "" {
		return nil, fmt.Errorf("LOGGING_SINK_S3_BUCKET is required when LOGGING_SINK_ENABLED is set")
	}

	return cfg, nil
}

func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(encoded) != 64 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be valid hex: %w", err)
	}
	return key, nil
}
