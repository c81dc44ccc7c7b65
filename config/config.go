package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	JWT       JWTConfig
	Mpesa     MpesaConfig
	Poll      PollConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // mysql | postgres
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type LogConfig struct {
	Level string
}

// JWTConfig guards the client routes when AccessSecret is set.
type JWTConfig struct {
	AccessSecret string
	Issuer       string
	AccessExpiry time.Duration
}

// MpesaConfig holds Daraja (Lipa na M-Pesa Online) credentials and endpoints.
type MpesaConfig struct {
	Provider        string // daraja | stub
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	CallbackURL     string // e.g. https://yourdomain.com/api/v1/webhooks/mpesa
	AccountRef      string
	TokenTimeout    time.Duration
	PushTimeout     time.Duration
}

// PollConfig bounds client-side status polling.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type ReconcileConfig struct {
	Enabled      bool
	Interval     time.Duration
	PendingAfter time.Duration
	BatchSize    int
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load builds the configuration once at process start. A .env file in the
// working directory is loaded first if present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 45*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "lipa:lipa@tcp(localhost:3306)/lipa?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		JWT: JWTConfig{
			AccessSecret: os.Getenv("JWT_ACCESS_SECRET"),
			Issuer:       getEnv("JWT_ISSUER", "lipa"),
			AccessExpiry: getDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Mpesa: MpesaConfig{
			Provider:        getEnv("MPESA_PROVIDER", "daraja"),
			BaseURL:         getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:     os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:  os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:       getEnv("MPESA_SHORTCODE", "174379"),
			PassKey:         os.Getenv("MPESA_PASSKEY"),
			TransactionType: getEnv("MPESA_TRANSACTION_TYPE", "CustomerPayBillOnline"),
			CallbackURL:     os.Getenv("MPESA_CALLBACK_URL"),
			AccountRef:      getEnv("MPESA_ACCOUNT_REF", "LIPA"),
			TokenTimeout:    getDuration("MPESA_TOKEN_TIMEOUT", 10*time.Second),
			PushTimeout:     getDuration("MPESA_PUSH_TIMEOUT", 20*time.Second),
		},
		Poll: PollConfig{
			Interval:    getDuration("POLL_INTERVAL", 3*time.Second),
			MaxAttempts: getInt("POLL_MAX_ATTEMPTS", 20),
		},
		Reconcile: ReconcileConfig{
			Enabled:      getBool("RECONCILE_ENABLED", true),
			Interval:     getDuration("RECONCILE_INTERVAL", time.Minute),
			PendingAfter: getDuration("RECONCILE_PENDING_AFTER", 3*time.Minute),
			BatchSize:    getInt("RECONCILE_BATCH_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			Requests: getInt("RATE_LIMIT_REQUESTS", 5),
			Window:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "payment_events"),
		},
	}
}

// Validate reports missing settings that would make the gateway unusable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be mysql or postgres, got %q", c.Database.Driver))
	}
	switch c.Mpesa.Provider {
	case "stub":
	case "daraja":
		required := map[string]string{
			"MPESA_CONSUMER_KEY":    c.Mpesa.ConsumerKey,
			"MPESA_CONSUMER_SECRET": c.Mpesa.ConsumerSecret,
			"MPESA_SHORTCODE":       c.Mpesa.ShortCode,
			"MPESA_PASSKEY":         c.Mpesa.PassKey,
			"MPESA_CALLBACK_URL":    c.Mpesa.CallbackURL,
		}
		for _, key := range []string{"MPESA_CONSUMER_KEY", "MPESA_CONSUMER_SECRET", "MPESA_SHORTCODE", "MPESA_PASSKEY", "MPESA_CALLBACK_URL"} {
			if required[key] == "" {
				errs = append(errs, fmt.Errorf("%s is required", key))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("MPESA_PROVIDER must be daraja or stub, got %q", c.Mpesa.Provider))
	}
	if c.Poll.MaxAttempts < 1 || c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL and POLL_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
