package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Ledger  LedgerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Rabbit  RabbitMQConfig
	Auth    AuthConfig
	Payout  PayoutConfig
	Pass    PassConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Port            string
	SyncPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type LedgerConfig struct {
	Owner             string
	OverpaymentPolicy string
}

type StoreConfig struct {
	Driver        string // memory, postgres, sqlite, redis or badger
	PostgresDSN   string
	SQLitePath    string
	BadgerDir     string
	MigrationsDir string
	AutoMigrate   bool
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	ConnectTries  int
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	KeyPrefix      string
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

// RabbitMQConfig enables the RabbitMQ publisher when URL is set.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type TopicConfig struct {
	TicketAdded       string
	TicketPurchased   string
	TreasuryWithdrawn string
}

type AuthConfig struct {
	JWTSecret  string
	OIDCIssuer string
}

type PayoutConfig struct {
	StripeSecretKey string
	Currency        string
	Destination     string
	Scale           int // ledger units per currency minor unit, as a power of ten
}

type PassConfig struct {
	SecretKey string
}

type LoggingConfig struct {
	Dir     string
	Service string
	Level   string
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverBadger   = "badger"
)

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8084"),
			SyncPort:        getEnv("SYNC_PORT", ":8085"),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 5)) * time.Second,
			AllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Ledger: LedgerConfig{
			Owner:             getEnv("LEDGER_OWNER", ""),
			OverpaymentPolicy: getEnv("OVERPAYMENT_POLICY", "retain"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "file:tiket.db?cache=shared"),
			BadgerDir:     getEnv("BADGER_DIR", "./data/badger"),
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnectTries:  getEnvInt("DB_CONNECT_TRIES", 5),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			KeyPrefix:      getEnv("REDIS_KEY_PREFIX", "tiket"),
			IdempotencyTTL: time.Duration(getEnvInt("IDEMPOTENCY_TTL_MINUTES", 10)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "ticket-sync"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				TicketAdded:       getEnv("KAFKA_TOPIC_TICKET_ADDED", "tiket.ticket.added"),
				TicketPurchased:   getEnv("KAFKA_TOPIC_TICKET_PURCHASED", "tiket.ticket.purchased"),
				TreasuryWithdrawn: getEnv("KAFKA_TOPIC_TREASURY_WITHDRAWN", "tiket.treasury.withdrawn"),
			},
		},
		Rabbit: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "tiket.ledger"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
		Payout: PayoutConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			Currency:        getEnv("PAYOUT_CURRENCY", "usd"),
			Destination:     getEnv("PAYOUT_DESTINATION", ""),
			Scale:           getEnvInt("PAYOUT_SCALE", 0),
		},
		Pass: PassConfig{
			SecretKey: getEnv("QR_SECRET_KEY", ""),
		},
		Logging: LoggingConfig{
			Dir:     getEnv("LOG_DIR", "logs"),
			Service: getEnv("LOG_SERVICE", "ticket-ledger"),
			Level:   getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

// Validate reports configuration that would stop the service from starting.
func (c *Config) Validate() error {
	var errs []error

	if c.Ledger.Owner == "" {
		errs = append(errs, errors.New("LEDGER_OWNER not set"))
	}
	switch c.Ledger.OverpaymentPolicy {
	case "retain", "reject":
	default:
		errs = append(errs, fmt.Errorf("OVERPAYMENT_POLICY must be retain or reject, got %q", c.Ledger.OverpaymentPolicy))
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverBadger:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN not set"))
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuer == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or OIDC_ISSUER must be set"))
	}
	if c.Payout.StripeSecretKey != "" && c.Payout.Destination == "" {
		errs = append(errs, errors.New("PAYOUT_DESTINATION not set"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS not set"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
