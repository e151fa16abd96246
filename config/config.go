package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	// StoreBackend is "postgres" or "memory".
	StoreBackend string
	Database     DatabaseConfig
	Auth         AuthConfig
	Events       EventsConfig
	Log          LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// AuthConfig holds credential and session token settings.
// JWTSecret must never be logged; use LogValue when logging the struct.
type AuthConfig struct {
	JWTSecret         string
	JWTAlgorithm      string
	HashAlgorithm     string
	HashCost          int
	HashWorkers       int
	TokenTTL          time.Duration
	PasswordMinLength int
}

type EventsConfig struct {
	// Backend is "none", "rabbitmq" or "pubsub".
	Backend  string
	Channel  string
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL          string
	QueueDurable bool
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsFile string
}

type LogConfig struct {
	Format string
	Level  string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "auth"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "auth_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	authConfig := AuthConfig{
		JWTSecret:         strings.TrimSpace(getEnv("JWT_SECRET", "")),
		JWTAlgorithm:      getEnv("JWT_ALGORITHM", "HS256"),
		HashAlgorithm:     getEnv("HASH_ALGORITHM", "bcrypt"),
		HashCost:          getEnvInt("HASH_COST", 0),
		HashWorkers:       getEnvInt("HASH_WORKERS", 0),
		TokenTTL:          getEnvDuration("TOKEN_TTL", 24*time.Hour),
		PasswordMinLength: getEnvInt("PASSWORD_MIN_LENGTH", 1),
	}

	eventsConfig := EventsConfig{
		Backend: getEnv("EVENTS_BACKEND", "none"),
		Channel: getEnv("EVENTS_CHANNEL", "auth.events"),
		RabbitMQ: RabbitMQConfig{
			URL:          getEnv("RABBITMQ_URL", ""),
			QueueDurable: getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
		},
		PubSub: PubSubConfig{
			ProjectID:       getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
		},
	}

	return Config{
		ServerPort:   getEnvInt("SERVER_PORT", 8080),
		StoreBackend: getEnv("STORE_BACKEND", "postgres"),
		Database:     dbConfig,
		Auth:         authConfig,
		Events:       eventsConfig,
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "json"),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must not be negative, got %s", c.Auth.TokenTTL))
	}
	switch c.StoreBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be postgres or memory, got %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

// LogValue implements slog.LogValuer and leaves the signing secret out.
func (a AuthConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("jwt_algorithm", a.JWTAlgorithm),
		slog.Bool("jwt_secret_set", a.JWTSecret != ""),
		slog.String("hash_algorithm", a.HashAlgorithm),
		slog.Int("hash_cost", a.HashCost),
		slog.Int("hash_workers", a.HashWorkers),
		slog.Duration("token_ttl", a.TokenTTL),
		slog.Int("password_min_length", a.PasswordMinLength),
	)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15m", "24h") or "0" to disable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
