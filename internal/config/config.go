package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port       string
	CORSOrigin string
	PublicURL  string
	LogLevel   slog.Level

	// Document store
	StoreDriver   string
	MongoURI      string
	MongoDatabase string

	// Auth
	JWTSecret     string
	TokenTTL      time.Duration
	RedisURL      string
	ResetTokenTTL time.Duration

	// Live session
	NotificationDismiss   time.Duration
	DefaultMasterPassword string
	DefaultUserPassword   string
	BootstrapEmail        string
	BootstrapPassword     string

	// Push delivery
	PushEndpoint  string
	PushServerKey string

	// SMTP, email disabled if not configured
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

func Load() Config {
	return Config{
		Port:       getenv("API_PORT", "8080"),
		CORSOrigin: getenv("CORS_ORIGIN", "http://localhost:5173"),
		PublicURL:  getenv("PUBLIC_URL", "http://localhost:5173"),
		LogLevel:   parseLevel(getenv("LOG_LEVEL", "info")),

		StoreDriver:   getenv("STORE_DRIVER", "mongo"),
		MongoURI:      getenv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDatabase: getenv("MONGO_DATABASE", "gestorpro"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenTTL:      time.Duration(getenvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		RedisURL:      os.Getenv("REDIS_URL"),
		ResetTokenTTL: time.Duration(getenvInt("RESET_TOKEN_TTL_MINUTES", 60)) * time.Minute,

		NotificationDismiss:   time.Duration(getenvInt("NOTIFICATION_DISMISS_SECONDS", 5)) * time.Second,
		DefaultMasterPassword: getenv("DEFAULT_MASTER_PASSWORD", "002219"),
		DefaultUserPassword:   getenv("DEFAULT_USER_PASSWORD", "123mudar"),
		BootstrapEmail:        os.Getenv("BOOTSTRAP_MASTER_EMAIL"),
		BootstrapPassword:     os.Getenv("BOOTSTRAP_MASTER_PASSWORD"),

		PushEndpoint:  os.Getenv("PUSH_ENDPOINT"),
		PushServerKey: os.Getenv("PUSH_SERVER_KEY"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
