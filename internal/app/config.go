package app

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"etesti/internal/db"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	HTTPAddr          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int

	CORSOrigin     string
	BodyLimitBytes int64
	CSRFEnforced   bool

	RateLimitWindow     time.Duration
	RateLimitMax        int
	AuthRateLimitMax    int
	RedisURL            string
	FirebaseProjectID   string
	FirebaseCertsURL    string
	StorageBucket       string
	StorageCredentials  string
	StorageMaxImageSize int

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = db.DSNFromParts(
			envOrDefault("DATABASE_HOST", "localhost"),
			intOrDefault("DATABASE_PORT", 5432),
			envOrDefault("DATABASE_USER", "postgres"),
			os.Getenv("DATABASE_PASSWORD"),
			envOrDefault("DATABASE_NAME", "etesti_db"),
			!boolOrDefault("DATABASE_SSL", false),
		)
	}

	return Config{
		AppEnv:              envOrDefault("APP_ENV", "development"),
		HTTPAddr:            httpAddr(),
		DBDSN:               dsn,
		DBMaxOpenConns:      intOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:      intOrDefault("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifeMins:   intOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		CORSOrigin:          envOrDefault("CORS_ORIGIN", "http://localhost:3000"),
		BodyLimitBytes:      int64(intOrDefault("BODY_LIMIT_BYTES", 10<<20)),
		CSRFEnforced:        boolOrDefault("CSRF_ENFORCED", false),
		RateLimitWindow:     time.Duration(intOrDefault("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,
		RateLimitMax:        intOrDefault("RATE_LIMIT_MAX_REQUESTS", 1000),
		AuthRateLimitMax:    intOrDefault("AUTH_RATE_LIMIT_MAX", 100),
		RedisURL:            os.Getenv("REDIS_URL"),
		FirebaseProjectID:   os.Getenv("FIREBASE_PROJECT_ID"),
		FirebaseCertsURL:    os.Getenv("FIREBASE_CERTS_URL"),
		StorageBucket:       os.Getenv("FIREBASE_STORAGE_BUCKET"),
		StorageCredentials:  os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		StorageMaxImageSize: intOrDefault("STORAGE_MAX_IMAGE_WIDTH", 1600),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            intOrDefault("SMTP_PORT", 587),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPass:            os.Getenv("SMTP_PASS"),
		SMTPFrom:            envOrDefault("SMTP_FROM", "noreply@etesti.local"),
	}
}

func httpAddr() string {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		return v
	}
	return ":" + envOrDefault("PORT", "3000")
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsToInt(v string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(v))
	return n
}

func intOrDefault(key string, fallback int) int {
	v := stringsToInt(os.Getenv(key))
	if v <= 0 {
		return fallback
	}
	return v
}

func boolOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
