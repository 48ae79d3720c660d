package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultMaxStorage = 200 << 20 // 200 MiB per user

type Config struct {
	Addr           string
	DatabaseURL    string
	JWTSecret      string
	UploadDir      string
	MaxStorage     int64
	PresenceTTL    time.Duration
	AllowedOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           getEnv("ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      getEnv("JWT_SECRET", "secret-key"),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MaxStorage:     defaultMaxStorage,
		PresenceTTL:    60 * time.Second,
		AllowedOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
	}

	if v := os.Getenv("MAX_STORAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, errors.New("invalid MAX_STORAGE_BYTES")
		}
		cfg.MaxStorage = n
	}

	if v := os.Getenv("PRESENCE_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("invalid PRESENCE_TTL_SECONDS")
		}
		cfg.PresenceTTL = time.Duration(n) * time.Second
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
