// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port        string `validate:"required"`
	AppURL      string `validate:"required,url"`
	DatabaseURL string
	StorageRoot string `validate:"required"`

	WorkerCount       int           `validate:"min=1"`
	QueueSize         int           `validate:"min=1"`
	TranscribeTimeout time.Duration `validate:"min=1s"`

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	MailFrom     string `validate:"omitempty,email"`

	SentryDSN string
}

// Load builds the config from env with local-friendly defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:         envOr("PORT", "8080"),
		AppURL:       envOr("APP_URL", "http://localhost:8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StorageRoot:  envOr("STORAGE_ROOT", "storage"),
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     envOr("SMTP_PORT", "587"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     os.Getenv("MAIL_FROM"),
		SentryDSN:    os.Getenv("SENTRY_DSN"),
	}

	var err error
	if cfg.WorkerCount, err = envInt("WORKER_COUNT", 4); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = envInt("QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}

	timeoutSec, err := envInt("TRANSCRIBE_TIMEOUT_SEC", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscribeTimeout = time.Duration(timeoutSec) * time.Second

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
