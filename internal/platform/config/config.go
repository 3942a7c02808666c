// Package config loads and validates service configuration from the
// environment. Components never read ambient state; everything they
// need arrives through this struct.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// QuotaMode selects the active aggregate-capacity policy.
type QuotaMode string

const (
	// QuotaFreeSpace rejects uploads that would push free space on the
	// storage volume below the configured floor.
	QuotaFreeSpace QuotaMode = "free-space"
	// QuotaTotalUsage rejects uploads that would push the sum of stored
	// archives above the configured ceiling.
	QuotaTotalUsage QuotaMode = "total-usage"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Addr string

	// BaseURL is the externally reachable origin, used when building
	// download links embedded in notification mail.
	BaseURL string

	// DatabaseURL is the postgres DSN; empty selects the in-memory
	// submission store (development only).
	DatabaseURL string

	// StorageDir is the permanent archive root; ScratchDir holds
	// in-flight chunk sessions and reassembled artifacts.
	StorageDir string
	ScratchDir string

	MaxFileSize    int64
	QuotaMode      QuotaMode
	MinFreeSpace   int64
	MaxArchiveSize int64

	SessionMaxAge time.Duration
	SweepInterval time.Duration

	RecaptchaSiteKey   string
	RecaptchaSecretKey string
	RecaptchaVerifyURL string

	AdminToken string

	DownloadTokenKey string
	DownloadTokenTTL time.Duration

	AdminEmail   string
	ReplyTo      string
	SubjectAdmin string
	SubjectUser  string
	SMTPAddr     string
	SMTPFrom     string
	SMTPUser     string
	SMTPPassword string

	LogLevel slog.Level
}

// FromEnv builds a Config from environment variables, applying defaults
// and validating required values.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:               envDefault("SPORTELLO_ADDR", ":8080"),
		BaseURL:            envDefault("SPORTELLO_BASE_URL", "http://localhost:8080"),
		DatabaseURL:        os.Getenv("SPORTELLO_DATABASE_URL"),
		StorageDir:         envDefault("SPORTELLO_STORAGE_DIR", "/var/lib/sportello/archives"),
		ScratchDir:         envDefault("SPORTELLO_SCRATCH_DIR", "/var/lib/sportello/scratch"),
		RecaptchaSiteKey:   os.Getenv("SPORTELLO_RECAPTCHA_SITE_KEY"),
		RecaptchaSecretKey: os.Getenv("SPORTELLO_RECAPTCHA_SECRET_KEY"),
		RecaptchaVerifyURL: envDefault("SPORTELLO_RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		AdminToken:         os.Getenv("SPORTELLO_ADMIN_TOKEN"),
		DownloadTokenKey:   os.Getenv("SPORTELLO_DOWNLOAD_TOKEN_KEY"),
		AdminEmail:         os.Getenv("SPORTELLO_ADMIN_EMAIL"),
		ReplyTo:            os.Getenv("SPORTELLO_REPLY_TO"),
		SubjectAdmin:       envDefault("SPORTELLO_SUBJECT_ADMIN", "Nuova Submission File Ricevuta"),
		SubjectUser:        envDefault("SPORTELLO_SUBJECT_USER", "Conferma Ricezione Richiesta"),
		SMTPAddr:           os.Getenv("SPORTELLO_SMTP_ADDR"),
		SMTPFrom:           os.Getenv("SPORTELLO_SMTP_FROM"),
		SMTPUser:           os.Getenv("SPORTELLO_SMTP_USER"),
		SMTPPassword:       os.Getenv("SPORTELLO_SMTP_PASSWORD"),
	}

	var err error

	// 500 MB per file by default, matching the original deployment.
	if cfg.MaxFileSize, err = envInt64("SPORTELLO_MAX_FILE_SIZE", 524288000); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("SPORTELLO_MAX_FILE_SIZE must be positive")
	}

	mode := QuotaMode(envDefault("SPORTELLO_QUOTA_MODE", string(QuotaFreeSpace)))
	if mode != QuotaFreeSpace && mode != QuotaTotalUsage {
		return nil, fmt.Errorf("SPORTELLO_QUOTA_MODE: unknown mode %q (want %q or %q)", mode, QuotaFreeSpace, QuotaTotalUsage)
	}
	cfg.QuotaMode = mode

	// 2 GB free-space floor and 2 GB aggregate ceiling by default.
	if cfg.MinFreeSpace, err = envInt64("SPORTELLO_MIN_FREE_SPACE", 2147483648); err != nil {
		return nil, err
	}
	if cfg.MinFreeSpace < 0 {
		return nil, fmt.Errorf("SPORTELLO_MIN_FREE_SPACE must not be negative")
	}
	if cfg.MaxArchiveSize, err = envInt64("SPORTELLO_MAX_ARCHIVE_SIZE", 2147483648); err != nil {
		return nil, err
	}
	if cfg.MaxArchiveSize <= 0 {
		return nil, fmt.Errorf("SPORTELLO_MAX_ARCHIVE_SIZE must be positive")
	}

	if cfg.SessionMaxAge, err = envDuration("SPORTELLO_SESSION_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SPORTELLO_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.DownloadTokenTTL, err = envDuration("SPORTELLO_DOWNLOAD_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.DownloadTokenKey == "" {
		return nil, fmt.Errorf("SPORTELLO_DOWNLOAD_TOKEN_KEY is required")
	}

	switch envDefault("SPORTELLO_LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("SPORTELLO_LOG_LEVEL: unknown level %q", os.Getenv("SPORTELLO_LOG_LEVEL"))
	}

	return cfg, nil
}

// BotCheckEnabled reports whether the anti-bot verifier is configured.
// Both keys must be present; otherwise the pipeline skips the check.
func (c *Config) BotCheckEnabled() bool {
	return c.RecaptchaSiteKey != "" && c.RecaptchaSecretKey != ""
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive", key)
	}
	return d, nil
}
