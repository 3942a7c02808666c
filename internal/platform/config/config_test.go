package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SPORTELLO_DOWNLOAD_TOKEN_KEY", "test-key")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(524288000), cfg.MaxFileSize)
	assert.Equal(t, QuotaFreeSpace, cfg.QuotaMode)
	assert.Equal(t, 24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.BotCheckEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SPORTELLO_ADDR", ":9090")
	t.Setenv("SPORTELLO_MAX_FILE_SIZE", "1048576")
	t.Setenv("SPORTELLO_QUOTA_MODE", "total-usage")
	t.Setenv("SPORTELLO_MAX_ARCHIVE_SIZE", "2097152")
	t.Setenv("SPORTELLO_SESSION_MAX_AGE", "12h")
	t.Setenv("SPORTELLO_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.Equal(t, QuotaTotalUsage, cfg.QuotaMode)
	assert.Equal(t, int64(2097152), cfg.MaxArchiveSize)
	assert.Equal(t, 12*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]struct {
		key, value string
	}{
		"missing token key":  {"SPORTELLO_DOWNLOAD_TOKEN_KEY", ""},
		"bad quota mode":     {"SPORTELLO_QUOTA_MODE", "disk"},
		"bad max file size":  {"SPORTELLO_MAX_FILE_SIZE", "lots"},
		"zero max file size": {"SPORTELLO_MAX_FILE_SIZE", "0"},
		"bad sweep interval": {"SPORTELLO_SWEEP_INTERVAL", "yearly"},
		"negative max age":   {"SPORTELLO_SESSION_MAX_AGE", "-1h"},
		"bad log level":      {"SPORTELLO_LOG_LEVEL", "loud"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestBotCheckEnabled(t *testing.T) {
	setRequired(t)
	t.Setenv("SPORTELLO_RECAPTCHA_SITE_KEY", "site")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.BotCheckEnabled(), "site key alone must not enable the check")

	t.Setenv("SPORTELLO_RECAPTCHA_SECRET_KEY", "secret")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.BotCheckEnabled())
}
