package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WHATSAPP_API_URL", "WHATSAPP_API_KEY", "WHATSAPP_SESSION", "WHATSAPP_WEBHOOK_SECRET",
		"PORT", "DB_PATH", "DB_ENCRYPTION_SECRET", "LOG_FILE", "FALLBACK_MODE", "APP_ENV",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_JSONDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{
		"whatsapp": {"api_base_url": "http://waha:3000/"},
		"database": {"path": "sender.db"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://waha:3000", cfg.WhatsApp.APIBaseURL)
	assert.Equal(t, constants.DefaultSessionName, cfg.WhatsApp.SessionName)
	assert.Equal(t, constants.DefaultEventSource, cfg.WhatsApp.EventSource)
	assert.Equal(t, constants.FallbackModeForward, cfg.Fallback.Mode)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultCleanupSchedule, cfg.Server.CleanupSchedule)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, constants.DefaultRateLimitRequests, cfg.RateLimit.Requests)
}

func TestLoadConfig_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
whatsapp:
  api_base_url: http://waha:3000
  session_name: sales
  eventSource: webhook
database:
  path: sender.db
fallback:
  mode: alert
server:
  port: 8080
log_level: warn
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sales", cfg.WhatsApp.SessionName)
	assert.Equal(t, "webhook", cfg.WhatsApp.EventSource)
	assert.Equal(t, constants.FallbackModeAlert, cfg.Fallback.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WHATSAPP_API_URL", "http://override:3000")
	t.Setenv("WHATSAPP_API_KEY", "key-from-env")
	t.Setenv("WHATSAPP_SESSION", "env-session")
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("LOG_FILE", "/tmp/sender.log")
	t.Setenv("FALLBACK_MODE", "alert")

	path := writeConfig(t, "config.json", `{"database": {"path": "file.db"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://override:3000", cfg.WhatsApp.APIBaseURL)
	assert.Equal(t, "key-from-env", cfg.WhatsApp.APIKey)
	assert.Equal(t, "env-session", cfg.WhatsApp.SessionName)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "/tmp/sender.log", cfg.Log.File)
	assert.Equal(t, "alert", cfg.Fallback.Mode)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		file    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing url",
			content: `{"database": {"path": "x.db"}}`,
			wantErr: ErrMissingWhatsAppURL.Message,
		},
		{
			name:    "missing db path",
			content: `{"whatsapp": {"api_base_url": "http://waha"}}`,
			wantErr: ErrMissingDBPath.Message,
		},
		{
			name:    "unknown fallback mode",
			content: `{"whatsapp": {"api_base_url": "http://waha"}, "database": {"path": "x.db"}, "fallback": {"mode": "broadcast"}}`,
			wantErr: "unknown fallback mode",
		},
		{
			name:    "unknown event source",
			content: `{"whatsapp": {"api_base_url": "http://waha", "eventSource": "poll"}, "database": {"path": "x.db"}}`,
			wantErr: "unknown whatsapp event source",
		},
		{
			name:    "invalid json",
			content: `{"whatsapp":`,
			wantErr: "decode json config",
		},
		{
			name:    "invalid yaml",
			file:    "config.yml",
			content: "whatsapp: [unclosed",
			wantErr: "yaml unmarshal",
		},
		{
			name:    "production webhook without secret",
			content: `{"whatsapp": {"api_base_url": "http://waha", "eventSource": "webhook"}, "database": {"path": "x.db"}}`,
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "webhook secret is required in production",
		},
		{
			name:    "production short secret",
			content: `{"whatsapp": {"api_base_url": "http://waha", "eventSource": "webhook", "webhook_secret": "short"}, "database": {"path": "x.db"}}`,
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "at least 32 characters",
		},
		{
			name:    "invalid session name",
			content: `{"whatsapp": {"api_base_url": "http://waha", "session_name": "bad name"}, "database": {"path": "x.db"}}`,
			wantErr: "invalid whatsapp session",
		},
		{
			name:    "retention too long",
			content: `{"whatsapp": {"api_base_url": "http://waha"}, "database": {"path": "x.db"}, "retentionDays": 5000}`,
			wantErr: "invalid retentionDays",
		},
		{
			name:    "short encryption secret",
			content: `{"whatsapp": {"api_base_url": "http://waha"}, "database": {"path": "x.db"}}`,
			env:     map[string]string{"DB_ENCRYPTION_SECRET": "too-short"},
			wantErr: "encryption secret must be at least 32",
		},
		{
			name:    "production debug logging",
			content: `{"whatsapp": {"api_base_url": "http://waha"}, "database": {"path": "x.db"}, "log_level": "debug"}`,
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "debug logging",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			name := tt.file
			if name == "" {
				name = "config.json"
			}
			_, err := LoadConfig(writeConfig(t, name, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_RejectsTraversal(t *testing.T) {
	_, err := LoadConfig("../../etc/config.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config path")
}

func TestLoadConfig_ConfigErrorType(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(writeConfig(t, "config.json", `{}`))
	require.Error(t, err)
	assert.IsType(t, models.ConfigError{}, err)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SENDER_DOTENV_TEST=loaded\n"), 0o600))
	t.Setenv("SENDER_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("SENDER_DOTENV_TEST"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("SENDER_DOTENV_TEST"))
}
