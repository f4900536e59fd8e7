package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/willianmendesf/whatsapp-sender/internal/constants"
	"github.com/willianmendesf/whatsapp-sender/internal/models"
	"github.com/willianmendesf/whatsapp-sender/internal/security"
	"github.com/willianmendesf/whatsapp-sender/internal/validation"
)

var (
	ErrMissingWhatsAppURL = models.ConfigError{Message: "missing WhatsApp API URL"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
)

// LoadDotEnv loads variables from an optional .env file. Variables already
// present in the environment win.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads a JSON or YAML configuration file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	data, format, err := coerceToJSONBytes(path, file)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	c.WhatsApp.APIBaseURL = strings.TrimRight(c.WhatsApp.APIBaseURL, "/")

	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.WhatsApp.SessionName == "" {
		c.WhatsApp.SessionName = constants.DefaultSessionName
	}
	if err := validation.ValidateSessionName(c.WhatsApp.SessionName); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid whatsapp session: %v", err)}
	}
	if c.WhatsApp.TimeoutMs <= 0 {
		c.WhatsApp.TimeoutMs = constants.DefaultHTTPTimeoutSec * 1000
	}
	if c.WhatsApp.RetryCount <= 0 {
		c.WhatsApp.RetryCount = constants.DefaultRetryCount
	}
	switch c.WhatsApp.EventSource {
	case "":
		c.WhatsApp.EventSource = constants.DefaultEventSource
	case constants.EventSourceWebsocket, constants.EventSourceWebhook:
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown whatsapp event source %q (use \"websocket\" or \"webhook\")", c.WhatsApp.EventSource)}
	}
	if c.WhatsApp.StatusPollSec < 0 {
		c.WhatsApp.StatusPollSec = 0
	}

	if err := validateFallbackMode(c.Fallback.Mode); err != nil {
		return err
	}
	if c.Fallback.Mode == "" {
		c.Fallback.Mode = constants.FallbackModeForward
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.CleanupSchedule == "" {
		c.Server.CleanupSchedule = constants.DefaultCleanupSchedule
	}

	if c.Media.MaxDownloadMB <= 0 {
		c.Media.MaxDownloadMB = constants.DefaultMaxDownloadMB
	}
	if c.Media.DownloadTimeoutSec <= 0 {
		c.Media.DownloadTimeoutSec = constants.DefaultMediaDownloadTimeoutS
	}

	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = constants.DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = constants.DefaultLogMaxBackups
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = constants.DefaultLogMaxAgeDays
	}

	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = constants.DefaultRateLimitRequests
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = constants.DefaultRateLimitWindowSec
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid retentionDays: %v", err)}
	}
	return nil
}

func validateFallbackMode(mode string) error {
	switch mode {
	case "", constants.FallbackModeForward, constants.FallbackModeAlert:
		return nil
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown fallback mode %q (use %q or %q)", mode, constants.FallbackModeForward, constants.FallbackModeAlert)}
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}
	if key := os.Getenv("WHATSAPP_API_KEY"); key != "" {
		c.WhatsApp.APIKey = key
	}
	if session := os.Getenv("WHATSAPP_SESSION"); session != "" {
		c.WhatsApp.SessionName = session
	}

	// SECURITY: Webhook secrets should be set via environment variables
	if secret := os.Getenv("WHATSAPP_WEBHOOK_SECRET"); secret != "" {
		c.WhatsApp.WebhookSecret = secret
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if secret := os.Getenv("DB_ENCRYPTION_SECRET"); secret != "" {
		c.Database.EncryptionSecret = secret
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		c.Log.File = file
	}
	if mode := os.Getenv("FALLBACK_MODE"); mode != "" {
		c.Fallback.Mode = mode
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		c.Server.Environment = env
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Database.EncryptionSecret != "" && len(c.Database.EncryptionSecret) < 32 {
		return models.ConfigError{Message: "database encryption secret must be at least 32 characters long"}
	}

	if c.Server.Environment != "production" {
		if c.WhatsApp.EventSource == constants.EventSourceWebhook && c.WhatsApp.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: WhatsApp webhook secret not set. Set WHATSAPP_WEBHOOK_SECRET environment variable for security.\n")
		}
		return nil
	}

	if c.WhatsApp.EventSource == constants.EventSourceWebhook {
		if c.WhatsApp.WebhookSecret == "" {
			return models.ConfigError{Message: "WhatsApp webhook secret is required in production (set WHATSAPP_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.WhatsApp.WebhookSecret) < 32 {
			return models.ConfigError{Message: "WhatsApp webhook secret must be at least 32 characters long"}
		}
	}

	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}

	return nil
}
