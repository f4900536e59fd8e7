package models

// Config holds the application configuration
type Config struct {
	Server        ServerConfig    `json:"server"`
	WhatsApp      WhatsAppConfig  `json:"whatsapp"`
	Database      DatabaseConfig  `json:"database"`
	Fallback      FallbackConfig  `json:"fallback"`
	Media         MediaConfig     `json:"media"`
	Log           LogConfig       `json:"log"`
	Tracing       TracingConfig   `json:"tracing"`
	RateLimit     RateLimitConfig `json:"rateLimit"`
	LogLevel      string          `json:"log_level"`
	RetentionDays int             `json:"retentionDays"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port            int    `json:"port"`
	ReadTimeoutSec  int    `json:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
	CleanupSchedule string `json:"cleanupSchedule"`
	Environment     string `json:"environment"`
}

// WhatsAppConfig holds the WAHA transport settings
type WhatsAppConfig struct {
	APIBaseURL    string `json:"api_base_url"`
	APIKey        string `json:"api_key"`
	SessionName   string `json:"session_name"`
	TimeoutMs     int    `json:"timeout_ms"`
	RetryCount    int    `json:"retry_count"`
	WebhookSecret string `json:"webhook_secret"`
	// EventSource selects how lifecycle events arrive: "websocket" or "webhook".
	EventSource string `json:"eventSource"`
	// StatusPollSec periodically reconciles the session status, 0 disables it.
	StatusPollSec int `json:"statusPollSec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
	// EncryptionSecret enables at-rest encryption of chat ids when set.
	// It is only read from the environment.
	EncryptionSecret string `json:"-"`
}

// FallbackConfig controls what fallback recipients receive
type FallbackConfig struct {
	Mode string `json:"mode"`
}

// MediaConfig bounds remote media downloads
type MediaConfig struct {
	MaxDownloadMB      int `json:"maxDownloadMB"`
	DownloadTimeoutSec int `json:"downloadTimeoutSec"`
}

// LogConfig configures the rotating log file
type LogConfig struct {
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Compress   bool   `json:"compress"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// RateLimitConfig bounds inbound send requests per client
type RateLimitConfig struct {
	Requests  int `json:"requests"`
	WindowSec int `json:"windowSec"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
