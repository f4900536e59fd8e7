package constants

// Default server configuration values
const (
	DefaultServerPort            = 3000
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 60
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultRetentionDays         = 30
	DefaultCleanupSchedule       = "0 3 * * *"
	DefaultMaxRequestBodyMB      = 64
	DefaultRateLimitRequests     = 60
	DefaultRateLimitWindowSec    = 60
)

// Default transport configuration values
const (
	DefaultSessionName           = "default"
	DefaultHTTPTimeoutSec        = 30
	DefaultRetryCount            = 3
	DefaultSessionStatusPollSec  = 30
	DefaultEventSource           = EventSourceWebsocket
	DefaultReconnectAttempts     = 5
	DefaultReconnectDelaySec     = 10
	DefaultEventStreamBackoffMs  = 500
	DefaultEventStreamMaxBackoff = 30
)

// Lifecycle event sources
const (
	EventSourceWebsocket = "websocket"
	EventSourceWebhook   = "webhook"
)

// Pacing of the send queue
const (
	DefaultPacingMinDelayMs  = 1500
	DefaultPacingMaxDelayMs  = 3000
	DefaultPacingBatchSize   = 10
	DefaultPacingBatchPauseS = 10
)

// Default media configuration values
const (
	DefaultMaxDownloadMB         = 64
	DefaultMediaDownloadTimeoutS = 60
)

// Default log file rotation values
const (
	DefaultLogMaxSizeMB   = 10
	DefaultLogMaxBackups  = 5
	DefaultLogMaxAgeDays  = 28
	DefaultLogHistoryTail = 500
)

// Fallback content modes
const (
	FallbackModeForward = "forward"
	FallbackModeAlert   = "alert"
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)

// Input limits
const (
	MaxSessionNameLength = 64
	BytesPerMegabyte     = 1024 * 1024
)
