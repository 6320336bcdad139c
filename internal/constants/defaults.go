package constants

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 30
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxWebhookBodyBytes   = 1 << 20
)

// WhatsApp Cloud API defaults
const (
	DefaultGraphAPIBaseURL   = "https://graph.facebook.com"
	DefaultGraphAPIVersion   = "v19.0"
	DefaultOperatorName      = "Bot"
	DefaultContactName       = "Unknown Contact"
	WebhookSignatureHeader   = "X-Hub-Signature-256"
	DefaultOutboundStatus    = "sent"
	DefaultInboundStatus     = "delivered"
	LocalMessageIDPrefix     = "local-"
	TenantTableNameTemplate  = "wa_%s_messages"
	MaxOutboundMessageLength = 4096
)

// Storage defaults
const (
	DefaultDatabaseDriver        = "sqlite3"
	DefaultDatabasePath          = "whatsrelay.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 1000
	DefaultStartupPingAttempts   = 5
	DefaultMaxOpenConns          = 10
	DefaultMaxIdleConns          = 5
	SQLiteConnectionParams       = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	DefaultMediaDir              = "media"
	DefaultMediaURLPrefix        = "/media"
	DefaultMaxUploadMB           = 5
)

// Rate limiting defaults
const (
	DefaultRateLimitPerSecond        = 20
	DefaultRateLimitBurst            = 40
	DefaultWebhookRateLimitPerSecond = 200
	DefaultWebhookRateLimitBurst     = 400
	DefaultLimiterIdleMinutes        = 10
	WebhookRetryAfterSec             = 5
)

// Backoff used while waiting for the store at startup
const (
	DefaultBackoffInitialMs = 500
	DefaultBackoffMaxSec    = 5
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)
