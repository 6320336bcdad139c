package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" yaml:"whatsapp" toml:"whatsapp"`
	Tenants   []TenantConfig  `json:"tenants" yaml:"tenants" toml:"tenants"`
	Database  DatabaseConfig  `json:"database" yaml:"database" toml:"database"`
	Media     MediaConfig     `json:"media" yaml:"media" toml:"media"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing" toml:"tracing"`
	LogLevel  string          `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            int   `json:"port" yaml:"port" toml:"port"`
	ReadTimeoutSec  int   `json:"read_timeout_sec" yaml:"read_timeout_sec" toml:"read_timeout_sec"`
	WriteTimeoutSec int   `json:"write_timeout_sec" yaml:"write_timeout_sec" toml:"write_timeout_sec"`
	IdleTimeoutSec  int   `json:"idle_timeout_sec" yaml:"idle_timeout_sec" toml:"idle_timeout_sec"`
	MaxBodyBytes    int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	TrustProxy      bool  `json:"trust_proxy" yaml:"trust_proxy" toml:"trust_proxy"`
}

// WhatsAppConfig holds WhatsApp Cloud API settings shared by all tenants
type WhatsAppConfig struct {
	APIBaseURL   string `json:"api_base_url" yaml:"api_base_url" toml:"api_base_url"`
	APIVersion   string `json:"api_version" yaml:"api_version" toml:"api_version"`
	VerifyToken  string `json:"verify_token" yaml:"verify_token" toml:"verify_token"`
	AppSecret    string `json:"app_secret" yaml:"app_secret" toml:"app_secret"`
	AccessToken  string `json:"access_token" yaml:"access_token" toml:"access_token"`
	TimeoutSec   int    `json:"timeout_sec" yaml:"timeout_sec" toml:"timeout_sec"`
	OperatorName string `json:"operator_name" yaml:"operator_name" toml:"operator_name"`
}

// TenantConfig describes one WhatsApp business phone number
type TenantConfig struct {
	Name          string `json:"name" yaml:"name" toml:"name"`
	PhoneNumberID string `json:"phone_number_id" yaml:"phone_number_id" toml:"phone_number_id"`
	Table         string `json:"table" yaml:"table" toml:"table"`
	AccessToken   string `json:"access_token" yaml:"access_token" toml:"access_token"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Driver           string `json:"driver" yaml:"driver" toml:"driver"`
	Path             string `json:"path" yaml:"path" toml:"path"`
	DSN              string `json:"dsn" yaml:"dsn" toml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	EncryptionSecret string `json:"encryption_secret" yaml:"encryption_secret" toml:"encryption_secret"`
}

// MediaConfig holds local media storage settings
type MediaConfig struct {
	Dir         string `json:"dir" yaml:"dir" toml:"dir"`
	URLPrefix   string `json:"url_prefix" yaml:"url_prefix" toml:"url_prefix"`
	MaxUploadMB int    `json:"max_upload_mb" yaml:"max_upload_mb" toml:"max_upload_mb"`
}

// RateLimitConfig holds per-client request limits. Webhook deliveries come
// from a small pool of provider addresses and get their own buckets.
type RateLimitConfig struct {
	RequestsPerSecond        float64 `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst                    int     `json:"burst" yaml:"burst" toml:"burst"`
	WebhookRequestsPerSecond float64 `json:"webhook_requests_per_second" yaml:"webhook_requests_per_second" toml:"webhook_requests_per_second"`
	WebhookBurst             int     `json:"webhook_burst" yaml:"webhook_burst" toml:"webhook_burst"`
}

// TracingConfig holds OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name" toml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version" toml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment" toml:"environment"`
	Endpoint       string  `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout" toml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
