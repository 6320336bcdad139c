package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/models"
	"whatsrelay/internal/security"
	"whatsrelay/internal/tracing"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable selects production checks when set to "production"
const EnvironmentVariable = "WHATSRELAY_ENV"

const minAppSecretLength = 32

var (
	ErrNoTenants          = models.ConfigError{Message: "tenants array is required and must contain at least one tenant"}
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingDSN         = models.ConfigError{Message: "missing database dsn for postgres"}
	ErrUnsupportedFormat  = models.ConfigError{Message: "unsupported config format (use .json, .yaml, .yml or .toml)"}
	ErrMissingVerifyToken = models.ConfigError{Message: "whatsapp verify_token is required in production"}
)

// LoadConfig reads the configuration file at path, applies environment
// overrides and defaults, and validates the result. A .env file in the
// working directory is loaded first when present.
func LoadConfig(path string) (*models.Config, error) {
	_ = godotenv.Load()

	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func decode(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return ErrUnsupportedFormat
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	setString(&c.WhatsApp.VerifyToken, "WHATSAPP_VERIFY_TOKEN")
	// Secrets belong in the environment rather than the config file
	setString(&c.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	setString(&c.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	setString(&c.WhatsApp.APIVersion, "WHATSAPP_API_VERSION")
	setString(&c.WhatsApp.APIBaseURL, "WHATSAPP_API_URL")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Database.Path, "DB_PATH")
	setString(&c.Database.EncryptionSecret, "DATABASE_ENCRYPTION_SECRET")
	setString(&c.Media.Dir, "MEDIA_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	for i := range c.Tenants {
		if token := os.Getenv(TenantTokenVariable(c.Tenants[i].Name)); token != "" {
			c.Tenants[i].AccessToken = token
		}
	}
}

// TenantTokenVariable returns the environment variable that overrides the
// access token of the named tenant, e.g. "shop-2" -> TENANT_SHOP_2_TOKEN.
func TenantTokenVariable(name string) string {
	var b strings.Builder
	b.WriteString("TENANT_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_TOKEN")
	return b.String()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
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
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}

	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = constants.DefaultGraphAPIBaseURL
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = constants.DefaultGraphAPIVersion
	}
	if c.WhatsApp.TimeoutSec <= 0 {
		c.WhatsApp.TimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.WhatsApp.OperatorName == "" {
		c.WhatsApp.OperatorName = constants.DefaultOperatorName
	}

	if c.Database.Driver == "" {
		c.Database.Driver = constants.DefaultDatabaseDriver
	}
	if c.Database.Path == "" && isSQLite(c.Database.Driver) {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = constants.DefaultMaxOpenConns
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = constants.DefaultMaxIdleConns
	}

	if c.Media.Dir == "" {
		c.Media.Dir = constants.DefaultMediaDir
	}
	if c.Media.URLPrefix == "" {
		c.Media.URLPrefix = constants.DefaultMediaURLPrefix
	}
	if c.Media.MaxUploadMB <= 0 {
		c.Media.MaxUploadMB = constants.DefaultMaxUploadMB
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = constants.DefaultRateLimitBurst
	}
	if c.RateLimit.WebhookRequestsPerSecond <= 0 {
		c.RateLimit.WebhookRequestsPerSecond = constants.DefaultWebhookRateLimitPerSecond
	}
	if c.RateLimit.WebhookBurst <= 0 {
		c.RateLimit.WebhookBurst = constants.DefaultWebhookRateLimitBurst
	}

	tracingDefaults := tracing.DefaultConfig()
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracingDefaults.ServiceName
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = tracingDefaults.ServiceVersion
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = tracingDefaults.Environment
		if env := os.Getenv(EnvironmentVariable); env != "" {
			c.Tracing.Environment = env
		}
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = tracingDefaults.Endpoint
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = tracingDefaults.SampleRate
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if len(c.Tenants) == 0 {
		return ErrNoTenants
	}

	phoneIDs := make(map[string]bool, len(c.Tenants))
	names := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		phoneID := strings.TrimSpace(t.PhoneNumberID)
		if phoneID == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty phone_number_id in tenant %d", i)}
		}
		if phoneIDs[phoneID] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate phone_number_id: %s", phoneID)}
		}
		phoneIDs[phoneID] = true

		if t.Name != "" {
			if names[t.Name] {
				return models.ConfigError{Message: fmt.Sprintf("duplicate tenant name: %s", t.Name)}
			}
			names[t.Name] = true
		}
		if t.AccessToken == "" && c.WhatsApp.AccessToken == "" {
			return models.ConfigError{Message: fmt.Sprintf("tenant %d has no access_token and whatsapp.access_token is not set", i)}
		}
	}

	switch {
	case isSQLite(c.Database.Driver):
		if c.Database.Path == "" {
			return ErrMissingDBPath
		}
	case isPostgres(c.Database.Driver):
		if c.Database.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver: %s", c.Database.Driver)}
	}

	if c.Database.EncryptionSecret != "" && len(c.Database.EncryptionSecret) < minAppSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("database encryption_secret must be at least %d characters long", minAppSecretLength)}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level: %s", c.LogLevel)}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample_rate must be between 0 and 1"}
	}

	return nil
}

// IsProduction reports whether production checks apply
func IsProduction() bool {
	return os.Getenv(EnvironmentVariable) == "production"
}

// validateSecurity applies the production-only rules
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		if c.WhatsApp.AppSecret == "" {
			return models.ConfigError{Message: "WhatsApp app secret is required in production (set WHATSAPP_APP_SECRET environment variable)"}
		}
		if len(c.WhatsApp.AppSecret) < minAppSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("WhatsApp app secret must be at least %d characters long", minAppSecretLength)}
		}
		if c.WhatsApp.VerifyToken == "" {
			return ErrMissingVerifyToken
		}
		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		return nil
	}

	if c.WhatsApp.AppSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: WhatsApp app secret not set. Webhook signatures will not be verified; set WHATSAPP_APP_SECRET.\n")
	}
	return nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func isPostgres(driver string) bool {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}
