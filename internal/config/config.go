package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"leadwire/internal/constants"
	"leadwire/internal/models"
	"leadwire/internal/security"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingProvider = models.ConfigError{Message: "at least one provider base URL must be configured"}
	ErrMissingDBPath   = models.ConfigError{Message: "missing database path"}
	ErrMissingAPIKey   = models.ConfigError{Message: "missing server api key"}
)

// LoadConfig reads a JSON or YAML file (chosen by extension), fills in
// defaults, applies environment overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, &config)
	default:
		err = json.Unmarshal(file, &config)
	}
	if err != nil {
		return nil, models.ConfigError{Message: fmt.Sprintf("failed to parse config %s: %v", path, err)}
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}
	return &config, nil
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
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = constants.DefaultRateLimitPerSecond
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = constants.DefaultRateLimitBurst
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Providers.TimeoutSec <= 0 {
		c.Providers.TimeoutSec = constants.DefaultProviderTimeoutSec
	}
	if c.Providers.MediaFetchTimeout <= 0 {
		c.Providers.MediaFetchTimeout = constants.DefaultMediaFetchTimeoutSec
	}
	if c.Credentials.CacheTTLSec <= 0 {
		c.Credentials.CacheTTLSec = int(constants.DefaultCredentialTTL.Seconds())
	}
	if c.Credentials.CleanupIntervalSec <= 0 {
		c.Credentials.CleanupIntervalSec = int(constants.DefaultCredentialCleanupEvery.Seconds())
	}
	if c.Queue.SweepSchedule == "" {
		c.Queue.SweepSchedule = constants.DefaultQueueSweepCron
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = constants.DefaultQueueBatchSize
	}
	if c.Queue.RetentionDays <= 0 {
		c.Queue.RetentionDays = constants.DefaultQueueRetentionDay
	}
	if c.Phone.CountryCode == "" {
		c.Phone.CountryCode = constants.DefaultCountryCode
	}
	if len(c.Phone.LocalLengths) == 0 {
		c.Phone.LocalLengths = []int{10, 11}
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = constants.DefaultStorageDir
	}
	if c.Storage.MaxSizeMB <= 0 {
		c.Storage.MaxSizeMB = constants.DefaultMaxUploadMB
	}
	if c.Storage.URLTTLSec <= 0 {
		c.Storage.URLTTLSec = constants.DefaultSignedURLTTLSec
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = constants.DefaultEventsExchange
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = constants.DefaultTracingSampleRate
	}
	if c.LogLevel == "" {
		c.LogLevel = constants.DefaultLogLevel
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: secrets should come from the environment rather than the file
	if key := os.Getenv("LEADWIRE_API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if url := os.Getenv("EVOLUTION_API_URL"); url != "" {
		c.Providers.Evolution.BaseURL = url
	}
	if key := os.Getenv("EVOLUTION_API_KEY"); key != "" {
		c.Providers.Evolution.APIKey = key
	}
	if url := os.Getenv("UAZAPI_URL"); url != "" {
		c.Providers.Uazapi.BaseURL = url
	}
	if token := os.Getenv("UAZAPI_ADMIN_TOKEN"); token != "" {
		c.Providers.Uazapi.AdminToken = token
	}
	if path := os.Getenv("LEADWIRE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if secret := os.Getenv("LEADWIRE_STORAGE_SECRET"); secret != "" {
		c.Storage.SigningSecret = secret
	}
	if url := os.Getenv("LEADWIRE_AMQP_URL"); url != "" {
		c.Events.AMQPURL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if os.Getenv("LEADWIRE_TEST_MODE") == "true" {
		c.Pacing.Disabled = true
	}
}

func validate(c *models.Config) error {
	if c.Providers.Evolution.BaseURL == "" && c.Providers.Uazapi.BaseURL == "" {
		return ErrMissingProvider
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Server.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: fmt.Sprintf("tracing sample rate must be within (0,1], got %v", c.Tracing.SampleRate)}
	}
	for _, n := range c.Phone.LocalLengths {
		if n <= 0 {
			return models.ConfigError{Message: fmt.Sprintf("invalid phone local length: %d", n)}
		}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("LEADWIRE_ENV") == "production"

	if !isProduction {
		if c.Storage.SigningSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: storage signing secret not set. Set LEADWIRE_STORAGE_SECRET for signed media URLs.\n")
		}
		if c.Providers.Evolution.BaseURL != "" && c.Providers.Evolution.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: Evolution webhook secret not set; inbound webhooks are not authenticated.\n")
		}
		return nil
	}

	if len(c.Server.APIKey) < constants.MinProductionSecretLen {
		return models.ConfigError{Message: fmt.Sprintf("server api key must be at least %d characters long", constants.MinProductionSecretLen)}
	}
	if len(c.Storage.SigningSecret) < constants.MinProductionSecretLen {
		return models.ConfigError{Message: "storage signing secret is required in production (set LEADWIRE_STORAGE_SECRET)"}
	}
	if c.Providers.Evolution.BaseURL != "" && c.Providers.Evolution.WebhookSecret == "" {
		return models.ConfigError{Message: "Evolution webhook secret is required in production"}
	}
	if c.Providers.Uazapi.BaseURL != "" && c.Providers.Uazapi.WebhookSecret == "" {
		return models.ConfigError{Message: "Uazapi webhook secret is required in production"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
