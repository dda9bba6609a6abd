package models

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Providers   ProvidersConfig   `json:"providers" yaml:"providers"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
	Queue       QueueConfig       `json:"queue" yaml:"queue"`
	Pacing      PacingConfig      `json:"pacing" yaml:"pacing"`
	Phone       PhoneConfig       `json:"phone" yaml:"phone"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Events      EventsConfig      `json:"events" yaml:"events"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
}

type ServerConfig struct {
	Port            int    `json:"port" yaml:"port"`
	PublicURL       string `json:"public_url" yaml:"public_url"`
	APIKey          string `json:"api_key" yaml:"api_key"`
	ReadTimeoutSec  int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	RateLimitPerSec int    `json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateLimitBurst  int    `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

type ProvidersConfig struct {
	Evolution         EvolutionConfig `json:"evolution" yaml:"evolution"`
	Uazapi            UazapiConfig    `json:"uazapi" yaml:"uazapi"`
	TimeoutSec        int             `json:"timeout_sec" yaml:"timeout_sec"`
	MediaFetchTimeout int             `json:"media_fetch_timeout_sec" yaml:"media_fetch_timeout_sec"`
}

type EvolutionConfig struct {
	BaseURL       string `json:"base_url" yaml:"base_url"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

type UazapiConfig struct {
	BaseURL       string `json:"base_url" yaml:"base_url"`
	AdminToken    string `json:"admin_token" yaml:"admin_token"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
}

type CredentialsConfig struct {
	CacheTTLSec        int `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	CleanupIntervalSec int `json:"cleanup_interval_sec" yaml:"cleanup_interval_sec"`
}

type QueueConfig struct {
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule"`
	MaxAttempts   int    `json:"max_attempts" yaml:"max_attempts"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
	// DeferProcessing stores webhooks and leaves processing to the sweeper.
	DeferProcessing bool `json:"defer_processing" yaml:"defer_processing"`
}

type PacingConfig struct {
	Disabled bool `json:"disabled" yaml:"disabled"`
}

type PhoneConfig struct {
	CountryCode  string `json:"country_code" yaml:"country_code"`
	LocalLengths []int  `json:"local_lengths" yaml:"local_lengths"`
}

type StorageConfig struct {
	Dir           string `json:"dir" yaml:"dir"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	SigningSecret string `json:"signing_secret" yaml:"signing_secret"`
	MaxSizeMB     int    `json:"max_size_mb" yaml:"max_size_mb"`
	URLTTLSec     int    `json:"url_ttl_sec" yaml:"url_ttl_sec"`
}

type EventsConfig struct {
	AMQPURL   string `json:"amqp_url" yaml:"amqp_url"`
	Exchange  string `json:"exchange" yaml:"exchange"`
	Websocket bool   `json:"websocket" yaml:"websocket"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
	Environment string  `json:"environment" yaml:"environment"`
	UseStdout   bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
