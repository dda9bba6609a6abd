package constants

import "time"

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 60
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultRateLimitPerSecond    = 50
	DefaultRateLimitBurst        = 100
	DefaultServerErrorChanSize   = 1
	MaxWebhookBodyBytes          = 32 * 1024 * 1024
	MaxRequestBodyBytes          = 24 * 1024 * 1024
	DefaultQueueListLimit        = 50
	MaxQueueListLimit            = 500
)

// Identifier limits for management API input
const (
	MaxInstanceNameLength = 64
	MaxTenantIDLength     = 128
	MaxMessageIDLength    = 255
)

// Provider defaults
const (
	DefaultProviderTimeoutSec      = 30
	DefaultMediaFetchTimeoutSec    = 90
	DefaultCircuitMaxFailures      = 5
	DefaultCircuitOpenTimeoutSec   = 30
	DefaultCountryCode             = "55"
	DefaultWebhookSignatureHeader  = "X-Webhook-Signature"
	DefaultUazapiDeliveryDelayMs   = 1000
	DefaultEvolutionInstancePrefix = "lw"
)

// Credential cache defaults
const (
	DefaultCredentialTTL          = 5 * time.Minute
	DefaultCredentialCleanupEvery = 2 * time.Minute
)

// Queue defaults
const (
	DefaultQueuePriority     = 100
	DefaultQueueMaxAttempts  = 5
	DefaultQueueBatchSize    = 50
	DefaultQueueSweepCron    = "@every 1m"
	DefaultQueueRetentionDay = 30
	DefaultQueuePendingGrace = 2 * time.Minute
	DefaultQueueStaleAfter   = 5 * time.Minute
)

// Conversation defaults
const (
	DefaultDedupWindow = 10 * time.Second
)

// Storage defaults
const (
	DefaultStorageDir      = "./data/media"
	DefaultMaxUploadMB     = 15
	DefaultSignedURLTTLSec = 31536000
	BytesPerMegabyte       = 1024 * 1024
)

// Pacing defaults
const (
	TypingBaseMs          = 500
	TypingDurationPerChar = 50
	TypingMinMs           = 1000
	TypingMaxMs           = 5000
	MediaPresenceMs       = 1000
	RecordingMinMs        = 1000
	RecordingMaxMs        = 10000
)

// Database defaults
const (
	DefaultDatabasePath          = "./data/leadwire.db"
	DefaultDatabaseRetryAttempts = 3
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Events and tracing defaults
const (
	DefaultEventsExchange    = "leadwire.events"
	DefaultTracingSampleRate = 0.1
	DefaultLogLevel          = "info"
	MinProductionSecretLen   = 32
)

// Encryption settings for credentials at rest
const (
	EncryptionSalt        = "leadwire-credential-salt-v1"
	EncryptionNonceSize   = 12
	EncryptionKeySize     = 32
	EncryptionIterations  = 100000
	MinEncryptionSecret   = 32
	DefaultRetryBackoffMs = 100
	DefaultMaxBackoffMs   = 2000
)
