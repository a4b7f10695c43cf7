package stacks

import (
	"os"
	"time"

	"github.com/stackroom/stacks/internal/store"
)

// Config configures the stacks client.
type Config struct {
	// LocalPath is the path to the local SQLite replica.
	// If empty, derived from the default data root.
	LocalPath string

	// ServerURL is the base URL of the Stackroom catalog server.
	// If empty, operates in offline-only mode.
	ServerURL string

	// APIKey authenticates with the server.
	APIKey string

	// DeviceID identifies this client instance to the server.
	// Defaults to hostname if not set.
	DeviceID string

	// SyncInterval is how often the background sync runs.
	// Defaults to 5 minutes.
	SyncInterval time.Duration

	// AutoSync enables automatic background syncing. The zero value is
	// off; DefaultConfig turns it on. WithDefaults leaves it alone, since
	// a false here is indistinguishable from unset.
	AutoSync bool

	// PageSize is the pull pagination limit. Defaults to DefaultPageSize.
	PageSize int

	// MaxAttempts caps retries of a failed sync phase.
	// Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Debug enables verbose logging of all server communications.
	Debug bool

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty. File logs rotate at 10 MB.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		LocalPath:    store.ReplicaDBPath(),
		SyncInterval: 5 * time.Minute,
		AutoSync:     true,
		PageSize:     DefaultPageSize,
		MaxAttempts:  DefaultMaxAttempts,
		DeviceID:     hostname,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	STACKS_DB_PATH      → LocalPath
//	STACKROOM_URL       → ServerURL
//	STACKROOM_API_KEY   → APIKey
//	STACKS_DEVICE_ID    → DeviceID
//	STACKS_DEBUG        → Debug (any non-empty value enables)
//	STACKS_DEBUG_LOG    → DebugLogPath
func ConfigFromEnv() Config {
	return Config{
		LocalPath:    os.Getenv("STACKS_DB_PATH"),
		ServerURL:    os.Getenv("STACKROOM_URL"),
		APIKey:       os.Getenv("STACKROOM_API_KEY"),
		DeviceID:     os.Getenv("STACKS_DEVICE_ID"),
		Debug:        os.Getenv("STACKS_DEBUG") != "",
		DebugLogPath: os.Getenv("STACKS_DEBUG_LOG"),
	}
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite replica"}
	}

	if c.ServerURL != "" && c.APIKey == "" {
		return &ValidationError{Field: "APIKey", Message: "required when ServerURL is set"}
	}

	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}

	if c.PageSize < 0 {
		return &ValidationError{Field: "PageSize", Message: "must be non-negative"}
	}

	if c.MaxAttempts < 0 {
		return &ValidationError{Field: "MaxAttempts", Message: "must be non-negative"}
	}

	return nil
}

// IsOffline returns true if the client operates in offline-only mode.
// Offline mode is determined by ServerURL being empty.
func (c *Config) IsOffline() bool {
	return c.ServerURL == ""
}

// WithDefaults fills in default values for unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.LocalPath == "" {
		c.LocalPath = defaults.LocalPath
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	if c.PageSize == 0 {
		c.PageSize = defaults.PageSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.DeviceID == "" {
		c.DeviceID = defaults.DeviceID
	}

	return c
}
