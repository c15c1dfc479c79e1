package config

import (
	"errors"
	"log/slog"
	"time"

	"github.com/kode4food/timebox"
)

type (
	// Config holds the engine tunables. Configuration is passed
	// programmatically; the engine reads no environment variables
	Config struct {
		// Dispatch
		MaxConcurrentSteps int

		// Per-step defaults, applied when a step leaves them zero
		DefaultStepTimeout time.Duration
		DefaultRetryCount  int
		Retry              RetryConfig

		// Run-level
		FlowTimeout time.Duration

		// Validation
		StrictValidation    bool
		ValidationCacheSize int

		// Logging
		Environment string
		LogLevel    slog.Level

		// State transition log
		StateStore timebox.StoreConfig

		// Engine
		ShutdownTimeout time.Duration
	}

	// RetryConfig controls the delay between attempts of a failing step
	RetryConfig struct {
		InitBackoff time.Duration
		MaxBackoff  time.Duration
		BackoffType string
	}
)

const (
	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

const (
	DefaultMaxConcurrentSteps  = 8
	DefaultStepTimeout         = 30 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultValidationCacheSize = 1024
	DefaultInitBackoff         = 100 * time.Millisecond
	DefaultMaxBackoff          = 30 * time.Second
	DefaultEnvironment         = "dev"

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "stagehand"
	DefaultRedisDB             = 0
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second

	MaxConcurrentStepsLimit = 4096
)

var (
	ErrInvalidMaxConcurrent  = errors.New("max concurrent steps must be positive")
	ErrMaxConcurrentTooLarge = errors.New("max concurrent steps too large")
	ErrInvalidStepTimeout    = errors.New("default step timeout must be positive")
	ErrInvalidRetryCount     = errors.New("default retry count cannot be negative")
	ErrInvalidInitBackoff    = errors.New("initial backoff must be positive")
	ErrInvalidMaxBackoff     = errors.New("max backoff must be >= initial backoff")
	ErrInvalidBackoffType    = errors.New("invalid backoff type")
	ErrInvalidCacheSize      = errors.New("validation cache size must be positive")
)

var validBackoffTypes = map[string]struct{}{
	BackoffTypeFixed:       {},
	BackoffTypeLinear:      {},
	BackoffTypeExponential: {},
}

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, the state store, and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentSteps: DefaultMaxConcurrentSteps,
		DefaultStepTimeout: DefaultStepTimeout,
		DefaultRetryCount:  0,
		Retry: RetryConfig{
			InitBackoff: DefaultInitBackoff,
			MaxBackoff:  DefaultMaxBackoff,
			BackoffType: BackoffTypeExponential,
		},
		StrictValidation:    true,
		ValidationCacheSize: DefaultValidationCacheSize,
		Environment:         DefaultEnvironment,
		LogLevel:            slog.LevelInfo,
		StateStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Validate checks the configuration for internally consistent values
func (c *Config) Validate() error {
	if c.MaxConcurrentSteps <= 0 {
		return ErrInvalidMaxConcurrent
	}
	if c.MaxConcurrentSteps > MaxConcurrentStepsLimit {
		return ErrMaxConcurrentTooLarge
	}
	if c.DefaultStepTimeout <= 0 {
		return ErrInvalidStepTimeout
	}
	if c.DefaultRetryCount < 0 {
		return ErrInvalidRetryCount
	}
	if c.ValidationCacheSize <= 0 {
		return ErrInvalidCacheSize
	}
	return c.Retry.Validate()
}

// Validate checks the retry configuration
func (r *RetryConfig) Validate() error {
	if r.InitBackoff <= 0 {
		return ErrInvalidInitBackoff
	}
	if r.MaxBackoff < r.InitBackoff {
		return ErrInvalidMaxBackoff
	}
	if _, ok := validBackoffTypes[r.BackoffType]; !ok {
		return ErrInvalidBackoffType
	}
	return nil
}
