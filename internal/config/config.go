package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
)

// StorageBackend enumerates the supported state persistence backends.
type StorageBackend string

const (
	StorageBackendFile     StorageBackend = "file"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	Partitions []PartitionSpec  `yaml:"partitions"`
	Source     SourceConfig     `yaml:"source"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Storage    StorageConfig    `yaml:"storage"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Happenings HappeningConfig  `yaml:"happenings"`
	Highlights HighlightsConfig `yaml:"highlights"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
}

// PartitionSpec describes one competition the monitor tracks. Snapshot keys
// are composed as code + ":" + match id, so codes must never contain the
// separator.
type PartitionSpec struct {
	// Code is the provider's competition identifier, e.g. "bra.1".
	Code string `yaml:"code"`

	// Name is the human-readable competition name used in rendered text.
	Name string `yaml:"name"`

	// Hashtags are appended to every delivery for this partition.
	Hashtags []string `yaml:"hashtags,omitempty"`
}

// SourceConfig holds the scoreboard provider settings.
type SourceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Retry   *RetryConfig  `yaml:"retry,omitempty"`
}

// RetryConfig defines basic retry behavior for outbound HTTP requests.
type RetryConfig struct {
	// MaxAttempts is how many times to retry before giving up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialWait is the initial backoff duration (e.g., 1s).
	InitialWait time.Duration `yaml:"initial_wait,omitempty"`

	// MaxWait is the upper bound for the backoff (e.g., 30s).
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// SchedulerConfig carries the elastic polling tunables. Zero values are
// replaced with defaults by Normalize.
type SchedulerConfig struct {
	// LiveDelay is the poll interval while any match is in play.
	LiveDelay time.Duration `yaml:"live_delay,omitempty"`

	// AlertDelay is the poll interval when a match is about to start.
	AlertDelay time.Duration `yaml:"alert_delay,omitempty"`

	// HibernationDelay is the poll interval when nothing is live or imminent.
	HibernationDelay time.Duration `yaml:"hibernation_delay,omitempty"`

	// PreWindow is how far before a scheduled start AlertDelay takes over.
	PreWindow time.Duration `yaml:"pre_window,omitempty"`

	// MaxRefreshDelay caps any sleep so schedule changes are noticed.
	MaxRefreshDelay time.Duration `yaml:"max_refresh_delay,omitempty"`
}

// StorageConfig selects and configures the state persistence backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	// Path is the state file location for the file backend.
	Path string `yaml:"path,omitempty"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn,omitempty"`

	// SaveInterval is how often in-memory state is flushed to the backend.
	SaveInterval time.Duration `yaml:"save_interval,omitempty"`
}

// DeliveryConfig holds the outbound announcement settings.
type DeliveryConfig struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	Visibility  string `yaml:"visibility,omitempty"`

	// DryRun logs what would be posted instead of posting it.
	DryRun bool `yaml:"dry_run,omitempty"`

	// RateLimit is the maximum outbound posts per second.
	RateLimit float64 `yaml:"rate_limit,omitempty"`
}

// HappeningConfig selects which happening categories are announced. An empty
// Categories list means all recognized categories are announced.
type HappeningConfig struct {
	Categories []scoreboard.HappeningCategory `yaml:"categories,omitempty"`
}

// HighlightsConfig configures the optional post-match highlights provider.
// The feature is enabled only when APIKey is set.
type HighlightsConfig struct {
	BaseURL string        `yaml:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Host    string        `yaml:"host,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Retry   *RetryConfig  `yaml:"retry,omitempty"`
}

// Enabled reports whether the highlights provider should be wired.
func (h HighlightsConfig) Enabled() bool {
	return h.APIKey != "" && h.BaseURL != ""
}

// EventBusConfig configures the optional domain event bus. An empty broker
// list keeps events in-process.
type EventBusConfig struct {
	Brokers  []string `yaml:"brokers,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	GroupID  string   `yaml:"group_id,omitempty"`
	ClientID string   `yaml:"client_id,omitempty"`
}

// Defaults mirroring the provider's observed rate limits.
const (
	DefaultLiveDelay        = 30 * time.Second
	DefaultAlertDelay       = 2 * time.Minute
	DefaultHibernationDelay = 30 * time.Minute
	DefaultPreWindow        = 15 * time.Minute
	DefaultMaxRefreshDelay  = time.Hour
	DefaultSaveInterval     = time.Minute
	DefaultSourceTimeout    = 10 * time.Second

	// DefaultDeliveryRate keeps announcement bursts inside the API limits of
	// a typical small instance.
	DefaultDeliveryRate = 1.0
)

// Normalize fills in defaults for any zero-valued tunables.
func (c *Config) Normalize() {
	if c.Scheduler.LiveDelay <= 0 {
		c.Scheduler.LiveDelay = DefaultLiveDelay
	}
	if c.Scheduler.AlertDelay <= 0 {
		c.Scheduler.AlertDelay = DefaultAlertDelay
	}
	if c.Scheduler.HibernationDelay <= 0 {
		c.Scheduler.HibernationDelay = DefaultHibernationDelay
	}
	if c.Scheduler.PreWindow <= 0 {
		c.Scheduler.PreWindow = DefaultPreWindow
	}
	if c.Scheduler.MaxRefreshDelay <= 0 {
		c.Scheduler.MaxRefreshDelay = DefaultMaxRefreshDelay
	}
	if c.Storage.SaveInterval <= 0 {
		c.Storage.SaveInterval = DefaultSaveInterval
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = DefaultSourceTimeout
	}
	if c.Delivery.RateLimit <= 0 {
		c.Delivery.RateLimit = DefaultDeliveryRate
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendFile
	}
}

// Validate checks the configuration for contradictions that would corrupt
// state keys or stall the scheduler. Normalize should run first.
func (c *Config) Validate() error {
	if len(c.Partitions) == 0 {
		return fmt.Errorf("at least one partition is required")
	}
	seen := make(map[string]struct{}, len(c.Partitions))
	for i, p := range c.Partitions {
		if p.Code == "" {
			return fmt.Errorf("partition %d: code is required", i)
		}
		if strings.Contains(p.Code, scoreboard.KeySeparator) {
			return fmt.Errorf("partition %q: code must not contain %q", p.Code, scoreboard.KeySeparator)
		}
		if _, dup := seen[p.Code]; dup {
			return fmt.Errorf("partition %q: duplicate code", p.Code)
		}
		seen[p.Code] = struct{}{}
	}

	if c.Scheduler.LiveDelay > c.Scheduler.AlertDelay {
		return fmt.Errorf("scheduler: live_delay %v must not exceed alert_delay %v",
			c.Scheduler.LiveDelay, c.Scheduler.AlertDelay)
	}
	if c.Scheduler.AlertDelay > c.Scheduler.HibernationDelay {
		return fmt.Errorf("scheduler: alert_delay %v must not exceed hibernation_delay %v",
			c.Scheduler.AlertDelay, c.Scheduler.HibernationDelay)
	}

	switch c.Storage.Backend {
	case StorageBackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: path is required for the file backend")
		}
	case StorageBackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn is required for the postgres backend")
		}
	case StorageBackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}

	if c.Highlights.APIKey != "" && c.Highlights.BaseURL == "" {
		return fmt.Errorf("highlights: base_url is required when api_key is set")
	}

	for _, cat := range c.Happenings.Categories {
		if !cat.IsValid() {
			return fmt.Errorf("happenings: unknown category %q", cat)
		}
	}
	return nil
}
