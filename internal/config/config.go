// Package config loads and validates the sync service's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// MappingDB is the path of the SQLite mapping database. Defaults to
	// ~/.local/share/outlookbookingsync/mappings.db.
	MappingDB string `yaml:"mapping_db"`

	// BookingDB is the path of the booking system's SQLite database.
	BookingDB string `yaml:"booking_db"`

	// Bridges maps bridge names to their type and settings.
	Bridges map[string]BridgeConfig `yaml:"bridges"`

	// Sync configures the scheduled sync passes.
	Sync SyncConfig `yaml:"sync"`

	// Events configures how reservations are rendered as remote events.
	Events EventConfig `yaml:"events"`

	// HTTP configures the optional status/trigger API. Omit to disable.
	HTTP *HTTPConfig `yaml:"http,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// BridgeConfig describes one registered bridge.
type BridgeConfig struct {
	// Type selects the bridge implementation, e.g. "ics" or "booking".
	Type string `yaml:"type"`

	// Settings are passed verbatim to the bridge factory.
	Settings map[string]string `yaml:"settings,omitempty"`
}

// JobConfig names one bridge-to-bridge sync pair.
type JobConfig struct {
	SourceBridge     string `yaml:"source_bridge"`
	TargetBridge     string `yaml:"target_bridge"`
	SourceCalendarID string `yaml:"source_calendar_id"`
	TargetCalendarID string `yaml:"target_calendar_id"`
	HandleDeletions  bool   `yaml:"handle_deletions"`
	SkipUpdates      bool   `yaml:"skip_updates"`
}

// SyncConfig holds the scheduling and job settings.
type SyncConfig struct {
	// RemoteBridge names the bridge the reservation-side sweep pushes to.
	// Empty disables the reservation pipeline.
	RemoteBridge string `yaml:"remote_bridge"`

	// Window is how far ahead each pass looks. Defaults to 30 days.
	Window time.Duration `yaml:"window"`

	// PollInterval controls the fixed-interval schedule.
	// Minimum 1m. Defaults to 15m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Cron is an optional five-field cron schedule. When set it takes
	// precedence over PollInterval.
	Cron string `yaml:"cron,omitempty"`

	// Jobs are the bridge-to-bridge pairs each pass runs.
	Jobs []JobConfig `yaml:"jobs,omitempty"`
}

// EventConfig controls the reservation → remote event rendering.
type EventConfig struct {
	// TimeZone is the fixed IANA zone remote event times are expressed in.
	// Defaults to UTC.
	TimeZone string `yaml:"time_zone"`

	// FallbackOrganizerEmail is used when a reservation has no contact email.
	FallbackOrganizerEmail string `yaml:"fallback_organizer_email"`

	// TitleMaxLength bounds rendered subjects. Defaults to 255.
	TitleMaxLength int `yaml:"title_max_length"`
}

// HTTPConfig holds the status API settings.
type HTTPConfig struct {
	// Listen is the address the API binds, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "outlookbookingsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path:
// ~/.config/outlookbookingsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "outlookbookingsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.BookingDB == "" {
		return fmt.Errorf("booking_db is required")
	}

	if len(c.Bridges) == 0 {
		return fmt.Errorf("bridges must contain at least one entry")
	}
	for name, bc := range c.Bridges {
		if name == "" {
			return fmt.Errorf("bridges contains an empty name")
		}
		if bc.Type == "" {
			return fmt.Errorf("bridges[%q] has no type", name)
		}
	}

	if c.Sync.Window == 0 {
		c.Sync.Window = 30 * 24 * time.Hour
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 15 * time.Minute
	}
	if c.Sync.PollInterval < time.Minute {
		return fmt.Errorf("sync.poll_interval %v is too short (minimum 1m)", c.Sync.PollInterval)
	}

	if c.Sync.RemoteBridge != "" {
		if _, ok := c.Bridges[c.Sync.RemoteBridge]; !ok {
			return fmt.Errorf("sync.remote_bridge %q is not a configured bridge", c.Sync.RemoteBridge)
		}
	}

	for i, job := range c.Sync.Jobs {
		if _, ok := c.Bridges[job.SourceBridge]; !ok {
			return fmt.Errorf("sync.jobs[%d].source_bridge %q is not a configured bridge", i, job.SourceBridge)
		}
		if _, ok := c.Bridges[job.TargetBridge]; !ok {
			return fmt.Errorf("sync.jobs[%d].target_bridge %q is not a configured bridge", i, job.TargetBridge)
		}
		if job.SourceCalendarID == "" || job.TargetCalendarID == "" {
			return fmt.Errorf("sync.jobs[%d] must name both calendar ids", i)
		}
	}

	if c.Sync.RemoteBridge == "" && len(c.Sync.Jobs) == 0 {
		return fmt.Errorf("sync must configure remote_bridge, jobs, or both")
	}

	if c.Events.TimeZone != "" {
		if _, err := time.LoadLocation(c.Events.TimeZone); err != nil {
			return fmt.Errorf("events.time_zone %q is not a valid IANA zone: %w", c.Events.TimeZone, err)
		}
	}
	if c.Events.TitleMaxLength < 0 {
		return fmt.Errorf("events.title_max_length must not be negative")
	}

	if c.HTTP != nil && c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required when http is configured")
	}

	if c.Telemetry != nil && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
	}

	return nil
}

// Location resolves the configured event time zone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.Events.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Events.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
