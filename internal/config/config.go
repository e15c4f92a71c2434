package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
	Tracking  TrackingConfig  `toml:"tracking"`  // Flight tracking and classification settings
	Storage   StorageConfig   `toml:"storage"`   // Completed flight persistence settings
	WebSocket WebSocketConfig `toml:"websocket"` // Event push bridge settings
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// TrackingConfig contains the per-aircraft state machine and factory
// settings. All thresholds have working defaults; a zero value means
// "use the default".
type TrackingConfig struct {
	ContextExpirationSecs int  `toml:"context_expiration_seconds"` // Idle time after which a context is disposed (default: 300)
	SweepIntervalSecs     int  `toml:"sweep_interval_seconds"`     // How often the factory looks for expired contexts (default: 10)
	MinifyMemoryPressure  bool `toml:"minify_memory_pressure"`     // Trim position buffers aggressively after state transitions
	NearbyRuntime         bool `toml:"nearby_runtime"`             // Whether aerotow detection has neighbour data available

	MovingSpeedKts        float64 `toml:"moving_speed_kts"`           // Ground speed above which an aircraft is considered moving (default: 30)
	AirborneAltitudeM     float64 `toml:"airborne_altitude_m"`        // Altitude above which a first contact counts as already airborne (default: 1000)
	DepartureDebounceSecs int     `toml:"departure_debounce_seconds"` // Settle time after the first moving sample before classifying (default: 10)
	SinkThresholdM        float64 `toml:"sink_threshold_m"`           // Altitude loss during departure that aborts the climb (default: 3)

	WinchHeadingToleranceDeg float64 `toml:"winch_heading_tolerance_deg"` // Maximum heading spread for a winch launch (default: 20)
	WinchMaxDistanceM        float64 `toml:"winch_max_distance_m"`        // Maximum ground run for a winch launch (default: 3000)

	ArrivalAbortAltitudeM  float64 `toml:"arrival_abort_altitude_m"`     // Altitude above which an arrival is aborted back to cruise (default: 1000)
	ArrivalTheoryRipenSecs int     `toml:"arrival_theory_ripen_seconds"` // Grace period past the estimated end time before it is final (default: 10)
	ArrivalMaxETUASecs     int     `toml:"arrival_max_etua_seconds"`     // Estimates further out than this are discarded (default: 600)
	ClimbRateWindow        int     `toml:"climb_rate_window"`            // Sample pairs averaged for the running climb rate (default: 10)
	CruiseLowAltitudeM     float64 `toml:"cruise_low_altitude_m"`        // Altitude below which a sustained descent means landing (default: 300)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`     // Persist completed flights to SQLite
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// WebSocketConfig contains the event push bridge configuration
type WebSocketConfig struct {
	Enabled bool `toml:"enabled"` // Broadcast flight events to websocket clients
}

// Load reads and parses the TOML configuration file at the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration with every field at its default value
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	t := &c.Tracking
	if t.ContextExpirationSecs == 0 {
		t.ContextExpirationSecs = 300
	}
	if t.SweepIntervalSecs == 0 {
		t.SweepIntervalSecs = 10
	}
	if t.MovingSpeedKts == 0 {
		t.MovingSpeedKts = 30
	}
	if t.AirborneAltitudeM == 0 {
		t.AirborneAltitudeM = 1000
	}
	if t.DepartureDebounceSecs == 0 {
		t.DepartureDebounceSecs = 10
	}
	if t.SinkThresholdM == 0 {
		t.SinkThresholdM = 3
	}
	if t.WinchHeadingToleranceDeg == 0 {
		t.WinchHeadingToleranceDeg = 20
	}
	if t.WinchMaxDistanceM == 0 {
		t.WinchMaxDistanceM = 3000
	}
	if t.ArrivalAbortAltitudeM == 0 {
		t.ArrivalAbortAltitudeM = 1000
	}
	if t.ArrivalTheoryRipenSecs == 0 {
		t.ArrivalTheoryRipenSecs = 10
	}
	if t.ArrivalMaxETUASecs == 0 {
		t.ArrivalMaxETUASecs = 600
	}
	if t.ClimbRateWindow == 0 {
		t.ClimbRateWindow = 10
	}
	if t.CruiseLowAltitudeM == 0 {
		t.CruiseLowAltitudeM = 300
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}

	if c.Tracking.ContextExpirationSecs < 0 {
		return fmt.Errorf("context_expiration_seconds must not be negative")
	}
	if c.Tracking.SweepIntervalSecs <= 0 {
		return fmt.Errorf("sweep_interval_seconds must be positive")
	}
	if c.Tracking.MovingSpeedKts <= 0 {
		return fmt.Errorf("moving_speed_kts must be positive")
	}
	if c.Tracking.ClimbRateWindow <= 0 {
		return fmt.Errorf("climb_rate_window must be positive")
	}

	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage is enabled but sqlite_path is empty")
	}

	return nil
}
