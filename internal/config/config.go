package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tt.
type Config struct {
	DeviceID   string         `toml:"device_id"`
	EmployeeID string         `toml:"employee_id"`
	BaseDir    string         `toml:"base_dir"`
	LogDir     string         `toml:"log_dir"`
	Database   DatabaseConfig `toml:"database"`
	Keys       KeysConfig     `toml:"keys"`
	Remote     RemoteConfig   `toml:"remote"`
	Capture    CaptureConfig  `toml:"capture"`
	Sync       SyncConfig     `toml:"sync"`
	Gaps       GapsConfig     `toml:"gaps"`
	Shift      ShiftConfig    `toml:"shift"`
	Storage    StorageConfig  `toml:"storage"`
}

// DatabaseConfig represents configuration for the local capture database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// KeysConfig holds the path to the store encryption key.
type KeysConfig struct {
	KeyPath string `toml:"key_path"`
}

// RemoteConfig represents configuration for the sync backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type           string `toml:"type"`               // "http" or "memory"
	BaseURL        string `toml:"base_url,omitempty"` // only used for type=http
	TimeoutSeconds int    `toml:"timeout_seconds"`    // per-request timeout, defaults to 30
}

// CaptureConfig holds location capture tuning.
type CaptureConfig struct {
	ActiveIntervalSeconds     int `toml:"active_interval_seconds"`
	StationaryIntervalSeconds int `toml:"stationary_interval_seconds"`
	MaxIntervalSeconds        int `toml:"max_interval_seconds"`
	HeartbeatSeconds          int `toml:"heartbeat_seconds"`
	FixTimeoutSeconds         int `toml:"fix_timeout_seconds"`
}

// SyncConfig holds sync scheduling and batching settings.
type SyncConfig struct {
	IntervalSeconds     int `toml:"interval_seconds"` // how often the agent considers a sync run
	BatchSize           int `toml:"batch_size"`
	RetryCeiling        int `toml:"retry_ceiling"`
	BackoffFloorSeconds int `toml:"backoff_floor_seconds"`
	BackoffCapSeconds   int `toml:"backoff_cap_seconds"`
}

// GapsConfig holds gap detection thresholds.
type GapsConfig struct {
	FreshnessSeconds  int `toml:"freshness_seconds"`  // silence before a gap opens
	EscalationSeconds int `toml:"escalation_seconds"` // silence before recovery is requested
}

// ShiftConfig holds shift lifecycle settings.
type ShiftConfig struct {
	GracePeriodMinutes int `toml:"grace_period_minutes"`
}

// StorageConfig caps on-device row counts. Synced rows beyond the cap are
// pruned oldest-first.
type StorageConfig struct {
	MaxSampleRows     int `toml:"max_sample_rows"`
	MaxDiagnosticRows int `toml:"max_diagnostic_rows"`
}

// NewConfig creates a new Config with the provided identities and defaults
// suitable for a first run.
func NewConfig(deviceID, employeeID, baseDir string) *Config {
	return &Config{
		DeviceID:   deviceID,
		EmployeeID: employeeID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Keys: KeysConfig{
			KeyPath: filepath.Join(baseDir, "keys", "store.key"),
		},
		Remote: RemoteConfig{
			Type:           "http",
			TimeoutSeconds: 30,
		},
		Capture: CaptureConfig{
			ActiveIntervalSeconds:     15,
			StationaryIntervalSeconds: 120,
			MaxIntervalSeconds:        480,
			HeartbeatSeconds:          30,
			FixTimeoutSeconds:         10,
		},
		Sync: SyncConfig{
			IntervalSeconds:     60,
			BatchSize:           50,
			RetryCeiling:        3,
			BackoffFloorSeconds: 30,
			BackoffCapSeconds:   1800,
		},
		Gaps: GapsConfig{
			FreshnessSeconds:  90,
			EscalationSeconds: 180,
		},
		Shift: ShiftConfig{
			GracePeriodMinutes: 5,
		},
		Storage: StorageConfig{
			MaxSampleRows:     50000,
			MaxDiagnosticRows: 5000,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
