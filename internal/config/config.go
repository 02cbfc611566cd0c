// Package config handles configuration loading, validation, and management for screenguard.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"screenguard/internal/emergency"
	"screenguard/internal/gesture"
	"screenguard/internal/logging"
	"screenguard/internal/router"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Gesture holds the U-shape zone tuning.
	Gesture gesture.Config `toml:"gesture" json:"gesture" yaml:"gesture"`

	// Emergency holds the tap-to-exit settings.
	Emergency EmergencyConfig `toml:"emergency" json:"emergency" yaml:"emergency"`

	// Overlay holds the presentation of the overlay window.
	Overlay OverlayConfig `toml:"overlay" json:"overlay" yaml:"overlay"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Journal configuration for the attempt audit trail.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// IPC configuration for the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Metrics configuration for the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Notify configuration for desktop bus signals.
	Notify NotifyConfig `toml:"notify" json:"notify" yaml:"notify"`
}

// EmergencyConfig holds the tap-to-exit settings.
type EmergencyConfig struct {
	// TimeoutMs is the longest gap between two taps of one run.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`

	// RequiredTaps is the run length that unlocks.
	RequiredTaps int `toml:"required_taps" json:"required_taps" yaml:"required_taps"`

	// Region is the caption area that counts taps, as surface fractions.
	Region router.Region `toml:"region" json:"region" yaml:"region"`
}

// OverlayConfig holds the presentation of the overlay window.
type OverlayConfig struct {
	Title       string `toml:"title" json:"title" yaml:"title"`
	Instruction string `toml:"instruction" json:"instruction" yaml:"instruction"`
	Caption     string `toml:"caption" json:"caption" yaml:"caption"`

	// CaptionFadeMs is how long the emergency caption stays visible after
	// the overlay appears or after the last tap.
	CaptionFadeMs int `toml:"caption_fade_ms" json:"caption_fade_ms" yaml:"caption_fade_ms"`

	// DimAlpha is the opacity of the background veil, 0-255.
	DimAlpha int `toml:"dim_alpha" json:"dim_alpha" yaml:"dim_alpha"`

	ShowGuide bool `toml:"show_guide" json:"show_guide" yaml:"show_guide"`
	ShowTrail bool `toml:"show_trail" json:"show_trail" yaml:"show_trail"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output writes to a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// JournalConfig holds the attempt journal configuration.
type JournalConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// SecretPath is the per-install secret the row MAC key is derived from.
	// It is created on first use.
	SecretPath string `toml:"secret_path" json:"secret_path" yaml:"secret_path"`

	// RetainDays prunes entries older than this on open. 0 keeps everything.
	RetainDays int `toml:"retain_days" json:"retain_days" yaml:"retain_days"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix domain socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode in octal, e.g. "0600".
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
	TimeoutSec     int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// PidFile guards against a second daemon.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the host:port of the /metrics endpoint.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// NotifyConfig holds desktop bus notification settings.
type NotifyConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	run := RuntimeDir()
	em := emergency.DefaultConfig()

	return &Config{
		Version: Version,
		Gesture: gesture.DefaultConfig(),
		Emergency: EmergencyConfig{
			TimeoutMs:    int(em.Timeout / time.Millisecond),
			RequiredTaps: em.RequiredTaps,
			Region:       router.DefaultEmergencyRegion(),
		},
		Overlay: OverlayConfig{
			Title:         "Screen Locked",
			Instruction:   "Draw a U from the top left to the top right to unlock",
			Caption:       "Tap here 20 times for emergency exit",
			CaptionFadeMs: 4000,
			DimAlpha:      0xcc,
			ShowGuide:     true,
			ShowTrail:     true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Journal: JournalConfig{
			Enabled:    true,
			Path:       filepath.Join(dir, "journal.db"),
			SecretPath: filepath.Join(dir, "journal.secret"),
			RetainDays: 90,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     filepath.Join(run, "screenguard.sock"),
			Permissions:    "0600",
			MaxConnections: 8,
			TimeoutSec:     10,
			PidFile:        filepath.Join(run, "screenguard.pid"),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9477",
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}

// RouterConfig converts the gesture and emergency sections for the router.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		Gesture: c.Gesture,
		Emergency: emergency.Config{
			Timeout:      time.Duration(c.Emergency.TimeoutMs) * time.Millisecond,
			RequiredTaps: c.Emergency.RequiredTaps,
		},
		EmergencyRegion: c.Emergency.Region,
	}
}

// LoggerConfig converts the logging section. Unknown level or format
// strings fall back to info and text; Validate reports them.
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level, _ = logging.ParseLevel(c.Logging.Level)
	lc.Format, _ = logging.ParseFormat(c.Logging.Format)
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc
}

// SocketMode parses IPC.Permissions, defaulting to 0600.
func (c *Config) SocketMode() os.FileMode {
	mode, err := strconv.ParseUint(c.IPC.Permissions, 8, 32)
	if err != nil {
		return 0o600
	}
	return os.FileMode(mode)
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadOrCreate loads the configuration from path, writing the defaults there
// first if the file does not exist. The bool reports whether it was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Save writes the configuration to path in the format implied by its
// extension, TOML by default.
func Save(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as ".json", ".yaml"/".yml", or TOML for anything else.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# screenguard configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Journal.Path),
		filepath.Dir(c.Journal.SecretPath),
		filepath.Dir(c.IPC.SocketPath),
		filepath.Dir(c.IPC.PidFile),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SCREENGUARD_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SCREENGUARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCREENGUARD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("SCREENGUARD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("SCREENGUARD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("SCREENGUARD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("SCREENGUARD_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("SCREENGUARD_EMERGENCY_TAPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Emergency.RequiredTaps = n
		}
	}
	if v := os.Getenv("SCREENGUARD_NOTIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Notify.Enabled = b
		}
	}
}

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
