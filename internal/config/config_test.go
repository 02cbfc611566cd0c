package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"screenguard/internal/router"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if !strings.Contains(cfg.Journal.Path, "screenguard") {
		t.Errorf("journal path should live under a screenguard dir: %s", cfg.Journal.Path)
	}
}

func TestRouterConfigMatchesRouterDefaults(t *testing.T) {
	got := DefaultConfig().RouterConfig()
	want := router.DefaultConfig()
	if got != want {
		t.Errorf("RouterConfig() = %+v, want %+v", got, want)
	}
}

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCREENGUARD_DATA_DIR", dir)
	if DataDir() != dir {
		t.Errorf("expected %s, got %s", dir, DataDir())
	}
	if !strings.HasPrefix(DefaultConfig().Journal.Path, dir) {
		t.Errorf("journal path ignores data dir override: %s", DefaultConfig().Journal.Path)
	}
}

func TestConfigPath(t *testing.T) {
	if !strings.HasSuffix(ConfigPath(), "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", ConfigPath())
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Emergency.RequiredTaps != 20 {
		t.Errorf("expected default 20 taps, got %d", cfg.Emergency.RequiredTaps)
	}
}

func TestLoadPartialFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", "[gesture]\nmin_vertical_travel = 0.3\n\n[emergency]\nrequired_taps = 10\n"},
		{"json", "config.json", `{"gesture": {"min_vertical_travel": 0.3}, "emergency": {"required_taps": 10}}`},
		{"yaml", "config.yaml", "gesture:\n  min_vertical_travel: 0.3\nemergency:\n  required_taps: 10\n"},
		{"detected", "screenguard.conf", "[gesture]\nmin_vertical_travel = 0.3\n[emergency]\nrequired_taps = 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Gesture.MinVerticalTravel != 0.3 {
				t.Errorf("min_vertical_travel = %v, want 0.3", cfg.Gesture.MinVerticalTravel)
			}
			if cfg.Emergency.RequiredTaps != 10 {
				t.Errorf("required_taps = %d, want 10", cfg.Emergency.RequiredTaps)
			}
			// untouched fields keep their defaults
			if cfg.Gesture.LeftZoneMaxX != 0.35 {
				t.Errorf("left_zone_max_x = %v, want 0.35", cfg.Gesture.LeftZoneMaxX)
			}
			if cfg.Emergency.TimeoutMs != 5000 {
				t.Errorf("timeout_ms = %d, want 5000", cfg.Emergency.TimeoutMs)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[gesture\nbroken"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestSaveThenLoad(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config"+ext)
			cfg := DefaultConfig()
			cfg.Emergency.Region.Top = 0.8
			cfg.Overlay.Title = "Kiosk"

			if err := Save(cfg, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0o600 {
				t.Errorf("config written with mode %v", info.Mode().Perm())
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if *loaded != *cfg {
				t.Errorf("loaded config differs:\n got %+v\nwant %+v", loaded, cfg)
			}
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !created {
		t.Error("expected the file to be created")
	}
	if cfg.Emergency.RequiredTaps != 20 {
		t.Errorf("unexpected taps %d", cfg.Emergency.RequiredTaps)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# screenguard configuration") {
		t.Errorf("unexpected file header: %q", string(data[:40]))
	}

	_, created, err = LoadOrCreate(path)
	if err != nil || created {
		t.Errorf("second call: created=%v err=%v", created, err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SCREENGUARD_LOG_LEVEL", "debug")
	t.Setenv("SCREENGUARD_SOCKET_PATH", "/tmp/sg-test.sock")
	t.Setenv("SCREENGUARD_EMERGENCY_TAPS", "7")
	t.Setenv("SCREENGUARD_NOTIFY", "false")
	t.Setenv("SCREENGUARD_METRICS_ADDR", "127.0.0.1:9999")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
	if cfg.IPC.SocketPath != "/tmp/sg-test.sock" {
		t.Errorf("socket path = %s", cfg.IPC.SocketPath)
	}
	if cfg.Emergency.RequiredTaps != 7 {
		t.Errorf("required taps = %d", cfg.Emergency.RequiredTaps)
	}
	if cfg.Notify.Enabled {
		t.Error("notify should be disabled")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"version", func(c *Config) { c.Version = 0 }},
		{"gesture.left_zone_max_x", func(c *Config) { c.Gesture.LeftZoneMaxX = -0.1 }},
		{"gesture.top_zone_max_y", func(c *Config) { c.Gesture.TopZoneMaxY = math.NaN() }},
		{"gesture.right_zone_min_x", func(c *Config) { c.Gesture.RightZoneMinX = 0.2 }},
		{"gesture.bottom_zone_min_y", func(c *Config) { c.Gesture.BottomZoneMinY = 0.4 }},
		{"gesture.min_vertical_travel", func(c *Config) { c.Gesture.MinVerticalTravel = 1.5 }},
		{"emergency.required_taps", func(c *Config) { c.Emergency.RequiredTaps = 0 }},
		{"emergency.timeout_ms", func(c *Config) { c.Emergency.TimeoutMs = 0 }},
		{"emergency.region", func(c *Config) { c.Emergency.Region.Top = c.Emergency.Region.Bottom }},
		{"emergency.region.right", func(c *Config) { c.Emergency.Region.Right = 2 }},
		{"overlay.dim_alpha", func(c *Config) { c.Overlay.DimAlpha = 300 }},
		{"logging.level", func(c *Config) { c.Logging.Level = "trace" }},
		{"logging.output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"logging.file_path", func(c *Config) { c.Logging.FilePath = "" }},
		{"journal.path", func(c *Config) { c.Journal.Path = "" }},
		{"ipc.permissions", func(c *Config) { c.IPC.Permissions = "777" }},
		{"ipc.timeout_sec", func(c *Config) { c.IPC.TimeoutSec = 0 }},
		{"metrics.listen_addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "nope" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error does not match ErrInvalidConfig: %v", err)
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs.Errors() {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateDisabledSectionsSkipChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Enabled = false
	cfg.Journal.Path = ""
	cfg.IPC.Enabled = false
	cfg.IPC.SocketPath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "0.0.0.0:9477"
	cfg.Overlay.CaptionFadeMs = 0

	err := cfg.Validate()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if verrs.HasErrors() {
		t.Errorf("warnings reported as errors: %v", verrs.Errors())
	}
	if len(verrs.Warnings()) != 2 {
		t.Errorf("expected 2 warnings, got %v", verrs.Warnings())
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Error("warnings alone should not match ErrInvalidConfig")
	}
}

func TestSocketMode(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SocketMode() != 0o600 {
		t.Errorf("mode = %v", cfg.SocketMode())
	}
	cfg.IPC.Permissions = "0660"
	if cfg.SocketMode() != 0o660 {
		t.Errorf("mode = %v", cfg.SocketMode())
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "warn"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 3

	lc := cfg.LoggerConfig()
	if lc.Level.String() != "WARN" {
		t.Errorf("level = %v", lc.Level)
	}
	if lc.MaxSize != 3 || lc.Output != "file" {
		t.Errorf("unexpected logger config %+v", lc)
	}
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()

	if _, _, err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(old, new *Config) {
		if old.Emergency.RequiredTaps == 20 {
			select {
			case changed <- new:
			default:
			}
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Emergency.RequiredTaps = 5
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got.Emergency.RequiredTaps != 5 {
			t.Errorf("reloaded taps = %d", got.Emergency.RequiredTaps)
		}
		if loader.Config().Emergency.RequiredTaps != 5 {
			t.Error("loader did not keep the new config")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	Save(DefaultConfig(), path)

	loader := NewLoader(path)
	defer loader.Close()
	if _, _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	os.WriteFile(path, []byte("[emergency]\nrequired_taps = 0\n"), 0o600)
	if err := loader.Reload(); err == nil {
		t.Fatal("expected reload to fail")
	}
	if loader.Config().Emergency.RequiredTaps != 20 {
		t.Error("invalid reload replaced the config")
	}
}

func TestLoaderSkipsUnchangedReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(path)
	defer loader.Close()
	if _, _, err := loader.Load(); err != nil {
		t.Fatal(err)
	}

	calls := 0
	loader.OnChange(func(old, new *Config) { calls++ })

	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if calls != 0 {
		t.Errorf("unchanged reload ran %d callbacks", calls)
	}

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("changed reload ran %d callbacks, want 1", calls)
	}
}
