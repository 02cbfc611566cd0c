package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DataDir returns the directory holding the journal and its secret.
// SCREENGUARD_DATA_DIR overrides the platform default.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/screenguard/
//   - Linux:   $XDG_DATA_HOME/screenguard or ~/.local/share/screenguard/
//   - Windows: %APPDATA%\screenguard\
func DataDir() string {
	if dir := os.Getenv("SCREENGUARD_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "screenguard")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "screenguard")
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", "screenguard")
	default:
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
}

// ConfigDir returns the directory searched for config files.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/screenguard/
//   - Linux:   $XDG_CONFIG_HOME/screenguard or ~/.config/screenguard/
//   - Windows: %APPDATA%\screenguard\
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return DataDir()
	default:
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
}

// RuntimeDir returns the directory for the control socket and pid file.
func RuntimeDir() string {
	switch runtime.GOOS {
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "screenguard")
		}
		return filepath.Join(os.TempDir(), "screenguard-"+strconv.Itoa(os.Getuid()))
	default:
		return DataDir()
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SupportedConfigFormats returns the config file extensions Load understands.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> found in the working
// directory or ConfigDir, or "" if there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func xdgDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "screenguard")
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, "screenguard")...)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}
