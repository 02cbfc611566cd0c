package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string

	// Warning marks issues that do not stop the daemon.
	Warning bool
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrInvalidConfig) match a non-empty set.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && e.HasErrors()
}

// Warnings returns only warning-level issues.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if err.Warning {
			out = append(out, err)
		}
	}
	return out
}

// Errors returns only error-level issues.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if !err.Warning {
			out = append(out, err)
		}
	}
	return out
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ValidateConfig checks every section. It returns nil when there are no
// issues at all, and a ValidationErrors otherwise; callers that tolerate
// warnings check HasErrors.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateGesture(c)...)
	errs = append(errs, validateEmergency(&c.Emergency)...)
	errs = append(errs, validateOverlay(&c.Overlay)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fraction reports whether v is a finite value in [0, 1]. NaN fails.
func fraction(v float64) bool {
	return v >= 0 && v <= 1
}

func checkFractions(prefix string, fields map[string]float64) ValidationErrors {
	var errs ValidationErrors
	for name, v := range fields {
		if !fraction(v) {
			errs = append(errs, ValidationError{
				Field:   prefix + "." + name,
				Message: fmt.Sprintf("must be a fraction between 0 and 1, got %v", v),
			})
		}
	}
	return errs
}

func validateGesture(c *Config) ValidationErrors {
	g := c.Gesture
	errs := checkFractions("gesture", map[string]float64{
		"left_zone_max_x":     g.LeftZoneMaxX,
		"right_zone_min_x":    g.RightZoneMinX,
		"top_zone_max_y":      g.TopZoneMaxY,
		"bottom_zone_min_y":   g.BottomZoneMinY,
		"min_vertical_travel": g.MinVerticalTravel,
	})

	if g.LeftZoneMaxX >= g.RightZoneMinX {
		errs = append(errs, ValidationError{
			Field:   "gesture.right_zone_min_x",
			Message: "right zone must start to the right of where the left zone ends",
		})
	}
	if g.TopZoneMaxY >= g.BottomZoneMinY {
		errs = append(errs, ValidationError{
			Field:   "gesture.bottom_zone_min_y",
			Message: "bottom zone must start below where the top zone ends",
		})
	}
	return errs
}

func validateEmergency(e *EmergencyConfig) ValidationErrors {
	var errs ValidationErrors

	if e.RequiredTaps < 1 {
		errs = append(errs, ValidationError{
			Field:   "emergency.required_taps",
			Message: "at least one tap is required",
		})
	}
	if e.TimeoutMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "emergency.timeout_ms",
			Message: "tap timeout must be positive",
		})
	}

	r := e.Region
	errs = append(errs, checkFractions("emergency.region", map[string]float64{
		"left": r.Left, "top": r.Top, "right": r.Right, "bottom": r.Bottom,
	})...)
	if r.Left >= r.Right || r.Top >= r.Bottom {
		errs = append(errs, ValidationError{
			Field:   "emergency.region",
			Message: "region is empty",
		})
	}
	return errs
}

func validateOverlay(o *OverlayConfig) ValidationErrors {
	var errs ValidationErrors

	if o.DimAlpha < 0 || o.DimAlpha > 255 {
		errs = append(errs, ValidationError{
			Field:   "overlay.dim_alpha",
			Message: "must be between 0 and 255",
		})
	}
	if o.CaptionFadeMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "overlay.caption_fade_ms",
			Message: "cannot be negative",
		})
	} else if o.CaptionFadeMs == 0 {
		errs = append(errs, ValidationError{
			Field:   "overlay.caption_fade_ms",
			Message: "emergency caption is never shown",
			Warning: true,
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes to a file",
			})
		}
		if l.MaxSizeMB < 1 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "max size must be at least 1 MB",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "max backups cannot be negative"})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_age_days", Message: "max age cannot be negative"})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors
	if !j.Enabled {
		return errs
	}

	if j.Path == "" {
		errs = append(errs, ValidationError{Field: "journal.path", Message: "path is required when the journal is enabled"})
	}
	if j.SecretPath == "" {
		errs = append(errs, ValidationError{Field: "journal.secret_path", Message: "secret path is required when the journal is enabled"})
	}
	if j.RetainDays < 0 {
		errs = append(errs, ValidationError{Field: "journal.retain_days", Message: "retention cannot be negative"})
	}
	return errs
}

var octalMode = regexp.MustCompile(`^0[0-7]{3}$`)

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors
	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}
	if i.Permissions != "" && !octalMode.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}
	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{Field: "ipc.max_connections", Message: "max connections must be at least 1"})
	}
	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{Field: "ipc.timeout_sec", Message: "timeout must be at least 1 second"})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if !m.Enabled {
		return errs
	}

	host, _, err := net.SplitHostPort(m.ListenAddr)
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid address %q: %v", m.ListenAddr, err),
		})
		return errs
	}

	ip := net.ParseIP(host)
	if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: "metrics are exposed beyond this machine",
			Warning: true,
		})
	}
	return errs
}
