package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelStringRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		got, err := ParseLevel(LevelString(level))
		if err != nil || got != level {
			t.Errorf("LevelString(%v) does not parse back: %v %v", level, got, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "screenguard" {
		t.Errorf("expected component screenguard, got %s", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, "screenguard.log") {
		t.Errorf("unexpected default log path %s", cfg.FilePath)
	}
}

func newBufferLogger(t *testing.T, format Format) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     LevelDebug,
		Format:    format,
		Writer:    &buf,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger, &buf
}

func TestJSONFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatJSON)
	defer logger.Close()

	logger.Info("overlay started", "width", 1080)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "overlay started" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["component"] != "test" {
		t.Errorf("unexpected component %v", entry["component"])
	}
}

func TestRedaction(t *testing.T) {
	logger, buf := newBufferLogger(t, FormatText)
	defer logger.Close()

	logger.Info("journal opened", "hmac_key", "deadbeef", "path", "/tmp/j.db")

	out := buf.String()
	if strings.Contains(out, "deadbeef") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") || !strings.Contains(out, "/tmp/j.db") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"auth_token", true},
		{"hmac_key", true},
		{"private_key", true},
		{"taps", false},
		{"phase", false},
		{"path", false},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			if got := shouldRedact(test.key); got != test.expected {
				t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, got, test.expected)
			}
		})
	}
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	child := logger.WithComponent("ipc")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %s", buf.String())
	}

	logger.SetLevel(LevelDebug)
	child.Debug("shown")
	out := buf.String()
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "component=ipc") {
		t.Errorf("unexpected output: %s", out)
	}
	if child.Level() != LevelDebug {
		t.Errorf("child level = %v", child.Level())
	}
}

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "screenguard.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	line := []byte("pointer down\n")
	n, err := rotator.Write(line)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(line) {
		t.Errorf("expected to write %d bytes, wrote %d", len(line), n)
	}
	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != string(line) {
		t.Errorf("unexpected log content %q", data)
	}
}

func TestFileRotatorRollsOver(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "screenguard.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := rotator.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backups, err := rotator.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("expected 1 backup after pruning, got %d: %v", len(backups), backups)
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current log has %d bytes, want %d", info.Size(), len(chunk))
	}
}

func TestFileRotatorCompresses(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "screenguard.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 5, Compress: true})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	chunk := bytes.Repeat([]byte("y"), 700*1024)
	rotator.Write(chunk)
	rotator.Write(chunk)
	rotator.Close()

	backups, _ := rotator.Backups()
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".gz") {
		t.Errorf("expected one gzipped backup, got %v", backups)
	}
}

func TestCrashHandlerGuard(t *testing.T) {
	dir := t.TempDir()
	logger, buf := newBufferLogger(t, FormatText)
	h := NewCrashHandler(dir, "screenguard", logger.Logger)

	if ok := h.Guard("noop", func() {}); !ok {
		t.Error("Guard reported failure for a clean run")
	}
	if ok := h.Guard("conn", func() { panic("boom") }); ok {
		t.Error("Guard reported success for a panic")
	}

	reports, err := h.Reports()
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 crash report, got %d", len(reports))
	}
	if reports[0].PanicValue != "boom" || reports[0].Task != "conn" {
		t.Errorf("unexpected report %+v", reports[0])
	}
	if !strings.Contains(buf.String(), "recovered panic") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}
