package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"time"
)

// CrashReport is the JSON document written when a guarded goroutine panics.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Component    string    `json:"component"`
	Task         string    `json:"task"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
}

// CrashHandler turns panics in daemon goroutines into crash dumps and an
// error log line instead of taking the process down.
type CrashHandler struct {
	dir       string
	component string
	logger    *slog.Logger
}

// NewCrashHandler creates a handler writing dumps to dir. An empty dir
// disables dumps; panics are still logged.
func NewCrashHandler(dir, component string, logger *slog.Logger) *CrashHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CrashHandler{dir: dir, component: component, logger: logger}
}

// Guard runs fn and recovers a panic from it. It reports whether fn
// returned normally.
func (h *CrashHandler) Guard(task string, fn func()) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			h.handle(task, v)
			ok = false
		}
	}()
	fn()
	return true
}

func (h *CrashHandler) handle(task string, v any) {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Component:    h.component,
		Task:         task,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(v),
		StackTrace:   string(debug.Stack()),
	}

	path, err := h.write(report)
	if err != nil {
		h.logger.Error("recovered panic", "task", task, "panic", report.PanicValue, "dump_error", err)
		return
	}
	h.logger.Error("recovered panic", "task", task, "panic", report.PanicValue, "dump", path)
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if h.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.dir, 0o750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}

	name := fmt.Sprintf("crash-%s-%s.json", report.Task, report.Timestamp.Format("20060102-150405.000000"))
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads the stored crash dumps, oldest first.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	if h.dir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var r CrashReport
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Timestamp.Before(reports[j].Timestamp) })
	return reports, nil
}
