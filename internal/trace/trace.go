// Package trace loads recorded pointer traces and replays them through a
// fresh router, so unlock behaviour can be checked without a screen.
//
// A trace is JSON or YAML and is validated against an embedded JSON Schema
// before it is decoded.
package trace

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

// ErrInvalidTrace is returned for traces that cannot be decoded or do not
// match the schema.
var ErrInvalidTrace = errors.New("trace: invalid trace")

//go:embed trace.schema.json
var schemaJSON []byte

const schemaURL = "https://screenguard.local/schema/trace-v1.schema.json"

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

// Event is one recorded pointer event. TMs is milliseconds since the start
// of the recording.
type Event struct {
	Action string  `json:"action" yaml:"action"`
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	TMs    int64   `json:"t_ms,omitempty" yaml:"t_ms,omitempty"`
}

// Trace is a recorded touch session.
type Trace struct {
	Name         string          `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Surface      gesture.Surface `json:"surface" yaml:"surface"`
	Events       []Event         `json:"events" yaml:"events"`
	ExpectUnlock *bool           `json:"expect_unlock,omitempty" yaml:"expect_unlock,omitempty"`
	ExpectSource string          `json:"expect_source,omitempty" yaml:"expect_source,omitempty"`
}

// Load reads a trace file. ".yaml" and ".yml" are YAML; anything else is JSON.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes and validates a trace. ext selects the format as in Load.
func Parse(data []byte, ext string) (*Trace, error) {
	var doc any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode YAML: %v", ErrInvalidTrace, err)
		}
		// Normalize to the JSON data model the validator expects.
		normalized, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
		}
		data = normalized
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode JSON: %v", ErrInvalidTrace, err)
	}

	schema, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compile trace schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}

	var tr Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrace, err)
	}
	return &tr, nil
}

// Save writes tr as YAML or JSON depending on the extension of path.
func Save(tr *Trace, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(tr)
	default:
		data, err = json.MarshalIndent(tr, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Recorder builds a trace from live pointer events.
type Recorder struct {
	mu    sync.Mutex
	trace Trace
	start int64
	begun bool
}

// NewRecorder starts an empty recording on the given surface.
func NewRecorder(name string, s gesture.Surface) *Recorder {
	return &Recorder{trace: Trace{Name: name, Surface: s}}
}

// Add appends e observed at clock reading nowMillis.
func (r *Recorder) Add(e router.Event, nowMillis int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		r.start = nowMillis
		r.begun = true
	}
	r.trace.Events = append(r.trace.Events, Event{
		Action: e.Action.String(),
		X:      e.X,
		Y:      e.Y,
		TMs:    nowMillis - r.start,
	})
}

// Resize updates the recorded surface. Only the last size is kept.
func (r *Recorder) Resize(s gesture.Surface) {
	r.mu.Lock()
	r.trace.Surface = s
	r.mu.Unlock()
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trace.Events)
}

// Trace returns a copy of the recording.
func (r *Recorder) Trace() *Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr := r.trace
	tr.Events = append([]Event(nil), r.trace.Events...)
	return &tr
}
