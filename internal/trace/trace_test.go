package trace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

func TestReplayFixtures(t *testing.T) {
	tests := []struct {
		file     string
		unlocked bool
		source   router.Source
	}{
		{"u_unlock.yaml", true, router.SourceGesture},
		{"straight_swipe.json", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			tr, err := Load(filepath.Join("testdata", tt.file))
			require.NoError(t, err)

			res, err := Run(router.DefaultConfig(), tr, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.unlocked, res.Unlocked)
			assert.Equal(t, tt.source, res.Source)
			assert.Empty(t, res.Mismatch)
			assert.Equal(t, gesture.PhaseIdle, res.FinalPhase)
		})
	}
}

func TestUnlockTimestampComesFromTrace(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "u_unlock.yaml"))
	require.NoError(t, err)

	res, err := Run(router.DefaultConfig(), tr, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(520), res.At)
	assert.Equal(t, len(tr.Events)-1, res.Index)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, router.OutcomeCompleted, res.Attempts[0].Outcome)
	assert.Equal(t, int64(520), res.Attempts[0].End-res.Attempts[0].Start)
}

func TestMismatchReported(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "u_unlock.yaml"))
	require.NoError(t, err)

	cfg := router.DefaultConfig()
	cfg.Gesture.MinVerticalTravel = 0.9 // unreachable on this trace

	res, err := Run(cfg, tr, nil)
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.Equal(t, "expected an unlock, trace stayed locked", res.Mismatch)
}

func TestEmergencyTapTrace(t *testing.T) {
	tr := &Trace{Surface: gesture.Surface{Width: 1000, Height: 2000}}
	for i := 0; i < 20; i++ {
		ts := int64(i) * 400
		tr.Events = append(tr.Events,
			Event{Action: "down", X: 500, Y: 1900, TMs: ts},
			Event{Action: "up", X: 500, Y: 1900, TMs: ts + 50},
		)
	}
	expect := true
	tr.ExpectUnlock = &expect
	tr.ExpectSource = "emergency"

	res, err := Run(router.DefaultConfig(), tr, nil)
	require.NoError(t, err)
	assert.True(t, res.Unlocked)
	assert.Equal(t, router.SourceEmergency, res.Source)
	assert.Equal(t, len(tr.Events)-1, res.Index)
	assert.Empty(t, res.Mismatch)
}

func TestSlowTapsNeverUnlock(t *testing.T) {
	tr := &Trace{Surface: gesture.Surface{Width: 1000, Height: 2000}}
	for i := 0; i < 40; i++ {
		ts := int64(i) * 6_000
		tr.Events = append(tr.Events,
			Event{Action: "down", X: 500, Y: 1900, TMs: ts},
			Event{Action: "up", X: 500, Y: 1900, TMs: ts + 50},
		)
	}

	res, err := Run(router.DefaultConfig(), tr, nil)
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.Equal(t, 1, res.EmergencyTaps)
}

func TestParseRejectsInvalidTraces(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		data string
	}{
		{"not json", ".json", `{`},
		{"missing events", ".json", `{"surface": {"width": 10, "height": 10}}`},
		{"empty events", ".json", `{"surface": {"width": 10, "height": 10}, "events": []}`},
		{"zero surface", ".json", `{"surface": {"width": 0, "height": 10}, "events": [{"action": "down", "x": 1, "y": 1}]}`},
		{"bad action", ".json", `{"surface": {"width": 10, "height": 10}, "events": [{"action": "hover", "x": 1, "y": 1}]}`},
		{"unknown field", ".json", `{"surface": {"width": 10, "height": 10}, "events": [{"action": "down", "x": 1, "y": 1, "z": 3}]}`},
		{"bad yaml", ".yaml", "surface: [\n"},
		{"yaml negative time", ".yaml", "surface: {width: 10, height: 10}\nevents:\n  - {action: down, x: 1, y: 1, t_ms: -5}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.ext)
			assert.ErrorIs(t, err, ErrInvalidTrace)
		})
	}
}

func TestRecorderSaveLoad(t *testing.T) {
	rec := NewRecorder("recorded", gesture.Surface{Width: 800, Height: 600})
	rec.Add(router.Event{Action: router.ActionDown, X: 10, Y: 10}, 5_000)
	rec.Add(router.Event{Action: router.ActionMove, X: 20, Y: 300}, 5_040)
	rec.Add(router.Event{Action: router.ActionUp, X: 20, Y: 300}, 5_090)
	rec.Resize(gesture.Surface{Width: 600, Height: 800})
	assert.Equal(t, 3, rec.Len())

	for _, name := range []string{"rec.yaml", "rec.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, Save(rec.Trace(), path))

		loaded, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, "recorded", loaded.Name)
		assert.Equal(t, gesture.Surface{Width: 600, Height: 800}, loaded.Surface)
		require.Len(t, loaded.Events, 3)
		assert.Equal(t, int64(0), loaded.Events[0].TMs)
		assert.Equal(t, int64(90), loaded.Events[2].TMs)
		assert.Equal(t, "up", loaded.Events[2].Action)
	}
}
