package gesture

import (
	"math"
	"math/rand/v2"
	"testing"
)

var tall = Surface{Width: 1000, Height: 2000}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseDescending, "descending"},
		{PhaseCrossing, "crossing"},
		{PhaseAscending, "ascending"},
		{PhaseComplete, "complete"},
		{Phase(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		p    Sample
		want Zone
	}{
		{Sample{100, 100}, ZoneTop | ZoneLeft},
		{Sample{900, 100}, ZoneTop | ZoneRight},
		{Sample{100, 1900}, ZoneBottom | ZoneLeft},
		{Sample{900, 1900}, ZoneBottom | ZoneRight},
		{Sample{500, 1000}, 0},
		{Sample{350, 900}, 0},  // band edges are exclusive
		{Sample{650, 1100}, 0}, // band edges are exclusive
		{Sample{-50, -50}, ZoneTop | ZoneLeft},
		{Sample{math.NaN(), math.NaN()}, 0},
	}
	for _, tt := range tests {
		if got := cfg.Classify(tall, tt.p); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestZoneHas(t *testing.T) {
	z := ZoneTop | ZoneLeft
	if !z.Has(ZoneTop) || !z.Has(ZoneTop|ZoneLeft) {
		t.Error("expected top|left to contain top and top|left")
	}
	if z.Has(ZoneTop | ZoneRight) {
		t.Error("top|left must not contain top|right")
	}
	if z.Has(0) {
		t.Error("no zone set is ever matched by the empty set")
	}
	if got := (ZoneBottom | ZoneRight).String(); got != "bottom|right" {
		t.Errorf("String() = %q", got)
	}
}

func TestBeginOnlyInTopLeft(t *testing.T) {
	cfg := DefaultConfig()
	surfaces := []Surface{{1000, 2000}, {1080, 1920}, {320, 480}, {2560, 1440}, {1, 1}}

	for _, s := range surfaces {
		inside := Sample{X: s.Width * 0.1, Y: s.Height * 0.1}
		if st := Begin(cfg, s, inside); st.Phase != PhaseDescending {
			t.Errorf("surface %v: start at %v gave %s, want descending", s, inside, st.Phase)
		}

		outside := []Sample{
			{X: s.Width * 0.5, Y: s.Height * 0.1},
			{X: s.Width * 0.1, Y: s.Height * 0.5},
			{X: s.Width * 0.9, Y: s.Height * 0.1},
			{X: s.Width * 0.9, Y: s.Height * 0.9},
			{X: s.Width * 0.35, Y: s.Height * 0.1},
		}
		for _, p := range outside {
			if st := Begin(cfg, s, p); st.Phase != PhaseIdle {
				t.Errorf("surface %v: start at %v gave %s, want idle", s, p, st.Phase)
			}
		}
	}
}

func TestBeginInitializesSession(t *testing.T) {
	st := Begin(DefaultConfig(), tall, Sample{100, 300})
	if st.MinYAtStart != 300 || st.MaxYReached != 300 {
		t.Errorf("session = (%v, %v), want (300, 300)", st.MinYAtStart, st.MaxYReached)
	}
	if !math.IsInf(st.MinYAtEnd, 1) {
		t.Errorf("MinYAtEnd = %v, want +Inf", st.MinYAtEnd)
	}
	if st.Surface != tall {
		t.Errorf("Surface = %v, want %v", st.Surface, tall)
	}
}

func TestUShapeUnlocks(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 100, 1000, 2000)
	c.OnMove(100, 1200)
	if c.Phase() != PhaseCrossing {
		t.Fatalf("after descent phase = %s, want crossing", c.Phase())
	}
	c.OnMove(900, 1200)
	if c.Phase() != PhaseAscending {
		t.Fatalf("after crossing phase = %s, want ascending", c.Phase())
	}
	c.OnMove(900, 200)

	if got := c.State().VerticalTravel(); got != 1100 {
		t.Errorf("vertical travel = %v, want 1100", got)
	}
	if !c.OnEnd(900, 200) {
		t.Fatalf("expected U-shape to unlock, phase = %s", c.Phase())
	}
}

func TestShallowUShapeRejected(t *testing.T) {
	// Ends below the top band, so the completion test never fires.
	st := Replay(DefaultConfig(), tall,
		Sample{100, 400}, Sample{100, 1120}, Sample{900, 1120}, Sample{900, 1080})
	if st.Complete() {
		t.Fatal("gesture ending outside the top-right band must not unlock")
	}

	// Reaches the top-right band but travel is 1150-800 = 350, not above 400.
	st = Replay(DefaultConfig(), tall,
		Sample{100, 800}, Sample{100, 1150}, Sample{900, 1150}, Sample{900, 850})
	if st.Complete() {
		t.Fatalf("travel %v must not clear the 400 floor", st.VerticalTravel())
	}
	if st.Phase != PhaseAscending {
		t.Errorf("phase = %s, want ascending", st.Phase)
	}

	// Starting higher gives 1150-600 = 550 and passes.
	if !Replay(DefaultConfig(), tall,
		Sample{100, 600}, Sample{100, 1150}, Sample{900, 1150}, Sample{900, 850}).Complete() {
		t.Error("travel 550 should clear the 400 floor")
	}

	// A stricter floor rejects the same deeper path.
	cfg := DefaultConfig()
	cfg.MinVerticalTravel = 0.5
	if Replay(cfg, tall,
		Sample{100, 600}, Sample{100, 1150}, Sample{900, 1150}, Sample{900, 850}).Complete() {
		t.Error("travel 550 must not clear a 1000 floor")
	}
}

func TestStraightSwipeNeverUnlocks(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 900, 1000, 2000)
	if c.Phase() != PhaseIdle {
		t.Fatalf("start at y=900 must stay idle, got %s", c.Phase())
	}
	c.OnMove(900, 900)
	if c.OnEnd(900, 900) {
		t.Fatal("horizontal swipe unlocked")
	}
}

func TestWithoutBottomCrossingNeverCompletes(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 2000; i++ {
		c := NewClassifier(cfg)
		c.OnStart(rng.Float64()*340, rng.Float64()*890, tall.Width, tall.Height)
		if c.Phase() != PhaseDescending {
			t.Fatalf("iteration %d: start did not descend", i)
		}
		n := 1 + rng.IntN(40)
		var x, y float64
		for j := 0; j < n; j++ {
			x = rng.Float64()*1200 - 100
			y = rng.Float64() * 1100 // never beyond the bottom edge at 1100
			c.OnMove(x, y)
			if p := c.Phase(); p != PhaseDescending && p != PhaseIdle {
				t.Fatalf("iteration %d: reached %s without crossing the bottom band", i, p)
			}
		}
		if c.OnEnd(x, y) {
			t.Fatalf("iteration %d: completed without crossing the bottom band", i)
		}
	}
}

func TestResetIsIdempotent(t *testing.T) {
	fresh := NewClassifier(DefaultConfig())

	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 100, 1000, 2000)
	c.OnMove(100, 1200)
	c.OnMove(900, 1200)

	c.Reset()
	once := c.State()
	c.Reset()
	twice := c.State()

	if once != twice {
		t.Errorf("second reset changed state: %+v -> %+v", once, twice)
	}
	if twice != fresh.State() {
		t.Errorf("reset state %+v differs from fresh %+v", twice, fresh.State())
	}
}

func TestAborts(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		samples []Sample
	}{
		{"descending drifts right", []Sample{{100, 100}, {100, 600}, {700, 700}}},
		{"descending reaches bottom right at once", []Sample{{100, 100}, {900, 1500}}},
		{"crossing rises back", []Sample{{100, 100}, {100, 1500}, {300, 800}}},
		{"ascending drifts left", []Sample{{100, 100}, {100, 1500}, {900, 1500}, {300, 1200}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Begin(cfg, tall, tt.samples[0])
			for _, p := range tt.samples[1:] {
				st = Advance(cfg, st, p)
			}
			want := NewState()
			want.Surface = tall
			if st != want {
				t.Errorf("state = %+v, want neutral idle", st)
			}
		})
	}
}

// CROSSING does not abort when the pointer drifts back into the left band;
// only ASCENDING checks for left drift.
func TestCrossingIgnoresLeftDrift(t *testing.T) {
	cfg := DefaultConfig()
	st := Replay(cfg, tall,
		Sample{100, 100}, Sample{100, 1500}, Sample{20, 1500}, Sample{900, 1500}, Sample{900, 200})
	if !st.Complete() {
		t.Fatalf("phase = %s, want complete", st.Phase)
	}
}

func TestCompletionAtLiftOff(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 100, 1000, 2000)
	c.OnMove(100, 1200)
	c.OnMove(900, 1200)
	if c.IsComplete() {
		t.Fatal("completed before lift-off")
	}
	if !c.OnEnd(900, 200) {
		t.Fatal("lift-off in the top-right band should complete")
	}
}

func TestLiftOffOutsideAscendingIsIgnored(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 100, 1000, 2000)
	c.OnMove(100, 1200)
	if c.OnEnd(900, 200) {
		t.Fatal("lift-off from crossing must not complete")
	}
	if c.Phase() != PhaseCrossing {
		t.Errorf("phase = %s, want crossing", c.Phase())
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnStart(100, 100, 1000, 2000)
	for _, p := range []Sample{{100, 1200}, {900, 1200}, {900, 200}, {100, 200}, {500, 1900}} {
		c.OnMove(p.X, p.Y)
	}
	if !c.IsComplete() {
		t.Fatalf("phase = %s, want complete", c.Phase())
	}
	if !c.OnEnd(100, 1900) {
		t.Error("OnEnd after completion must still report complete")
	}
}

func TestJitteryUShapeUnlocks(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	jitter := func() float64 { return rng.Float64()*40 - 20 }

	c := NewClassifier(DefaultConfig())
	c.OnStart(150, 200, 1000, 2000)
	for y := 200.0; y <= 1500; y += 25 {
		c.OnMove(150+jitter(), y+jitter())
	}
	for x := 150.0; x <= 850; x += 25 {
		c.OnMove(x+jitter(), 1500+jitter())
	}
	var x, y float64
	for y = 1500.0; y >= 200; y -= 25 {
		x = 850 + jitter()
		c.OnMove(x, y+jitter())
	}
	if !c.OnEnd(x, y) {
		t.Fatalf("jittery U-shape rejected, phase = %s", c.Phase())
	}
}

func TestNaNSamplesNeverPanicOrComplete(t *testing.T) {
	nan := math.NaN()
	cfg := DefaultConfig()

	if st := Begin(cfg, tall, Sample{nan, 100}); st.Phase != PhaseIdle {
		t.Errorf("NaN start gave %s", st.Phase)
	}
	if st := Begin(cfg, Surface{nan, nan}, Sample{100, 100}); st.Phase != PhaseIdle {
		t.Errorf("NaN surface gave %s", st.Phase)
	}

	// A NaN mid-attempt leaves progress and session values untouched.
	prefixes := [][]Sample{
		{{100, 100}},
		{{100, 100}, {100, 1200}},
		{{100, 100}, {100, 1200}, {900, 1200}},
	}
	for _, prefix := range prefixes {
		st := Begin(cfg, tall, prefix[0])
		for _, p := range prefix[1:] {
			st = Advance(cfg, st, p)
		}
		before := st
		st = Advance(cfg, st, Sample{nan, nan})
		if st != before {
			t.Errorf("NaN sample in %s changed state: %+v -> %+v", before.Phase, before, st)
		}
		st = Finish(cfg, st, Sample{nan, nan})
		if st.Complete() {
			t.Errorf("NaN lift-off completed from %s", before.Phase)
		}
	}

	// Infinite coordinates are just far away.
	st := Replay(cfg, tall, Sample{100, 100}, Sample{math.Inf(1), 1200})
	if st.Phase != PhaseIdle {
		t.Errorf("+Inf x while descending gave %s, want idle", st.Phase)
	}
}

func TestMoveWithoutStartIsNoop(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	c.OnMove(900, 200)
	if c.OnEnd(900, 200) {
		t.Fatal("end without start completed")
	}
	if c.State() != NewState() {
		t.Errorf("state changed: %+v", c.State())
	}
}

func TestReplayMatchesClassifier(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(3, 5))

	for i := 0; i < 500; i++ {
		n := 2 + rng.IntN(12)
		samples := make([]Sample, n)
		for j := range samples {
			samples[j] = Sample{X: rng.Float64() * 1000, Y: rng.Float64() * 2000}
		}
		samples[0] = Sample{X: rng.Float64() * 300, Y: rng.Float64() * 800}

		c := NewClassifier(cfg)
		c.OnStart(samples[0].X, samples[0].Y, tall.Width, tall.Height)
		for _, p := range samples[1:] {
			c.OnMove(p.X, p.Y)
		}
		last := samples[n-1]
		c.OnEnd(last.X, last.Y)

		if got := Replay(cfg, tall, samples...); got != c.State() {
			t.Fatalf("iteration %d: Replay = %+v, classifier = %+v", i, got, c.State())
		}
	}
}

func TestReplayEmpty(t *testing.T) {
	st := Replay(DefaultConfig(), tall)
	if st.Phase != PhaseIdle || st.Surface != tall {
		t.Errorf("Replay() = %+v", st)
	}
}
