package gesture

// Begin starts an attempt at p on surface s.
// Only a start inside the top-left corner moves to DESCENDING; anywhere else
// the returned state is idle and the touch is not tracked.
func Begin(cfg Config, s Surface, p Sample) State {
	st := NewState()
	st.Surface = s

	if !cfg.Classify(s, p).Has(ZoneTop | ZoneLeft) {
		return st
	}
	st.Phase = PhaseDescending
	st.MinYAtStart = p.Y
	st.MaxYReached = p.Y
	return st
}

// Advance applies one move sample. Rules for a phase are evaluated in order
// and an abort test runs after the advance test, so an abort wins when both
// hold for the same sample.
//
// CROSSING has no left-drift abort; only ASCENDING aborts on drifting back
// into the left band.
func Advance(cfg Config, st State, p Sample) State {
	z := cfg.Classify(st.Surface, p)

	switch st.Phase {
	case PhaseDescending:
		st.MaxYReached = raise(st.MaxYReached, p.Y)
		if z.Has(ZoneBottom) {
			st.Phase = PhaseCrossing
		}
		if z.Has(ZoneRight) {
			return st.idle()
		}

	case PhaseCrossing:
		st.MaxYReached = raise(st.MaxYReached, p.Y)
		if z.Has(ZoneRight | ZoneBottom) {
			st.Phase = PhaseAscending
			st.MinYAtEnd = p.Y
		}
		if z.Has(ZoneTop) {
			return st.idle()
		}

	case PhaseAscending:
		st.MinYAtEnd = lower(st.MinYAtEnd, p.Y)
		st = complete(cfg, st, z)
		if z.Has(ZoneLeft) {
			return st.idle()
		}
	}
	return st
}

// Finish re-evaluates the ASCENDING -> COMPLETE test with the lift-off
// coordinate. It does not track the sample otherwise.
func Finish(cfg Config, st State, p Sample) State {
	if st.Phase != PhaseAscending {
		return st
	}
	return complete(cfg, st, cfg.Classify(st.Surface, p))
}

// Replay runs a full attempt: the first sample starts it, the rest are moves,
// and the last one is also the lift-off point.
func Replay(cfg Config, s Surface, samples ...Sample) State {
	if len(samples) == 0 {
		st := NewState()
		st.Surface = s
		return st
	}
	st := Begin(cfg, s, samples[0])
	for _, p := range samples[1:] {
		st = Advance(cfg, st, p)
	}
	return Finish(cfg, st, samples[len(samples)-1])
}

func complete(cfg Config, st State, z Zone) State {
	if st.Phase != PhaseAscending || !z.Has(ZoneRight|ZoneTop) {
		return st
	}
	if st.VerticalTravel() > st.Surface.Height*cfg.MinVerticalTravel {
		st.Phase = PhaseComplete
	}
	return st
}

// raise and lower ignore NaN so a bad sample cannot poison the session.
func raise(cur, y float64) float64 {
	if y > cur {
		return y
	}
	return cur
}

func lower(cur, y float64) float64 {
	if y < cur {
		return y
	}
	return cur
}
