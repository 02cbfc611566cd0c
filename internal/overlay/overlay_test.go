package overlay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

type fakeClock struct{ now int64 }

func (c *fakeClock) NowMillis() int64 { return c.now }

var uPath = []router.Event{
	{Action: router.ActionDown, X: 100, Y: 100},
	{Action: router.ActionMove, X: 110, Y: 700},
	{Action: router.ActionMove, X: 120, Y: 1300},
	{Action: router.ActionMove, X: 500, Y: 1350},
	{Action: router.ActionMove, X: 880, Y: 1300},
	{Action: router.ActionMove, X: 900, Y: 700},
	{Action: router.ActionMove, X: 900, Y: 200},
	{Action: router.ActionUp, X: 900, Y: 200},
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s := New(router.DefaultConfig(), opts...)
	s.Resize(1000, 2000)
	return s
}

func feed(t *testing.T, s *Service, events []router.Event) (router.Signal, bool) {
	t.Helper()
	for i, e := range events {
		sig, ok, err := s.Handle(e)
		require.NoError(t, err)
		if ok {
			require.Equal(t, len(events)-1, i, "unlocked early")
			return sig, true
		}
	}
	return router.Signal{}, false
}

func TestStartIsIdempotent(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyActive)
	assert.True(t, s.IsActive())
	assert.Equal(t, uint64(1), s.Status().Activations)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsActive())
	assert.ErrorIs(t, s.Stop(), ErrNotActive)
}

func TestHandleWhileIdle(t *testing.T) {
	s := newService(t)
	_, ok, err := s.Handle(router.Event{Action: router.ActionDown, X: 1, Y: 1})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestGestureUnlockTearsDown(t *testing.T) {
	var (
		mu       sync.Mutex
		signals  []router.Signal
		attempts []router.Attempt
	)
	s := newService(t, WithObserver(router.ObserverFunc(func(a router.Attempt) {
		attempts = append(attempts, a)
	})))
	s.OnUnlock(func(sig router.Signal) {
		mu.Lock()
		signals = append(signals, sig)
		mu.Unlock()
		// handlers run unlocked, so calling back in must not deadlock
		assert.False(t, s.IsActive())
	})

	require.NoError(t, s.Start())
	sig, ok := feed(t, s, uPath)
	require.True(t, ok)
	assert.Equal(t, router.SourceGesture, sig.Source)
	assert.False(t, s.IsActive())

	require.Len(t, signals, 1)
	require.Len(t, attempts, 1)
	assert.Equal(t, router.OutcomeCompleted, attempts[0].Outcome)

	st := s.Status()
	assert.Equal(t, uint64(1), st.Unlocks)
	assert.Equal(t, gesture.PhaseIdle.String(), st.Phase)
}

func TestEmergencyUnlock(t *testing.T) {
	clock := &fakeClock{}
	s := newService(t, WithClock(clock))
	require.NoError(t, s.Start())

	required := router.DefaultConfig().Emergency.RequiredTaps
	for i := 0; i < required; i++ {
		clock.now = int64(i) * 300
		_, ok, err := s.Handle(router.Event{Action: router.ActionDown, X: 500, Y: 1900})
		require.NoError(t, err)
		require.False(t, ok, "down never unlocks")

		if i == required-2 {
			st := s.Status()
			assert.Equal(t, required-1, st.EmergencyTaps)
			assert.Equal(t, required, st.Required)
		}

		sig, ok, err := s.Handle(router.Event{Action: router.ActionUp, X: 500, Y: 1900})
		require.NoError(t, err)
		if i < required-1 {
			require.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, router.SourceEmergency, sig.Source)
	}
	assert.False(t, s.IsActive())
}

func TestEachActivationStartsFresh(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Start())
	feed(t, s, uPath[:4])
	assert.Equal(t, gesture.PhaseCrossing.String(), s.Status().Phase)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.Equal(t, gesture.PhaseIdle.String(), s.Status().Phase)

	_, ok := feed(t, s, uPath)
	assert.True(t, ok)
}

func TestSetConfigAppliesToNextActivation(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Start())

	strict := router.DefaultConfig()
	strict.Emergency.RequiredTaps = 3
	s.SetConfig(strict)
	assert.Equal(t, 20, s.Status().Required)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())
	assert.Equal(t, 3, s.Status().Required)
}

func TestLifecycleHooks(t *testing.T) {
	s := newService(t)
	var activations, stops, unlocks int
	s.OnActivate(func() { activations++ })
	s.OnStop(func() { stops++ })
	s.OnUnlock(func(router.Signal) { unlocks++ })

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyActive)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotActive)

	require.NoError(t, s.Start())
	feed(t, s, uPath)

	assert.Equal(t, 2, activations)
	assert.Equal(t, 1, stops, "an unlock is not a stop")
	assert.Equal(t, 1, unlocks)
}

func TestConcurrentHandle(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.Start())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Handle(router.Event{Action: router.ActionMove, X: float64(i), Y: float64(i)})
				s.Status()
			}
		}()
	}
	wg.Wait()
	assert.True(t, s.IsActive())
}
