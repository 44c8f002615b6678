package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T, n int, steps int64) *Simulator {
	t.Helper()
	s, err := NewSimulator(SimConfig{Population: n, Timesteps: steps, Seed: 42})
	require.NoError(t, err)
	return s
}

func TestNewSimulator_RejectsBadConfig(t *testing.T) {
	_, err := NewSimulator(SimConfig{Population: 0, Timesteps: 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = NewSimulator(SimConfig{Population: 1, Timesteps: -1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSimulator_AddVariable_SizeMustMatchPopulation(t *testing.T) {
	s := newTestSimulator(t, 10, 1)
	assert.ErrorIs(t, s.AddVariable(newCounting(t, 9)), ErrLengthMismatch)

	v := newCounting(t, 10)
	require.NoError(t, s.AddVariable(v))
	assert.Error(t, s.AddVariable(v), "same variable twice")

	te, err := NewTargetedEvent("te", 9)
	require.NoError(t, err)
	assert.ErrorIs(t, s.AddEvent(te), ErrLengthMismatch)
}

func TestSimulator_SIRScenario(t *testing.T) {
	// GIVEN N=10, all S
	s := newTestSimulator(t, 10, 1)
	v := newSIR(t, 10)
	require.NoError(t, s.AddVariable(v))

	// WHEN step 1 queues {0,1,2} to I
	s.AddProcess("infect", func(now int64) error {
		if now == 1 {
			return v.QueueUpdateAt("I", []int{0, 1, 2})
		}
		return nil
	})
	require.NoError(t, s.Run())

	// THEN after commit I=3, S=7
	n, err := v.SizeOf("I")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = v.SizeOf("S")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, int64(1), s.Clock())
}

func TestSimulator_ProcessesAndListenersSeeSameSnapshot(t *testing.T) {
	// GIVEN a counter variable and an event firing every step
	s := newTestSimulator(t, 3, 4)
	v := newCounting(t, 3)
	require.NoError(t, s.AddVariable(v))
	ev := NewEvent("every")
	require.NoError(t, s.AddEvent(ev))
	require.NoError(t, ev.Schedule(1))

	var observed [][]int
	observe := func() error {
		vals, err := v.Values(nil)
		if err != nil {
			return err
		}
		observed = append(observed, vals)
		return nil
	}
	ev.AddListener(func(int64) error {
		if err := observe(); err != nil {
			return err
		}
		if err := v.QueueUpdate([]int{100}, nil); err != nil {
			return err
		}
		return ev.Schedule(1)
	})
	s.AddProcess("first", func(int64) error {
		if err := observe(); err != nil {
			return err
		}
		return v.QueueUpdateAt([]int{-1}, []int{0})
	})
	s.AddProcess("second", func(int64) error { return observe() })

	require.NoError(t, s.Step())

	// THEN everyone in step 1 saw the initial state
	require.Len(t, observed, 3)
	for _, o := range observed {
		assert.Equal(t, []int{0, 1, 2}, o)
	}
	// AND the commit applied both updates in queue order
	got, err := v.Values(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 100, 100}, got)
}

func TestSimulator_SetupQueuedStateCommitsBeforeFirstStep(t *testing.T) {
	s := newTestSimulator(t, 10, 3)
	te, err := NewTargetedEvent("recover", 10)
	require.NoError(t, err)
	require.NoError(t, s.AddEvent(te))
	require.NoError(t, te.Schedule(mustBitset(t, 10, 2, 5), 3))

	var seen [][]int
	var fired []int
	te.AddListener(func(_ int64, target *Bitset) error {
		fired = target.ToSlice()
		return nil
	})
	s.AddProcess("watch", func(int64) error {
		seen = append(seen, te.Scheduled().ToSlice())
		return nil
	})
	require.NoError(t, s.Run())

	// scheduled during t=1,2; fired at t=3 before processes ran
	assert.Equal(t, [][]int{{2, 5}, {2, 5}, {}}, seen)
	assert.Equal(t, []int{2, 5}, fired)
	assert.True(t, te.Scheduled().IsEmpty())
	assert.Equal(t, int64(1), s.Metrics.EventsFired)
}

func TestSimulator_StepCommitsSetupSchedules(t *testing.T) {
	// GIVEN a global event and a targeted event scheduled during setup
	s := newTestSimulator(t, 4, 5)
	ev := NewEvent("tick")
	te, err := NewTargetedEvent("recover", 4)
	require.NoError(t, err)
	require.NoError(t, s.AddEvent(ev))
	require.NoError(t, s.AddEvent(te))

	var evAt []int64
	ev.AddListener(func(now int64) error {
		evAt = append(evAt, now)
		return nil
	})
	var teAt []int64
	var teTarget []int
	te.AddListener(func(now int64, target *Bitset) error {
		teAt = append(teAt, now)
		teTarget = target.ToSlice()
		return nil
	})
	require.NoError(t, ev.Schedule(1, 3))
	require.NoError(t, te.Schedule(mustBitset(t, 4, 1), 1))

	// WHEN the run is driven by Step alone
	for k := 0; k < 5; k++ {
		require.NoError(t, s.Step())
	}

	// THEN every firing happened at its step and nothing stays scheduled
	assert.Equal(t, []int64{1, 3}, evAt)
	assert.Equal(t, []int64{1}, teAt)
	assert.Equal(t, []int{1}, teTarget)
	assert.Empty(t, ev.Scheduled())
	assert.True(t, te.Scheduled().IsEmpty())
	assert.Equal(t, int64(3), s.Metrics.EventsFired)
}

func TestSimulator_StepCommitsUpdatesQueuedBetweenSteps(t *testing.T) {
	// GIVEN a run stepped once
	s := newTestSimulator(t, 3, 3)
	v := newCounting(t, 3)
	require.NoError(t, s.AddVariable(v))
	ev := NewEvent("later")
	require.NoError(t, s.AddEvent(ev))
	var firedAt []int64
	ev.AddListener(func(now int64) error {
		firedAt = append(firedAt, now)
		return nil
	})
	var seen [][]int
	s.AddProcess("watch", func(int64) error {
		vals, err := v.Values(nil)
		seen = append(seen, vals)
		return err
	})
	require.NoError(t, s.Step())

	// WHEN state and a schedule are queued outside any step
	require.NoError(t, v.QueueUpdate([]int{7}, nil))
	require.NoError(t, ev.Schedule(1))
	require.NoError(t, s.Step())

	// THEN step 2 sees the update and the event fires at 2
	assert.Equal(t, [][]int{{0, 1, 2}, {7, 7, 7}}, seen)
	assert.Equal(t, []int64{2}, firedAt)
}

func TestSimulator_ProcessError_AbortsWithoutCommit(t *testing.T) {
	boom := errors.New("boom")
	s := newTestSimulator(t, 4, 5)
	v := newCounting(t, 4)
	require.NoError(t, s.AddVariable(v))
	s.AddProcess("writer", func(int64) error { return v.QueueUpdate([]int{9}, nil) })
	s.AddProcess("failer", func(now int64) error {
		if now == 2 {
			return boom
		}
		return nil
	})

	err := s.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, int64(2), stepErr.Timestep)
	assert.Equal(t, "failer", stepErr.Source)

	// step 1 committed; step 2's queued write was discarded
	assert.Equal(t, int64(1), s.Metrics.StepsCompleted)
	assert.Equal(t, 0, v.PendingUpdates())
	got, err := v.Values(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 9, 9, 9}, got)
}

func TestSimulator_ListenerError_Aborts(t *testing.T) {
	s := newTestSimulator(t, 2, 3)
	ev := NewEvent("bad")
	ev.AddListener(func(int64) error { return errors.New("listener failed") })
	require.NoError(t, s.AddEvent(ev))
	require.NoError(t, ev.Schedule(2))

	err := s.Run()
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "bad", stepErr.Source)
	assert.Equal(t, int64(2), stepErr.Timestep)

	// the failed firing was not consumed, and the run stays aborted
	assert.Equal(t, []int64{2}, ev.Scheduled())
	assert.ErrorIs(t, s.Step(), err)
}

func TestSimulator_StepPastHorizon(t *testing.T) {
	s := newTestSimulator(t, 1, 1)
	require.NoError(t, s.Step())
	assert.ErrorIs(t, s.Step(), ErrIndexOutOfRange)
}

func TestSimulator_ConcurrentCommitMatchesSequential(t *testing.T) {
	run := func(workers int) []int {
		s, err := NewSimulator(SimConfig{Population: 200, Timesteps: 20, Seed: 9, CommitWorkers: workers})
		require.NoError(t, err)
		vars := make([]*CategoricalVariable, 4)
		for k := range vars {
			vars[k] = newSIR(t, 200)
			require.NoError(t, s.AddVariable(vars[k]))
			v := vars[k]
			rng := s.RNG(SubsystemProcess(string(rune('a' + k))))
			s.AddProcess(string(rune('a'+k)), func(int64) error {
				movers, err := v.IndexOf("S", "I")
				if err != nil {
					return err
				}
				if _, err := movers.Sample(rng, 0.1); err != nil {
					return err
				}
				return v.QueueUpdate([]string{"I", "R"}[rng.Intn(2)], movers)
			})
		}
		counts := make([]int, 0, len(vars))
		require.NoError(t, s.Run())
		for _, v := range vars {
			n, err := v.SizeOf("R")
			require.NoError(t, err)
			counts = append(counts, n)
		}
		return counts
	}
	assert.Equal(t, run(1), run(4))
}

func TestSimulator_StepObserver(t *testing.T) {
	s := newTestSimulator(t, 5, 3)
	v := newCounting(t, 5)
	require.NoError(t, s.AddVariable(v))
	s.AddProcess("w", func(int64) error { return v.QueueUpdate([]int{1}, nil) })

	var stats []StepStats
	s.SetStepObserver(func(st StepStats) { stats = append(stats, st) })
	require.NoError(t, s.Run())

	require.Len(t, stats, 3)
	assert.Equal(t, int64(3), stats[2].Timestep)
	assert.Equal(t, 1, stats[0].UpdatesCommitted)
	assert.Equal(t, int64(3), s.Metrics.UpdatesCommitted)
	assert.Equal(t, int64(3), s.Metrics.ProcessCalls)
}
