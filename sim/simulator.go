// sim/simulator.go
package sim

import (
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Process is per-timestep model logic. It reads committed state and queues
// updates; a returned error aborts the run.
type Process func(t int64) error

type namedProcess struct {
	name string
	fn   Process
}

// SimConfig configures a Simulator.
type SimConfig struct {
	Population    int   // number of individuals (must be > 0)
	Timesteps     int64 // number of timesteps to run (must be >= 0)
	Seed          int64 // master seed for the PartitionedRNG
	CommitWorkers int   // stores committed concurrently (<= 1 = sequential)
}

// Simulator owns a run: its variables, events, processes, render sink and
// clock. Each timestep t it
//  1. fires the events due at t, in registration order
//  2. calls every process in registration order
//  3. commits every queued variable update and schedule change
//
// so every process and listener in a step observes the same committed state.
type Simulator struct {
	Population int
	Horizon    int64
	Metrics    *Metrics

	clock     int64
	rng       *PartitionedRNG
	render    *Render
	variables []Variable
	events    []Schedulable
	processes []namedProcess
	workers   int
	observer  func(StepStats)
	aborted   *StepError
}

// NewSimulator creates a Simulator at clock 0 (setup).
func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.Population <= 0 {
		return nil, fmt.Errorf("population %d must be positive: %w", cfg.Population, ErrInvalidQuery)
	}
	if cfg.Timesteps < 0 {
		return nil, fmt.Errorf("timesteps %d must not be negative: %w", cfg.Timesteps, ErrInvalidQuery)
	}
	return &Simulator{
		Population: cfg.Population,
		Horizon:    cfg.Timesteps,
		Metrics:    NewMetrics(),
		rng:        NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		render:     NewRender(cfg.Timesteps),
		workers:    cfg.CommitWorkers,
	}, nil
}

// Clock returns the current timestep; 0 before the first step.
func (s *Simulator) Clock() int64 { return s.clock }

// RNG returns the random stream of the named subsystem.
func (s *Simulator) RNG(subsystem string) *rand.Rand {
	return s.rng.ForSubsystem(subsystem)
}

// Render returns the run's render sink.
func (s *Simulator) Render() *Render { return s.render }

// SetStepObserver registers fn to be called after every committed step.
func (s *Simulator) SetStepObserver(fn func(StepStats)) { s.observer = fn }

// AddVariable hands v to the simulator. Its size must match the population.
func (s *Simulator) AddVariable(v Variable) error {
	if v.Size() != s.Population {
		return fmt.Errorf("variable of size %d for population %d: %w", v.Size(), s.Population, ErrLengthMismatch)
	}
	if slices.Contains(s.variables, v) {
		return fmt.Errorf("variable added twice")
	}
	s.variables = append(s.variables, v)
	return nil
}

// AddEvent hands e to the simulator. Events fire in the order added.
func (s *Simulator) AddEvent(e Schedulable) error {
	if te, ok := e.(*TargetedEvent); ok && te.Size() != s.Population {
		return fmt.Errorf("targeted event %s of size %d for population %d: %w", te.Name(), te.Size(), s.Population, ErrLengthMismatch)
	}
	if slices.Contains(s.events, e) {
		return fmt.Errorf("event %s added twice", e.Name())
	}
	e.setClock(s.clock)
	s.events = append(s.events, e)
	return nil
}

// AddProcess appends a process. Processes run in the order added.
func (s *Simulator) AddProcess(name string, fn Process) {
	s.processes = append(s.processes, namedProcess{name: name, fn: fn})
}

// Run steps until the horizon. The first failing process or listener aborts
// the run; that step's queued updates are discarded and a *StepError is
// returned.
func (s *Simulator) Run() error {
	start := time.Now()
	defer func() { s.Metrics.WallTime += time.Since(start) }()

	logrus.Infof("Starting simulation with population=%d, horizon=%d, seed=%d, variables=%d, events=%d, processes=%d",
		s.Population, s.Horizon, s.rng.Key(), len(s.variables), len(s.events), len(s.processes))
	if err := s.commitQueued(); err != nil {
		return err
	}
	for s.clock < s.Horizon {
		if err := s.Step(); err != nil {
			logrus.Errorf("[tick %07d] Simulation aborted: %v", s.clock, err)
			return err
		}
	}
	logrus.Infof("[tick %07d] Simulation ended", s.clock)
	return nil
}

// Step advances the clock by one and executes that timestep. Anything
// queued since the last step, including during setup, is committed first.
func (s *Simulator) Step() error {
	if s.clock >= s.Horizon {
		return fmt.Errorf("clock %d already at horizon %d: %w", s.clock, s.Horizon, ErrIndexOutOfRange)
	}
	if s.aborted != nil {
		return fmt.Errorf("run already aborted: %w", s.aborted)
	}
	if err := s.commitQueued(); err != nil {
		return err
	}
	stepStart := time.Now()
	s.clock++
	t := s.clock
	for _, e := range s.events {
		e.setClock(t)
	}

	fired := 0
	for _, e := range s.events {
		ok, err := e.fire(t)
		if ok {
			fired++
		}
		if err != nil {
			return s.abort(t, e.Name(), err)
		}
	}
	for _, p := range s.processes {
		s.Metrics.ProcessCalls++
		if err := p.fn(t); err != nil {
			return s.abort(t, p.name, err)
		}
	}

	committed, err := s.commit()
	if err != nil {
		return err
	}
	s.Metrics.StepsCompleted++
	s.Metrics.EventsFired += int64(fired)
	stats := StepStats{Timestep: t, EventsFired: fired, UpdatesCommitted: committed, Duration: time.Since(stepStart)}
	logrus.Debugf("[tick %07d] Executed step: events=%d, updates=%d", t, fired, committed)
	if s.observer != nil {
		s.observer(stats)
	}
	return nil
}

// commitQueued commits updates queued outside a step, so they are visible
// to the next step and no schedule lands on a timestep that already ran.
func (s *Simulator) commitQueued() error {
	if s.pendingUpdates() == 0 {
		return nil
	}
	n, err := s.commit()
	logrus.Debugf("[tick %07d] Committed %d updates queued between steps", s.clock, n)
	return err
}

func (s *Simulator) pendingUpdates() int {
	n := 0
	for _, v := range s.variables {
		n += v.PendingUpdates()
	}
	for _, e := range s.events {
		n += e.PendingUpdates()
	}
	return n
}

// commit applies every queued update. Stores are independent, so with
// CommitWorkers > 1 they are committed concurrently; the step's processes
// and listeners have all returned by now.
func (s *Simulator) commit() (int, error) {
	n := s.pendingUpdates()
	s.Metrics.UpdatesCommitted += int64(n)
	if s.workers <= 1 {
		for _, v := range s.variables {
			v.commit()
		}
		for _, e := range s.events {
			e.commit()
		}
		return n, nil
	}
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, v := range s.variables {
		g.Go(func() error {
			v.commit()
			return nil
		})
	}
	for _, e := range s.events {
		g.Go(func() error {
			e.commit()
			return nil
		})
	}
	return n, g.Wait()
}

// abort discards the step's queued updates. The run cannot be stepped again.
func (s *Simulator) abort(t int64, source string, err error) error {
	s.discard()
	s.aborted = &StepError{Timestep: t, Source: source, Err: err}
	return s.aborted
}

func (s *Simulator) discard() {
	for _, v := range s.variables {
		v.discard()
	}
	for _, e := range s.events {
		e.discard()
	}
}
