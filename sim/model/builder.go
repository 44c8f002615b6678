package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/individual-sim/individual/sim"
)

// Model is a built simulation plus its variables, looked up by name.
type Model struct {
	Sim         *sim.Simulator
	Categorical map[string]*sim.CategoricalVariable
	Integer     map[string]*sim.IntegerVariable
	Double      map[string]*sim.DoubleVariable
}

// BuildOptions override values from the spec. Zero values keep the spec.
type BuildOptions struct {
	Seed          *int64
	Timesteps     *int64
	CommitWorkers int
}

// Build turns spec into a ready-to-run Model.
func Build(spec *ModelSpec, opts BuildOptions) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	seed, timesteps := spec.Seed, spec.Timesteps
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	if opts.Timesteps != nil {
		timesteps = *opts.Timesteps
	}
	s, err := sim.NewSimulator(sim.SimConfig{
		Population:    spec.Population,
		Timesteps:     timesteps,
		Seed:          seed,
		CommitWorkers: opts.CommitWorkers,
	})
	if err != nil {
		return nil, err
	}
	m := &Model{
		Sim:         s,
		Categorical: make(map[string]*sim.CategoricalVariable),
		Integer:     make(map[string]*sim.IntegerVariable),
		Double:      make(map[string]*sim.DoubleVariable),
	}
	for _, v := range spec.Variables {
		if err := m.addVariable(spec.Population, v); err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
	}
	for _, p := range spec.Processes {
		if err := m.addProcess(p); err != nil {
			return nil, fmt.Errorf("process %q: %w", p.Name, err)
		}
	}
	logrus.Debugf("Built model with %d variables and %d processes", len(spec.Variables), len(spec.Processes))
	return m, nil
}

func (m *Model) addVariable(n int, v VariableSpec) error {
	switch v.Kind {
	case KindCategorical:
		initial := make([]string, 0, n)
		for _, c := range v.Categories {
			for k := 0; k < v.Initial[c]; k++ {
				initial = append(initial, c)
			}
		}
		if v.Shuffle {
			rng := m.Sim.RNG(sim.SubsystemSetup)
			rng.Shuffle(len(initial), func(i, j int) { initial[i], initial[j] = initial[j], initial[i] })
		}
		for c := range v.Initial {
			if !contains(v.Categories, c) {
				return fmt.Errorf("initial count for %q: %w", c, sim.ErrUnknownCategory)
			}
		}
		cv, err := sim.NewCategoricalVariable(n, v.Categories, initial)
		if err != nil {
			return err
		}
		m.Categorical[v.Name] = cv
		return m.Sim.AddVariable(cv)
	case KindInteger:
		if v.Fill != math.Trunc(v.Fill) {
			return fmt.Errorf("integer fill %v is fractional", v.Fill)
		}
		initial := make([]int, n)
		for i := range initial {
			initial[i] = int(v.Fill)
		}
		iv, err := sim.NewIntegerVariable(n, initial)
		if err != nil {
			return err
		}
		m.Integer[v.Name] = iv
		return m.Sim.AddVariable(iv)
	default:
		initial := make([]float64, n)
		for i := range initial {
			initial[i] = v.Fill
		}
		dv, err := sim.NewDoubleVariable(n, initial)
		if err != nil {
			return err
		}
		m.Double[v.Name] = dv
		return m.Sim.AddVariable(dv)
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (m *Model) addProcess(p ProcessSpec) error {
	switch p.Type {
	case ProcessInfection:
		return m.addInfection(p)
	case ProcessTransition:
		return m.addTransition(p)
	case ProcessDelayedTransition:
		return m.addDelayedTransition(p)
	case ProcessIncrement:
		return m.addIncrement(p)
	case ProcessCensus:
		return m.addCensus(p)
	}
	return fmt.Errorf("unknown process type %q", p.Type)
}

func (m *Model) categories(p ProcessSpec, names ...string) (*sim.CategoricalVariable, error) {
	v := m.Categorical[p.Variable]
	for _, c := range names {
		if !contains(v.Categories(), c) {
			return nil, fmt.Errorf("category %q of %q: %w", c, p.Variable, sim.ErrUnknownCategory)
		}
	}
	return v, nil
}

// addInfection moves each susceptible individual with probability
// 1 - exp(-beta * I / N), I being the committed count of Infectious.
func (m *Model) addInfection(p ProcessSpec) error {
	v, err := m.categories(p, p.From, p.To, p.Infectious)
	if err != nil {
		return err
	}
	rng := m.Sim.RNG(sim.SubsystemProcess(p.Name))
	n := float64(v.Size())
	m.Sim.AddProcess(p.Name, func(t int64) error {
		infectious, err := v.SizeOf(p.Infectious)
		if err != nil {
			return err
		}
		if infectious == 0 {
			return nil
		}
		susceptible, err := v.IndexOf(p.From)
		if err != nil {
			return err
		}
		foi := 1 - math.Exp(-p.Beta*float64(infectious)/n)
		if _, err := susceptible.Sample(rng, foi); err != nil {
			return err
		}
		return v.QueueUpdate(p.To, susceptible)
	})
	return nil
}

// addTransition moves each member of From to To with probability Rate per step.
func (m *Model) addTransition(p ProcessSpec) error {
	v, err := m.categories(p, p.From, p.To)
	if err != nil {
		return err
	}
	rng := m.Sim.RNG(sim.SubsystemProcess(p.Name))
	m.Sim.AddProcess(p.Name, func(t int64) error {
		movers, err := v.IndexOf(p.From)
		if err != nil {
			return err
		}
		if _, err := movers.Sample(rng, p.Rate); err != nil {
			return err
		}
		return v.QueueUpdate(p.To, movers)
	})
	return nil
}

// addDelayedTransition gives every individual entering From a fire time
// drawn from Delay; when it fires, the individual moves to To. Individuals
// that leave From some other way have their pending firing cancelled.
func (m *Model) addDelayedTransition(p ProcessSpec) error {
	v, err := m.categories(p, p.From, p.To)
	if err != nil {
		return err
	}
	if p.Delay == nil {
		return fmt.Errorf("delay distribution is required: %w", sim.ErrInvalidDelay)
	}
	draw, err := newDelaySampler(*p.Delay, m.Sim.RNG(sim.SubsystemProcess(p.Name)))
	if err != nil {
		return err
	}
	te, err := sim.NewTargetedEvent(p.Name, v.Size())
	if err != nil {
		return err
	}
	fired := sim.NewBitset(v.Size())
	te.AddListener(func(t int64, target *sim.Bitset) error {
		if _, err := fired.Or(target); err != nil {
			return err
		}
		return v.QueueUpdate(p.To, target)
	})
	if err := m.Sim.AddEvent(te); err != nil {
		return err
	}
	m.Sim.AddProcess(p.Name, func(t int64) error {
		inFrom, err := v.IndexOf(p.From)
		if err != nil {
			return err
		}
		scheduled := te.Scheduled()
		stale, err := scheduled.Copy().SetDifference(inFrom)
		if err != nil {
			return err
		}
		if err := te.ClearSchedule(stale); err != nil {
			return err
		}
		entering, err := inFrom.SetDifference(scheduled)
		if err != nil {
			return err
		}
		if _, err := entering.SetDifference(fired); err != nil {
			return err
		}
		fired.Clear()
		delays := make([]int64, entering.Size())
		for k := range delays {
			if delays[k], err = draw(); err != nil {
				return err
			}
		}
		return te.ScheduleEach(entering, delays)
	})
	return nil
}

// addIncrement adds Amount to every individual every Period steps, driven by
// a global Event that reschedules itself.
func (m *Model) addIncrement(p ProcessSpec) error {
	if p.Period <= 0 {
		return fmt.Errorf("period %d: %w", p.Period, sim.ErrInvalidDelay)
	}
	ev := sim.NewEvent(p.Name)
	if iv, ok := m.Integer[p.Variable]; ok {
		if p.Amount != math.Trunc(p.Amount) {
			return fmt.Errorf("integer amount %v is fractional", p.Amount)
		}
		amount := int(p.Amount)
		ev.AddListener(func(t int64) error {
			values, err := iv.Values(nil)
			if err != nil {
				return err
			}
			for i := range values {
				values[i] += amount
			}
			return iv.QueueUpdate(values, nil)
		})
	} else {
		dv := m.Double[p.Variable]
		ev.AddListener(func(t int64) error {
			values, err := dv.Values(nil)
			if err != nil {
				return err
			}
			for i := range values {
				values[i] += p.Amount
			}
			return dv.QueueUpdate(values, nil)
		})
	}
	ev.AddListener(func(t int64) error {
		return ev.Schedule(p.Period)
	})
	if err := m.Sim.AddEvent(ev); err != nil {
		return err
	}
	return ev.Schedule(p.Period)
}

// addCensus renders "<variable>_<category>_count" for every category at
// every step, from the state committed at the start of the step.
func (m *Model) addCensus(p ProcessSpec) error {
	v := m.Categorical[p.Variable]
	render := m.Sim.Render()
	names := make(map[string]string)
	for _, c := range v.Categories() {
		names[c] = fmt.Sprintf("%s_%s_count", p.Variable, c)
	}
	m.Sim.AddProcess(p.Name, func(t int64) error {
		for _, c := range v.Categories() {
			n, err := v.SizeOf(c)
			if err != nil {
				return err
			}
			if err := render.Render(names[c], float64(n), t); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// newDelaySampler returns a function drawing delays in whole timesteps.
// Continuous draws are rounded up so every delay is at least one step.
func newDelaySampler(d DistSpec, rng *rand.Rand) (func() (int64, error), error) {
	switch d.Type {
	case "constant":
		delay, err := sim.ValidateDelay(d.Params["value"])
		if err != nil {
			return nil, err
		}
		return func() (int64, error) { return delay, nil }, nil
	case "exponential":
		mean := d.Params["mean"]
		if !(mean > 0) {
			return nil, fmt.Errorf("exponential mean %v: %w", mean, sim.ErrInvalidDelay)
		}
		dist := distuv.Exponential{Rate: 1 / mean, Src: rng}
		return func() (int64, error) {
			return sim.ValidateDelay(math.Max(1, math.Ceil(dist.Rand())))
		}, nil
	case "poisson":
		mean := d.Params["mean"]
		if !(mean > 0) {
			return nil, fmt.Errorf("poisson mean %v: %w", mean, sim.ErrInvalidDelay)
		}
		dist := distuv.Poisson{Lambda: mean, Src: rng}
		return func() (int64, error) {
			return sim.ValidateDelay(math.Max(1, dist.Rand()))
		}, nil
	}
	return nil, fmt.Errorf("unknown delay distribution %q", d.Type)
}
