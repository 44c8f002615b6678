// Package model loads YAML model descriptions and builds them into a
// sim.Simulator. It covers compartmental models: categorical state with
// Bernoulli, infection and delayed transitions, periodic numeric increments
// and per-category census rendering.
package model

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/individual-sim/individual/sim"
)

// Variable kinds.
const (
	KindCategorical = "categorical"
	KindInteger     = "integer"
	KindDouble      = "double"
)

// Process types.
const (
	ProcessInfection         = "infection"
	ProcessTransition        = "transition"
	ProcessDelayedTransition = "delayed_transition"
	ProcessIncrement         = "increment"
	ProcessCensus            = "census"
)

// ModelSpec is the top-level model configuration.
// Loaded from YAML via LoadModelSpec(path).
type ModelSpec struct {
	Population int            `yaml:"population"`
	Timesteps  int64          `yaml:"timesteps"`
	Seed       int64          `yaml:"seed"`
	Variables  []VariableSpec `yaml:"variables"`
	Processes  []ProcessSpec  `yaml:"processes"`
}

// VariableSpec declares one variable.
//
// Categorical variables assign Initial[c] individuals to category c, in
// category order starting at index 0, or in a seeded random order when
// Shuffle is set; the counts must sum to the population.
// Numeric variables start with every individual at Fill.
type VariableSpec struct {
	Name       string         `yaml:"name"`
	Kind       string         `yaml:"kind"`
	Categories []string       `yaml:"categories,omitempty"`
	Initial    map[string]int `yaml:"initial,omitempty"`
	Shuffle    bool           `yaml:"shuffle,omitempty"`
	Fill       float64        `yaml:"fill,omitempty"`
}

// ProcessSpec declares one process. Which fields apply depends on Type.
type ProcessSpec struct {
	Name       string    `yaml:"name"`
	Type       string    `yaml:"type"`
	Variable   string    `yaml:"variable"`
	From       string    `yaml:"from,omitempty"`
	To         string    `yaml:"to,omitempty"`
	Infectious string    `yaml:"infectious,omitempty"` // infection: category that transmits
	Beta       float64   `yaml:"beta,omitempty"`       // infection: transmission rate per step
	Rate       float64   `yaml:"rate,omitempty"`       // transition: per-step probability
	Delay      *DistSpec `yaml:"delay,omitempty"`      // delayed_transition: delay distribution
	Period     int64     `yaml:"period,omitempty"`     // increment: timesteps between firings
	Amount     float64   `yaml:"amount,omitempty"`     // increment: value added per firing
}

// DistSpec parameterizes a delay distribution in timesteps.
//
//	constant:    value
//	exponential: mean
//	poisson:     mean
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// LoadModelSpec reads and validates a model file. Unknown keys are errors.
func LoadModelSpec(path string) (*ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model spec: %w", err)
	}
	return ParseModelSpec(data)
}

// ParseModelSpec decodes and validates a model from YAML bytes.
func ParseModelSpec(data []byte) (*ModelSpec, error) {
	var spec ModelSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing model spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the structural rules that do not need a built simulator.
// Category and delay checks happen in Build, against the engine's errors.
func (s *ModelSpec) Validate() error {
	if s.Population <= 0 {
		return fmt.Errorf("population must be positive, got %d", s.Population)
	}
	if s.Timesteps < 0 {
		return fmt.Errorf("timesteps must not be negative, got %d", s.Timesteps)
	}
	seen := make(map[string]string, len(s.Variables))
	for i, v := range s.Variables {
		if v.Name == "" {
			return fmt.Errorf("variables[%d]: name is required", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("variables[%d]: duplicate name %q", i, v.Name)
		}
		switch v.Kind {
		case KindCategorical:
			if len(v.Categories) == 0 {
				return fmt.Errorf("variable %q: categorical needs categories", v.Name)
			}
		case KindInteger, KindDouble:
			if len(v.Categories) > 0 || len(v.Initial) > 0 || v.Shuffle {
				return fmt.Errorf("variable %q: %s takes fill, not categories", v.Name, v.Kind)
			}
		default:
			return fmt.Errorf("variable %q: unknown kind %q", v.Name, v.Kind)
		}
		seen[v.Name] = v.Kind
	}
	names := make(map[string]bool, len(s.Processes))
	for i, p := range s.Processes {
		if p.Name == "" {
			return fmt.Errorf("processes[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("processes[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		kind, ok := seen[p.Variable]
		if !ok {
			return fmt.Errorf("process %q: unknown variable %q", p.Name, p.Variable)
		}
		switch p.Type {
		case ProcessInfection, ProcessTransition, ProcessDelayedTransition, ProcessCensus:
			if kind != KindCategorical {
				return fmt.Errorf("process %q: %s needs a categorical variable, %q is %s", p.Name, p.Type, p.Variable, kind)
			}
		case ProcessIncrement:
			if kind == KindCategorical {
				return fmt.Errorf("process %q: %s needs a numeric variable, %q is %s", p.Name, p.Type, p.Variable, kind)
			}
		default:
			return fmt.Errorf("process %q: unknown type %q", p.Name, p.Type)
		}
		switch p.Type {
		case ProcessInfection:
			if !(p.Beta >= 0) {
				return fmt.Errorf("process %q: beta %v must not be negative: %w", p.Name, p.Beta, sim.ErrInvalidQuery)
			}
		case ProcessTransition:
			if !(p.Rate >= 0 && p.Rate <= 1) {
				return fmt.Errorf("process %q: rate %v not in [0, 1]: %w", p.Name, p.Rate, sim.ErrInvalidQuery)
			}
		}
	}
	return nil
}
