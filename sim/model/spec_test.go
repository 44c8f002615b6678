package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sirYAML = `
population: 1000
timesteps: 60
seed: 7
variables:
  - name: health
    kind: categorical
    categories: [S, I, R]
    initial: {S: 990, I: 10}
  - name: age
    kind: integer
    fill: 20
processes:
  - name: infection
    type: infection
    variable: health
    from: S
    to: I
    infectious: I
    beta: 0.4
  - name: recovery
    type: delayed_transition
    variable: health
    from: I
    to: R
    delay:
      type: exponential
      params: {mean: 5}
  - name: birthday
    type: increment
    variable: age
    period: 10
    amount: 1
  - name: census
    type: census
    variable: health
`

func TestLoadModelSpec_ValidYAML_LoadsCorrectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sirYAML), 0644))

	spec, err := LoadModelSpec(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, spec.Population)
	assert.Equal(t, int64(60), spec.Timesteps)
	require.Len(t, spec.Variables, 2)
	assert.Equal(t, map[string]int{"S": 990, "I": 10}, spec.Variables[0].Initial)
	require.Len(t, spec.Processes, 4)
	assert.Equal(t, 5.0, spec.Processes[1].Delay.Params["mean"])
}

func TestLoadModelSpec_MissingFile(t *testing.T) {
	_, err := LoadModelSpec(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseModelSpec_UnknownKey_ReturnsError(t *testing.T) {
	_, err := ParseModelSpec([]byte("population: 10\ntimestepz: 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestepz")
}

func TestParseModelSpec_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no population", "timesteps: 1\n", "population"},
		{"negative timesteps", "population: 1\ntimesteps: -1\n", "timesteps"},
		{"unknown kind", "population: 1\nvariables:\n  - {name: x, kind: text}\n", "unknown kind"},
		{"duplicate variable", "population: 1\nvariables:\n  - {name: x, kind: integer}\n  - {name: x, kind: double}\n", "duplicate"},
		{"categorical without categories", "population: 1\nvariables:\n  - {name: x, kind: categorical}\n", "needs categories"},
		{"unknown process variable", "population: 1\nprocesses:\n  - {name: p, type: census, variable: y}\n", "unknown variable"},
		{"unknown process type", "population: 1\nvariables:\n  - {name: x, kind: integer}\nprocesses:\n  - {name: p, type: teleport, variable: x}\n", "unknown type"},
		{"increment on categorical", "population: 1\nvariables:\n  - {name: x, kind: categorical, categories: [a]}\nprocesses:\n  - {name: p, type: increment, variable: x}\n", "numeric"},
		{"transition rate above one", "population: 1\nvariables:\n  - {name: x, kind: categorical, categories: [a, b]}\nprocesses:\n  - {name: p, type: transition, variable: x, from: a, to: b, rate: 1.5}\n", "rate 1.5 not in [0, 1]"},
		{"negative transition rate", "population: 1\nvariables:\n  - {name: x, kind: categorical, categories: [a, b]}\nprocesses:\n  - {name: p, type: transition, variable: x, from: a, to: b, rate: -0.1}\n", "rate"},
		{"negative beta", "population: 1\nvariables:\n  - {name: x, kind: categorical, categories: [a, b]}\nprocesses:\n  - {name: p, type: infection, variable: x, from: a, to: b, infectious: b, beta: -1}\n", "beta"},
		{"shuffle on numeric", "population: 1\nvariables:\n  - {name: x, kind: integer, shuffle: true}\n", "takes fill"},
		{"census on integer", "population: 1\nvariables:\n  - {name: x, kind: integer}\nprocesses:\n  - {name: p, type: census, variable: x}\n", "categorical"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModelSpec([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}
