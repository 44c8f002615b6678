package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/bits-and-blooms/bitset"
)

// RenderRow is one (timestep, metric, value) entry of a Render table.
type RenderRow struct {
	Timestep int64
	Metric   string
	Value    float64
}

// Render records named time series with one value per timestep in
// [1, timesteps]. Timesteps that were never rendered hold the metric's
// default, or NaN when no default was set.
type Render struct {
	timesteps int64
	names     []string
	series    map[string][]float64
	rendered  map[string]*bitset.BitSet // timestep t-1 set once Render wrote it
}

// NewRender creates a Render for a run of the given number of timesteps.
// It panics if timesteps is negative; NewSimulator validates it first.
func NewRender(timesteps int64) *Render {
	if timesteps < 0 {
		panic(fmt.Sprintf("sim: negative Render length %d", timesteps))
	}
	return &Render{
		timesteps: timesteps,
		series:    make(map[string][]float64),
		rendered:  make(map[string]*bitset.BitSet),
	}
}

func (r *Render) ensure(name string, fill float64) []float64 {
	s, ok := r.series[name]
	if !ok {
		s = make([]float64, r.timesteps)
		for i := range s {
			s[i] = fill
		}
		r.series[name] = s
		r.rendered[name] = bitset.New(uint(r.timesteps))
		r.names = append(r.names, name)
	}
	return s
}

// SetDefault sets the value of name for every timestep not yet rendered.
// Values already rendered are kept, NaN included.
func (r *Render) SetDefault(name string, value float64) {
	if _, ok := r.series[name]; !ok {
		r.ensure(name, value)
		return
	}
	s, done := r.series[name], r.rendered[name]
	for i := range s {
		if !done.Test(uint(i)) {
			s[i] = value
		}
	}
}

// Render records value for name at timestep t.
func (r *Render) Render(name string, value float64, t int64) error {
	if t < 1 || t > r.timesteps {
		return fmt.Errorf("timestep %d not in [1, %d]: %w", t, r.timesteps, ErrIndexOutOfRange)
	}
	r.ensure(name, math.NaN())[t-1] = value
	r.rendered[name].Set(uint(t - 1))
	return nil
}

// Names returns the metric names in first-rendered order.
func (r *Render) Names() []string {
	return append([]string(nil), r.names...)
}

// Series returns a copy of the values of name, one per timestep.
func (r *Render) Series(name string) ([]float64, bool) {
	s, ok := r.series[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), s...), true
}

// Table flattens every series into rows ordered by metric, then timestep.
func (r *Render) Table() []RenderRow {
	rows := make([]RenderRow, 0, len(r.names)*int(r.timesteps))
	for _, name := range r.names {
		for i, v := range r.series[name] {
			rows = append(rows, RenderRow{Timestep: int64(i + 1), Metric: name, Value: v})
		}
	}
	return rows
}

// WriteCSV writes the Table as "timestep,metric,value" rows with a header.
func (r *Render) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestep", "metric", "value"}); err != nil {
		return err
	}
	for _, row := range r.Table() {
		rec := []string{
			strconv.FormatInt(row.Timestep, 10),
			row.Metric,
			strconv.FormatFloat(row.Value, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
