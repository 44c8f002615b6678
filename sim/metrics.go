// Tracks run-wide counters such as steps executed, updates committed and events fired.

package sim

import (
	"fmt"
	"io"
	"time"
)

// Metrics aggregates statistics about a run for final reporting.
type Metrics struct {
	StepsCompleted   int64         // Number of timesteps fully committed
	ProcessCalls     int64         // Total process invocations
	EventsFired      int64         // Total event firings (global and targeted)
	UpdatesCommitted int64         // Total queued updates applied at commit
	WallTime         time.Duration // Wall clock time spent in Run
}

// NewMetrics returns zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print displays aggregated metrics at the end of a run.
func (m *Metrics) Print(w io.Writer, population int, horizon int64) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Population           : %d\n", population)
	fmt.Fprintf(w, "Timesteps            : %d / %d\n", m.StepsCompleted, horizon)
	fmt.Fprintf(w, "Process Calls        : %d\n", m.ProcessCalls)
	fmt.Fprintf(w, "Events Fired         : %d\n", m.EventsFired)
	fmt.Fprintf(w, "Updates Committed    : %d\n", m.UpdatesCommitted)
	if m.StepsCompleted > 0 {
		fmt.Fprintf(w, "Average Step Time    : %v\n", m.WallTime/time.Duration(m.StepsCompleted))
	}
	fmt.Fprintf(w, "Wall Time            : %v\n", m.WallTime)
}

// StepStats describes one committed timestep. It is passed to the step
// observer after the commit.
type StepStats struct {
	Timestep         int64
	EventsFired      int
	UpdatesCommitted int
	Duration         time.Duration
}
