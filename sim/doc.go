// Package sim provides the discrete-time engine for individual-based models.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - bitset.go: Bitset, the fixed-capacity population subset used everywhere
//   - categorical.go, numeric.go: per-individual state and its update queues
//   - event.go, targeted_event.go: global and per-individual scheduled firings
//   - simulator.go: the timestep loop (fire events, run processes, commit)
//
// # Update Model
//
// Nothing a process or listener does is visible until the end of the step.
// Variable updates and schedule changes are appended to a per-store log and
// applied by the Simulator in a single commit phase, in submission order,
// so the last queued write to an individual wins.
//
// # Errors
//
// Engine errors wrap the sentinels in errors.go and are detected before any
// state changes. A process or listener error aborts the run with a *StepError.
package sim
