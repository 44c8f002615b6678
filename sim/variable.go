package sim

// Variable is per-individual state owned by a Simulator. The set of
// implementations is closed: CategoricalVariable, IntegerVariable and
// DoubleVariable.
//
// Reads always observe committed state. Queued updates become visible only
// when the Simulator commits at the end of a timestep.
type Variable interface {
	// Size returns the population size the variable was built for.
	Size() int
	// PendingUpdates returns the number of queued, uncommitted updates.
	PendingUpdates() int

	commit()
	discard()
}

var (
	_ Variable = (*CategoricalVariable)(nil)
	_ Variable = (*IntegerVariable)(nil)
	_ Variable = (*DoubleVariable)(nil)
)
