package sim

import (
	"fmt"
)

// Number is the value type of a numeric variable.
type Number interface {
	~int | ~float64
}

// Range is the half-open interval [Lower, Upper).
type Range[T Number] struct {
	Lower T
	Upper T
}

// Query selects individuals of a numeric variable either by value
// membership (Set) or by value range (Range). Exactly one must be given.
type Query[T Number] struct {
	Set   []T
	Range *Range[T]
}

// IntegerQuery queries an IntegerVariable.
type IntegerQuery = Query[int]

// DoubleQuery queries a DoubleVariable.
type DoubleQuery = Query[float64]

// numericUpdate is one queued write. A nil indices slice addresses the whole
// population; a single value is a fill.
type numericUpdate[T Number] struct {
	indices []int
	values  []T
}

// numericStore holds one value per individual plus its update log. It is the
// shared implementation behind IntegerVariable and DoubleVariable.
type numericStore[T Number] struct {
	values  []T
	updates []numericUpdate[T]
}

func newNumericStore[T Number](size int, initial []T) (numericStore[T], error) {
	if len(initial) != size {
		return numericStore[T]{}, fmt.Errorf("%d initial values for population %d: %w", len(initial), size, ErrLengthMismatch)
	}
	return numericStore[T]{values: append([]T(nil), initial...)}, nil
}

// Size returns the population size.
func (s *numericStore[T]) Size() int { return len(s.values) }

func (s *numericStore[T]) checkBitset(index *Bitset) error {
	if index.max != len(s.values) {
		return fmt.Errorf("index capacity %d for population %d: %w", index.max, len(s.values), ErrCapacityMismatch)
	}
	return nil
}

func (s *numericStore[T]) checkIndices(indices []int) error {
	for _, i := range indices {
		if i < 0 || i >= len(s.values) {
			return fmt.Errorf("index %d not in [0, %d): %w", i, len(s.values), ErrIndexOutOfRange)
		}
	}
	return nil
}

// Values returns the committed values of the members of index in ascending
// index order, or of the whole population when index is nil.
func (s *numericStore[T]) Values(index *Bitset) ([]T, error) {
	if index == nil {
		return append([]T(nil), s.values...), nil
	}
	if err := s.checkBitset(index); err != nil {
		return nil, err
	}
	out := make([]T, 0, index.Size())
	for i := range index.All() {
		out = append(out, s.values[i])
	}
	return out, nil
}

// ValuesAt returns the committed values at the given indices, in the order given.
func (s *numericStore[T]) ValuesAt(indices []int) ([]T, error) {
	if err := s.checkIndices(indices); err != nil {
		return nil, err
	}
	out := make([]T, len(indices))
	for k, i := range indices {
		out[k] = s.values[i]
	}
	return out, nil
}

func validateQuery[T Number](q Query[T]) error {
	switch {
	case q.Set == nil && q.Range == nil:
		return fmt.Errorf("neither set nor range given: %w", ErrInvalidQuery)
	case q.Set != nil && q.Range != nil:
		return fmt.Errorf("both set and range given: %w", ErrInvalidQuery)
	case q.Range != nil && !(q.Range.Lower < q.Range.Upper):
		return fmt.Errorf("empty range [%v, %v): %w", q.Range.Lower, q.Range.Upper, ErrInvalidQuery)
	}
	return nil
}

func (s *numericStore[T]) matcher(q Query[T]) (func(T) bool, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if q.Range != nil {
		lo, hi := q.Range.Lower, q.Range.Upper
		return func(v T) bool { return v >= lo && v < hi }, nil
	}
	set := make(map[T]struct{}, len(q.Set))
	for _, v := range q.Set {
		set[v] = struct{}{}
	}
	return func(v T) bool {
		_, ok := set[v]
		return ok
	}, nil
}

// IndexOf returns the individuals whose committed value matches q.
func (s *numericStore[T]) IndexOf(q Query[T]) (*Bitset, error) {
	match, err := s.matcher(q)
	if err != nil {
		return nil, err
	}
	out := NewBitset(len(s.values))
	for i, v := range s.values {
		if match(v) {
			out.bits.Set(uint(i))
		}
	}
	return out, nil
}

// SizeOf counts the individuals whose committed value matches q.
func (s *numericStore[T]) SizeOf(q Query[T]) (int, error) {
	match, err := s.matcher(q)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range s.values {
		if match(v) {
			n++
		}
	}
	return n, nil
}

// IndexOfSet returns the individuals whose value is one of values.
func (s *numericStore[T]) IndexOfSet(values ...T) (*Bitset, error) {
	if values == nil {
		values = []T{}
	}
	return s.IndexOf(Query[T]{Set: values})
}

// IndexOfRange returns the individuals whose value lies in [lower, upper).
func (s *numericStore[T]) IndexOfRange(lower, upper T) (*Bitset, error) {
	return s.IndexOf(Query[T]{Range: &Range[T]{Lower: lower, Upper: upper}})
}

// QueueUpdate queues a write applied at the next commit. The shape is
// decided by len(values) and index:
//
//	index == nil, len(values) == 1      fill the whole population
//	index == nil, len(values) == Size() reset the whole population
//	index != nil, len(values) == 1      fill the members of index
//	index != nil, len(values) == |index| write values to members in ascending order
//
// Anything else fails with ErrLengthMismatch. Later updates to the same
// individual in one timestep win.
func (s *numericStore[T]) QueueUpdate(values []T, index *Bitset) error {
	if index == nil {
		return s.queueAll(values)
	}
	if err := s.checkBitset(index); err != nil {
		return err
	}
	size := index.Size()
	if len(values) != 1 && len(values) != size {
		return fmt.Errorf("%d values for %d individuals: %w", len(values), size, ErrLengthMismatch)
	}
	if size == 0 {
		return nil
	}
	s.updates = append(s.updates, numericUpdate[T]{
		indices: index.ToSlice(),
		values:  append([]T(nil), values...),
	})
	return nil
}

// QueueUpdateAt is QueueUpdate with an explicit index list; values line up
// with indices in the order given. A nil index list addresses everyone.
func (s *numericStore[T]) QueueUpdateAt(values []T, indices []int) error {
	if indices == nil {
		return s.queueAll(values)
	}
	if err := s.checkIndices(indices); err != nil {
		return err
	}
	if len(values) != 1 && len(values) != len(indices) {
		return fmt.Errorf("%d values for %d indices: %w", len(values), len(indices), ErrLengthMismatch)
	}
	if len(indices) == 0 {
		return nil
	}
	s.updates = append(s.updates, numericUpdate[T]{
		indices: append([]int(nil), indices...),
		values:  append([]T(nil), values...),
	})
	return nil
}

func (s *numericStore[T]) queueAll(values []T) error {
	if len(values) != 1 && len(values) != len(s.values) {
		return fmt.Errorf("%d values for population %d: %w", len(values), len(s.values), ErrLengthMismatch)
	}
	s.updates = append(s.updates, numericUpdate[T]{values: append([]T(nil), values...)})
	return nil
}

// PendingUpdates returns the number of queued writes.
func (s *numericStore[T]) PendingUpdates() int { return len(s.updates) }

func (s *numericStore[T]) commit() {
	for _, u := range s.updates {
		switch {
		case u.indices == nil && len(u.values) == len(s.values):
			copy(s.values, u.values)
		case u.indices == nil:
			for i := range s.values {
				s.values[i] = u.values[0]
			}
		case len(u.values) == 1:
			for _, i := range u.indices {
				s.values[i] = u.values[0]
			}
		default:
			for k, i := range u.indices {
				s.values[i] = u.values[k]
			}
		}
	}
	s.updates = s.updates[:0]
}

func (s *numericStore[T]) discard() { s.updates = s.updates[:0] }

// IntegerVariable holds one integer per individual.
type IntegerVariable struct {
	numericStore[int]
}

// NewIntegerVariable creates a variable over size individuals.
func NewIntegerVariable(size int, initial []int) (*IntegerVariable, error) {
	store, err := newNumericStore(size, initial)
	if err != nil {
		return nil, err
	}
	return &IntegerVariable{numericStore: store}, nil
}

// DoubleVariable holds one real value per individual.
type DoubleVariable struct {
	numericStore[float64]
}

// NewDoubleVariable creates a variable over size individuals.
func NewDoubleVariable(size int, initial []float64) (*DoubleVariable, error) {
	store, err := newNumericStore(size, initial)
	if err != nil {
		return nil, err
	}
	return &DoubleVariable{numericStore: store}, nil
}
