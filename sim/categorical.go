package sim

import (
	"fmt"
)

type categoricalUpdate struct {
	category int
	target   *Bitset
}

// CategoricalVariable partitions the population into a fixed set of named
// categories. Every individual belongs to exactly one category at any
// committed point in time.
type CategoricalVariable struct {
	size       int
	categories []string
	lookup     map[string]int
	members    []*Bitset
	updates    []categoricalUpdate
}

// NewCategoricalVariable creates a variable over size individuals where
// initial[i] names the category of individual i.
func NewCategoricalVariable(size int, categories []string, initial []string) (*CategoricalVariable, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories given: %w", ErrInvalidQuery)
	}
	if len(initial) != size {
		return nil, fmt.Errorf("%d initial values for population %d: %w", len(initial), size, ErrLengthMismatch)
	}
	v := &CategoricalVariable{
		size:       size,
		categories: append([]string(nil), categories...),
		lookup:     make(map[string]int, len(categories)),
		members:    make([]*Bitset, len(categories)),
	}
	for i, c := range categories {
		if _, dup := v.lookup[c]; dup {
			return nil, fmt.Errorf("duplicate category %q: %w", c, ErrInvalidQuery)
		}
		v.lookup[c] = i
		v.members[i] = NewBitset(size)
	}
	for i, c := range initial {
		k, ok := v.lookup[c]
		if !ok {
			return nil, fmt.Errorf("initial value %q for individual %d: %w", c, i, ErrUnknownCategory)
		}
		v.members[k].bits.Set(uint(i))
	}
	return v, nil
}

// Size returns the population size.
func (v *CategoricalVariable) Size() int { return v.size }

// Categories returns the category names in construction order.
func (v *CategoricalVariable) Categories() []string {
	return append([]string(nil), v.categories...)
}

func (v *CategoricalVariable) resolve(categories []string) ([]int, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories given: %w", ErrInvalidQuery)
	}
	out := make([]int, len(categories))
	for i, c := range categories {
		k, ok := v.lookup[c]
		if !ok {
			return nil, fmt.Errorf("category %q: %w", c, ErrUnknownCategory)
		}
		out[i] = k
	}
	return out, nil
}

// IndexOf returns the individuals currently in any of the named categories.
func (v *CategoricalVariable) IndexOf(categories ...string) (*Bitset, error) {
	ks, err := v.resolve(categories)
	if err != nil {
		return nil, err
	}
	out := v.members[ks[0]].Copy()
	for _, k := range ks[1:] {
		out.bits.InPlaceUnion(v.members[k].bits)
	}
	return out, nil
}

// SizeOf returns the number of individuals in any of the named categories.
// Repeated names are counted once.
func (v *CategoricalVariable) SizeOf(categories ...string) (int, error) {
	ks, err := v.resolve(categories)
	if err != nil {
		return 0, err
	}
	seen := make(map[int]bool, len(ks))
	n := 0
	for _, k := range ks {
		if seen[k] {
			continue
		}
		seen[k] = true
		n += v.members[k].Size()
	}
	return n, nil
}

// CategoryOf returns the committed category of individual i.
func (v *CategoricalVariable) CategoryOf(i int) (string, error) {
	if i < 0 || i >= v.size {
		return "", fmt.Errorf("index %d not in [0, %d): %w", i, v.size, ErrIndexOutOfRange)
	}
	for k, m := range v.members {
		if m.bits.Test(uint(i)) {
			return v.categories[k], nil
		}
	}
	return "", fmt.Errorf("individual %d has no category", i)
}

// QueueUpdate moves target into category at the next commit. When the same
// individual is queued more than once in a timestep, the last queued move wins.
// The target is copied; later changes to it have no effect.
func (v *CategoricalVariable) QueueUpdate(category string, target *Bitset) error {
	k, ok := v.lookup[category]
	if !ok {
		return fmt.Errorf("category %q: %w", category, ErrUnknownCategory)
	}
	if target == nil || target.max != v.size {
		return fmt.Errorf("target for population %d: %w", v.size, ErrCapacityMismatch)
	}
	if target.IsEmpty() {
		return nil
	}
	v.updates = append(v.updates, categoricalUpdate{category: k, target: target.Copy()})
	return nil
}

// QueueUpdateAt is QueueUpdate for an explicit index list.
func (v *CategoricalVariable) QueueUpdateAt(category string, indices []int) error {
	target, err := BitsetFromSlice(v.size, indices)
	if err != nil {
		return err
	}
	return v.QueueUpdate(category, target)
}

// PendingUpdates returns the number of queued moves.
func (v *CategoricalVariable) PendingUpdates() int { return len(v.updates) }

func (v *CategoricalVariable) commit() {
	for _, u := range v.updates {
		for k, m := range v.members {
			if k == u.category {
				m.bits.InPlaceUnion(u.target.bits)
			} else {
				m.bits.InPlaceDifference(u.target.bits)
			}
		}
	}
	v.updates = v.updates[:0]
}

func (v *CategoricalVariable) discard() { v.updates = v.updates[:0] }
