package sim

import (
	"fmt"
	"iter"
	"math/rand"

	"github.com/bits-and-blooms/bitset"
)

// Bitset is a fixed-capacity set of individual indices in [0, N).
//
// And, Or, Xor and SetDifference mutate the receiver and return it so calls
// can be chained after the error check; Not allocates a new complement.
// Bitsets handed out by variables and events are copies and never alias
// live engine state.
type Bitset struct {
	max  int
	bits *bitset.BitSet
}

// NewBitset creates an empty Bitset with capacity n. Like make, it panics
// if n is negative; capacities come from validated population sizes.
func NewBitset(n int) *Bitset {
	if n < 0 {
		panic(fmt.Sprintf("sim: negative Bitset capacity %d", n))
	}
	return &Bitset{max: n, bits: bitset.New(uint(n))}
}

// BitsetFromSlice creates a Bitset of capacity n holding the given indices.
// Duplicates are ignored.
func BitsetFromSlice(n int, indices []int) (*Bitset, error) {
	if n < 0 {
		return nil, fmt.Errorf("capacity %d: %w", n, ErrIndexOutOfRange)
	}
	b := NewBitset(n)
	if err := b.InsertMany(indices); err != nil {
		return nil, err
	}
	return b, nil
}

// FullBitset creates a Bitset of capacity n with every index set.
func FullBitset(n int) *Bitset {
	b := NewBitset(n)
	b.bits.FlipRange(0, uint(b.max))
	return b
}

// MaxSize returns the capacity N.
func (b *Bitset) MaxSize() int { return b.max }

// Size returns the number of members.
func (b *Bitset) Size() int { return int(b.bits.Count()) }

// IsEmpty reports whether the set has no members.
func (b *Bitset) IsEmpty() bool { return b.bits.None() }

// Contains reports whether i is a member. Out-of-range indices are never members.
func (b *Bitset) Contains(i int) bool {
	if i < 0 || i >= b.max {
		return false
	}
	return b.bits.Test(uint(i))
}

func (b *Bitset) checkIndex(i int) error {
	if i < 0 || i >= b.max {
		return fmt.Errorf("index %d not in [0, %d): %w", i, b.max, ErrIndexOutOfRange)
	}
	return nil
}

func (b *Bitset) checkCapacity(other *Bitset) error {
	if other == nil || other.max != b.max {
		otherMax := -1
		if other != nil {
			otherMax = other.max
		}
		return fmt.Errorf("capacity %d vs %d: %w", b.max, otherMax, ErrCapacityMismatch)
	}
	return nil
}

// Insert adds i. Inserting a member is a no-op.
func (b *Bitset) Insert(i int) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Set(uint(i))
	return nil
}

// Remove deletes i. Removing a non-member is a no-op.
func (b *Bitset) Remove(i int) error {
	if err := b.checkIndex(i); err != nil {
		return err
	}
	b.bits.Clear(uint(i))
	return nil
}

// InsertMany adds every index, or none if any is out of range.
func (b *Bitset) InsertMany(indices []int) error {
	for _, i := range indices {
		if err := b.checkIndex(i); err != nil {
			return err
		}
	}
	for _, i := range indices {
		b.bits.Set(uint(i))
	}
	return nil
}

// RemoveMany deletes every index, or none if any is out of range.
func (b *Bitset) RemoveMany(indices []int) error {
	for _, i := range indices {
		if err := b.checkIndex(i); err != nil {
			return err
		}
	}
	for _, i := range indices {
		b.bits.Clear(uint(i))
	}
	return nil
}

// Clear removes all members.
func (b *Bitset) Clear() *Bitset {
	b.bits.ClearAll()
	return b
}

// Copy returns an independent copy.
func (b *Bitset) Copy() *Bitset {
	return &Bitset{max: b.max, bits: b.bits.Clone()}
}

// Equal reports whether both sets have the same capacity and members.
func (b *Bitset) Equal(other *Bitset) bool {
	if other == nil || other.max != b.max {
		return false
	}
	return b.bits.Equal(other.bits)
}

// And intersects the receiver with other in place.
func (b *Bitset) And(other *Bitset) (*Bitset, error) {
	if err := b.checkCapacity(other); err != nil {
		return nil, err
	}
	b.bits.InPlaceIntersection(other.bits)
	return b, nil
}

// Or unions other into the receiver in place.
func (b *Bitset) Or(other *Bitset) (*Bitset, error) {
	if err := b.checkCapacity(other); err != nil {
		return nil, err
	}
	b.bits.InPlaceUnion(other.bits)
	return b, nil
}

// Xor replaces the receiver with the symmetric difference in place.
func (b *Bitset) Xor(other *Bitset) (*Bitset, error) {
	if err := b.checkCapacity(other); err != nil {
		return nil, err
	}
	b.bits.InPlaceSymmetricDifference(other.bits)
	return b, nil
}

// SetDifference removes the members of other from the receiver in place.
func (b *Bitset) SetDifference(other *Bitset) (*Bitset, error) {
	if err := b.checkCapacity(other); err != nil {
		return nil, err
	}
	b.bits.InPlaceDifference(other.bits)
	return b, nil
}

// Not returns a new Bitset holding every index in [0, N) that is not a
// member of the receiver.
func (b *Bitset) Not() *Bitset {
	return &Bitset{max: b.max, bits: b.bits.Complement()}
}

// All iterates members in ascending order.
func (b *Bitset) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i, ok := b.bits.NextSet(0); ok; i, ok = b.bits.NextSet(i + 1) {
			if !yield(int(i)) {
				return
			}
		}
	}
}

// ToSlice returns the members in ascending order.
func (b *Bitset) ToSlice() []int {
	out := make([]int, 0, b.Size())
	for i := range b.All() {
		out = append(out, i)
	}
	return out
}

func checkRate(p float64) error {
	if !(p >= 0 && p <= 1) {
		return fmt.Errorf("rate %v not in [0, 1]: %w", p, ErrInvalidQuery)
	}
	return nil
}

// Sample keeps each member independently with probability rate.
func (b *Bitset) Sample(rng *rand.Rand, rate float64) (*Bitset, error) {
	if err := checkRate(rate); err != nil {
		return nil, err
	}
	switch rate {
	case 1:
		return b, nil
	case 0:
		return b.Clear(), nil
	}
	for i := range b.All() {
		if rng.Float64() >= rate {
			b.bits.Clear(uint(i))
		}
	}
	return b, nil
}

// SampleEach keeps the k-th member (ascending order) with probability
// rates[k]. len(rates) must equal Size().
func (b *Bitset) SampleEach(rng *rand.Rand, rates []float64) (*Bitset, error) {
	if len(rates) != b.Size() {
		return nil, fmt.Errorf("%d rates for %d members: %w", len(rates), b.Size(), ErrLengthMismatch)
	}
	for _, p := range rates {
		if err := checkRate(p); err != nil {
			return nil, err
		}
	}
	k := 0
	for i := range b.All() {
		if rng.Float64() >= rates[k] {
			b.bits.Clear(uint(i))
		}
		k++
	}
	return b, nil
}

// Choose keeps exactly k members chosen uniformly without replacement.
func (b *Bitset) Choose(rng *rand.Rand, k int) (*Bitset, error) {
	members := b.ToSlice()
	if k < 0 || k > len(members) {
		return nil, fmt.Errorf("choose %d of %d: %w", k, len(members), ErrInvalidQuery)
	}
	// partial Fisher-Yates: the first k slots end up holding the chosen members
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(members)-i)
		members[i], members[j] = members[j], members[i]
	}
	for _, i := range members[k:] {
		b.bits.Clear(uint(i))
	}
	return b, nil
}

// Filter returns a new Bitset with the members found at the given
// zero-based ranks of the receiver's ascending member list.
func (b *Bitset) Filter(ranks []int) (*Bitset, error) {
	size := b.Size()
	out := NewBitset(b.max)
	for _, r := range ranks {
		if r < 0 || r >= size {
			return nil, fmt.Errorf("rank %d not in [0, %d): %w", r, size, ErrIndexOutOfRange)
		}
		out.bits.Set(b.bits.Select(uint(r)))
	}
	return out, nil
}

func (b *Bitset) String() string {
	return fmt.Sprintf("Bitset(%d/%d)%v", b.Size(), b.max, b.ToSlice())
}
