package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSIR(t *testing.T, n int) *CategoricalVariable {
	t.Helper()
	initial := make([]string, n)
	for i := range initial {
		initial[i] = "S"
	}
	v, err := NewCategoricalVariable(n, []string{"S", "I", "R"}, initial)
	require.NoError(t, err)
	return v
}

func TestCategorical_QueueThenCommit_MovesIndividuals(t *testing.T) {
	// GIVEN ten susceptible individuals
	v := newSIR(t, 10)

	// WHEN {0,1,2} are queued to I
	require.NoError(t, v.QueueUpdateAt("I", []int{0, 1, 2}))

	// THEN nothing is visible before commit
	n, err := v.SizeOf("I")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, v.PendingUpdates())

	// AND after commit the move is visible and the queue is empty
	v.commit()
	n, err = v.SizeOf("I")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = v.SizeOf("S")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 0, v.PendingUpdates())

	idx, err := v.IndexOf("I")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, idx.ToSlice())
}

func TestCategorical_LastQueuedMoveWins(t *testing.T) {
	v := newSIR(t, 5)
	require.NoError(t, v.QueueUpdateAt("I", []int{0, 1}))
	require.NoError(t, v.QueueUpdateAt("R", []int{1}))
	v.commit()

	c, err := v.CategoryOf(0)
	require.NoError(t, err)
	assert.Equal(t, "I", c)
	c, err = v.CategoryOf(1)
	require.NoError(t, err)
	assert.Equal(t, "R", c)
}

func TestCategorical_IndexOf_UnionOfCategories(t *testing.T) {
	v, err := NewCategoricalVariable(4, []string{"a", "b", "c"}, []string{"a", "b", "c", "b"})
	require.NoError(t, err)

	idx, err := v.IndexOf("a", "c")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, idx.ToSlice())

	n, err := v.SizeOf("b", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "repeated names count once")
}

func TestCategorical_ReturnedBitsetDoesNotAliasState(t *testing.T) {
	v := newSIR(t, 4)
	idx, err := v.IndexOf("S")
	require.NoError(t, err)
	idx.Clear()

	n, err := v.SizeOf("S")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// nor does the queued target
	target := mustBitset(t, 4, 0)
	require.NoError(t, v.QueueUpdate("I", target))
	require.NoError(t, target.Insert(3))
	v.commit()
	idx, err = v.IndexOf("I")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx.ToSlice())
}

func TestCategorical_Errors(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"initial length mismatch", func() error {
			_, err := NewCategoricalVariable(3, []string{"a"}, []string{"a"})
			return err
		}, ErrLengthMismatch},
		{"unknown initial category", func() error {
			_, err := NewCategoricalVariable(1, []string{"a"}, []string{"z"})
			return err
		}, ErrUnknownCategory},
		{"duplicate category", func() error {
			_, err := NewCategoricalVariable(1, []string{"a", "a"}, []string{"a"})
			return err
		}, ErrInvalidQuery},
		{"unknown query category", func() error {
			_, err := newSIR(t, 3).IndexOf("X")
			return err
		}, ErrUnknownCategory},
		{"unknown size category", func() error {
			_, err := newSIR(t, 3).SizeOf("S", "X")
			return err
		}, ErrUnknownCategory},
		{"unknown destination", func() error {
			return newSIR(t, 3).QueueUpdate("X", NewBitset(3))
		}, ErrUnknownCategory},
		{"target capacity", func() error {
			return newSIR(t, 3).QueueUpdate("I", NewBitset(4))
		}, ErrCapacityMismatch},
		{"target index", func() error {
			return newSIR(t, 3).QueueUpdateAt("I", []int{3})
		}, ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestCategorical_PartitionInvariant_RandomMoves(t *testing.T) {
	const n = 257
	rng := rand.New(rand.NewSource(11))
	cats := []string{"S", "E", "I", "R"}
	initial := make([]string, n)
	for i := range initial {
		initial[i] = cats[rng.Intn(len(cats))]
	}
	v, err := NewCategoricalVariable(n, cats, initial)
	require.NoError(t, err)

	for step := 0; step < 30; step++ {
		for q := 0; q < 1+rng.Intn(5); q++ {
			target, err := FullBitset(n).Sample(rng, rng.Float64())
			require.NoError(t, err)
			require.NoError(t, v.QueueUpdate(cats[rng.Intn(len(cats))], target))
		}
		v.commit()

		seen := NewBitset(n)
		total := 0
		for _, c := range cats {
			idx, err := v.IndexOf(c)
			require.NoError(t, err)
			overlap, err := idx.Copy().And(seen)
			require.NoError(t, err)
			require.True(t, overlap.IsEmpty(), "step %d: category %s overlaps another", step, c)
			_, err = seen.Or(idx)
			require.NoError(t, err)
			total += idx.Size()
		}
		require.Equal(t, n, total, "step %d: every individual in exactly one category", step)
	}
}
