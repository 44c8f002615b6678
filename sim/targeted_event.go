package sim

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/sirupsen/logrus"
)

// TargetedListener is invoked with the firing timestep and the individuals
// whose fire time it is. Each listener receives its own copy of target.
type TargetedListener func(t int64, target *Bitset) error

type targetedOp struct {
	clear   bool
	indices []int
	times   []int64 // one shared time, or one per index
}

// TargetedEvent schedules firings per individual. Each individual holds at
// most one pending fire time; scheduling it again replaces the old time.
//
// Fire times live in a dense arena indexed by individual, so cancellation
// and membership checks are O(1). Individuals due at the same timestep are
// grouped in a compressed bucket so firing costs O(bucket), not O(pending).
type TargetedEvent struct {
	name      string
	size      int
	clock     int64
	fireTime  []int64 // 0 = unscheduled; committed fire times are >= 1
	buckets   map[int64]*roaring.Bitmap
	scheduled *Bitset
	listeners []TargetedListener
	ops       []targetedOp
}

// NewTargetedEvent creates a TargetedEvent over size individuals.
func NewTargetedEvent(name string, size int) (*TargetedEvent, error) {
	if size < 0 || int64(size) > math.MaxUint32 {
		return nil, fmt.Errorf("population %d: %w", size, ErrIndexOutOfRange)
	}
	return &TargetedEvent{
		name:      name,
		size:      size,
		fireTime:  make([]int64, size),
		buckets:   make(map[int64]*roaring.Bitmap),
		scheduled: NewBitset(size),
	}, nil
}

// Name returns the event name.
func (e *TargetedEvent) Name() string { return e.name }

// Size returns the population size.
func (e *TargetedEvent) Size() int { return e.size }

// AddListener appends l to the listeners.
func (e *TargetedEvent) AddListener(l TargetedListener) {
	e.listeners = append(e.listeners, l)
}

func (e *TargetedEvent) checkTarget(target *Bitset) error {
	if target == nil || target.max != e.size {
		return fmt.Errorf("target for population %d: %w", e.size, ErrCapacityMismatch)
	}
	return nil
}

// Schedule queues a firing for every member of target, delay timesteps
// after the current one.
func (e *TargetedEvent) Schedule(target *Bitset, delay int64) error {
	if err := e.checkTarget(target); err != nil {
		return err
	}
	if err := checkDelay(delay); err != nil {
		return err
	}
	if target.IsEmpty() {
		return nil
	}
	e.ops = append(e.ops, targetedOp{indices: target.ToSlice(), times: []int64{e.clock + delay}})
	return nil
}

// ScheduleEach queues a firing for the k-th member of target (ascending
// order) delays[k] timesteps after the current one.
func (e *TargetedEvent) ScheduleEach(target *Bitset, delays []int64) error {
	if err := e.checkTarget(target); err != nil {
		return err
	}
	if len(delays) != target.Size() {
		return fmt.Errorf("%d delays for %d individuals: %w", len(delays), target.Size(), ErrLengthMismatch)
	}
	times := make([]int64, len(delays))
	for k, d := range delays {
		if err := checkDelay(d); err != nil {
			return err
		}
		times[k] = e.clock + d
	}
	if len(times) == 0 {
		return nil
	}
	e.ops = append(e.ops, targetedOp{indices: target.ToSlice(), times: times})
	return nil
}

// ClearSchedule queues the cancellation of pending firings for target.
func (e *TargetedEvent) ClearSchedule(target *Bitset) error {
	if err := e.checkTarget(target); err != nil {
		return err
	}
	if target.IsEmpty() {
		return nil
	}
	e.ops = append(e.ops, targetedOp{clear: true, indices: target.ToSlice()})
	return nil
}

// Scheduled returns the individuals with a committed pending firing.
func (e *TargetedEvent) Scheduled() *Bitset {
	return e.scheduled.Copy()
}

// ScheduledTime returns the committed fire time of individual i.
func (e *TargetedEvent) ScheduledTime(i int) (int64, bool) {
	if i < 0 || i >= e.size || e.fireTime[i] == 0 {
		return 0, false
	}
	return e.fireTime[i], true
}

// PendingUpdates returns the number of queued schedule changes.
func (e *TargetedEvent) PendingUpdates() int { return len(e.ops) }

func (e *TargetedEvent) setClock(t int64) { e.clock = t }

func (e *TargetedEvent) unschedule(i int) {
	at := e.fireTime[i]
	if at == 0 {
		return
	}
	if b, ok := e.buckets[at]; ok {
		b.Remove(uint32(i))
		if b.IsEmpty() {
			delete(e.buckets, at)
		}
	}
	e.fireTime[i] = 0
	e.scheduled.bits.Clear(uint(i))
}

func (e *TargetedEvent) commit() {
	for _, op := range e.ops {
		for k, i := range op.indices {
			e.unschedule(i)
			if op.clear {
				continue
			}
			at := op.times[0]
			if len(op.times) > 1 {
				at = op.times[k]
			}
			b, ok := e.buckets[at]
			if !ok {
				b = roaring.New()
				e.buckets[at] = b
			}
			b.Add(uint32(i))
			e.fireTime[i] = at
			e.scheduled.bits.Set(uint(i))
		}
	}
	e.ops = e.ops[:0]
}

func (e *TargetedEvent) discard() { e.ops = e.ops[:0] }

// fire dispatches the individuals due at t. Their fire times are cleared
// only once every listener has returned, so a failed step leaves the
// schedule as it was committed.
func (e *TargetedEvent) fire(t int64) (bool, error) {
	b, ok := e.buckets[t]
	if !ok {
		return false, nil
	}
	target := NewBitset(e.size)
	it := b.Iterator()
	for it.HasNext() {
		target.bits.Set(uint(it.Next()))
	}
	logrus.Debugf("[tick %07d] targeted event %s fired for %d individuals", t, e.name, target.Size())
	for _, l := range e.listeners {
		if err := l(t, target.Copy()); err != nil {
			return true, err
		}
	}
	delete(e.buckets, t)
	for i := range target.All() {
		e.fireTime[i] = 0
	}
	e.scheduled.bits.InPlaceDifference(target.bits)
	return true, nil
}
