package sim

import (
	"container/heap"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
)

// Schedulable is an event owned by a Simulator. The set of implementations
// is closed: Event and TargetedEvent.
//
// Scheduling and clearing are queued and take effect at the end-of-step
// commit, like variable updates. Delays are at least one timestep, so no
// change queued during step t can alter what fires at t.
type Schedulable interface {
	// Name identifies the event in logs and errors.
	Name() string
	// PendingUpdates returns the number of queued schedule changes.
	PendingUpdates() int

	setClock(t int64)
	fire(t int64) (bool, error)
	commit()
	discard()
}

var (
	_ Schedulable = (*Event)(nil)
	_ Schedulable = (*TargetedEvent)(nil)
)

// ValidateDelay converts a delay drawn as a real number into timesteps.
// Non-positive, fractional and non-finite delays fail with ErrInvalidDelay.
func ValidateDelay(d float64) (int64, error) {
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 || d != math.Trunc(d) || d > math.MaxInt64/2 {
		return 0, fmt.Errorf("delay %v: %w", d, ErrInvalidDelay)
	}
	return int64(d), nil
}

func checkDelay(d int64) error {
	if d <= 0 {
		return fmt.Errorf("delay %d: %w", d, ErrInvalidDelay)
	}
	return nil
}

// timeQueue implements heap.Interface and orders fire times ascending.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type timeQueue []int64

func (q timeQueue) Len() int           { return len(q) }
func (q timeQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q timeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *timeQueue) Push(x any) {
	*q = append(*q, x.(int64))
}

func (q *timeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[0 : n-1]
	return item
}

// Listener is invoked with the firing timestep when an Event fires.
type Listener func(t int64) error

type eventOp struct {
	clear bool
	times []int64
}

// Event fires for the whole population at scheduled timesteps. Every
// listener runs, in registration order, each time the event fires.
type Event struct {
	name      string
	clock     int64
	queue     timeQueue
	pending   map[int64]struct{}
	listeners []Listener
	ops       []eventOp
}

// NewEvent creates an Event with nothing scheduled.
func NewEvent(name string) *Event {
	return &Event{
		name:    name,
		queue:   make(timeQueue, 0),
		pending: make(map[int64]struct{}),
	}
}

// Name returns the event name.
func (e *Event) Name() string { return e.name }

// AddListener appends l to the listeners.
func (e *Event) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Schedule queues a firing delays[k] timesteps after the current one, for
// every k. Scheduling an already scheduled time is a no-op.
func (e *Event) Schedule(delays ...int64) error {
	times := make([]int64, len(delays))
	for k, d := range delays {
		if err := checkDelay(d); err != nil {
			return err
		}
		times[k] = e.clock + d
	}
	e.ops = append(e.ops, eventOp{times: times})
	return nil
}

// ClearSchedule queues the cancellation of every pending firing.
func (e *Event) ClearSchedule() {
	e.ops = append(e.ops, eventOp{clear: true})
}

// Scheduled returns the committed pending fire times in ascending order.
func (e *Event) Scheduled() []int64 {
	out := make([]int64, 0, len(e.pending))
	for t := range e.pending {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// PendingUpdates returns the number of queued schedule changes.
func (e *Event) PendingUpdates() int { return len(e.ops) }

func (e *Event) setClock(t int64) { e.clock = t }

// fire runs the listeners if t is a pending fire time. Times up to t are
// consumed only once every listener has returned, so a failed step leaves
// the schedule as it was committed.
func (e *Event) fire(t int64) (bool, error) {
	if _, due := e.pending[t]; !due {
		return false, nil
	}
	logrus.Debugf("[tick %07d] event %s fired", t, e.name)
	for _, l := range e.listeners {
		if err := l(t); err != nil {
			return true, err
		}
	}
	for e.queue.Len() > 0 && e.queue[0] <= t {
		delete(e.pending, heap.Pop(&e.queue).(int64))
	}
	return true, nil
}

func (e *Event) commit() {
	for _, op := range e.ops {
		if op.clear {
			e.queue = e.queue[:0]
			clear(e.pending)
			continue
		}
		for _, t := range op.times {
			if _, ok := e.pending[t]; ok {
				continue
			}
			e.pending[t] = struct{}{}
			heap.Push(&e.queue, t)
		}
	}
	e.ops = e.ops[:0]
}

func (e *Event) discard() { e.ops = e.ops[:0] }
