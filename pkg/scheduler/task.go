package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Func is the work of a task. It receives its own Task so it can cancel
// itself or, when running asynchronously, watch for cancellation.
type Func func(t *Task)

// Task is a scheduled unit of work. Cancelling it stops any further runs;
// a run that is already executing is not interrupted but can observe the
// cancellation through Cancelled or Context.
type Task struct {
	name     string
	fn       Func
	interval uint64
	async    bool

	ctx    context.Context
	cancel context.CancelFunc

	sched *Scheduler
	entry *entry // queued position; guarded by sched.mu

	cancelled atomic.Bool
	runs      atomic.Uint64
}

// Name returns the task name, or "" if none was set.
func (t *Task) Name() string {
	return t.name
}

// Cancel stops the task and removes it from its scheduler's queue. It is
// safe to call from the task itself and from any goroutine, any number of
// times.
func (t *Task) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
	if t.sched != nil {
		t.sched.remove(t)
	}
}

// Cancelled reports whether the task has been cancelled.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Context is cancelled when the task is.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Runs returns how many times the task has started.
func (t *Task) Runs() uint64 {
	return t.runs.Load()
}

// Repeating reports whether the task has an interval.
func (t *Task) Repeating() bool {
	return t.interval > 0
}

// Async reports whether the task runs on its own goroutine.
func (t *Task) Async() bool {
	return t.async
}

// entry is a task's place in the pending queue.
type entry struct {
	task     *Task
	nextTick uint64
	seq      uint64 // submission order among tasks due on the same tick
	index    int
}

// taskHeap orders entries by nextTick, then by submission order.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].nextTick != h[j].nextTick {
		return h[i].nextTick < h[j].nextTick
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TaskBuilder configures a task before it is scheduled. Obtain one from
// Scheduler.PrepareTask.
type TaskBuilder struct {
	s        *Scheduler
	fn       Func
	name     string
	delay    int64
	interval int64
	at       uint64
	hasAt    bool
	async    bool
	done     bool
}

// Name labels the task in logs and metrics.
func (b *TaskBuilder) Name(name string) *TaskBuilder {
	b.name = name
	return b
}

// Delay sets how many ticks to skip before the first run. A delay of 0
// runs the task on the next tick.
func (b *TaskBuilder) Delay(ticks int64) *TaskBuilder {
	b.delay = ticks
	return b
}

// At sets the absolute tick of the first run, overriding Delay. The tick
// must be after the scheduler's current tick.
func (b *TaskBuilder) At(tick uint64) *TaskBuilder {
	b.at = tick
	b.hasAt = true
	return b
}

// Interval makes the task repeat every n ticks. 0 runs it once.
func (b *TaskBuilder) Interval(ticks int64) *TaskBuilder {
	b.interval = ticks
	return b
}

// Async runs the task on its own goroutine instead of the ticking one.
func (b *TaskBuilder) Async(async bool) *TaskBuilder {
	b.async = async
	return b
}

// Schedule queues the task. A builder schedules at most one task.
func (b *TaskBuilder) Schedule() (*Task, error) {
	switch {
	case b.done:
		return nil, fmt.Errorf("%w: task builder already used", ErrSchedulerMisuse)
	case b.fn == nil:
		return nil, fmt.Errorf("%w: nil task func", ErrSchedulerMisuse)
	case b.delay < 0:
		return nil, fmt.Errorf("%w: negative delay %d", ErrSchedulerMisuse, b.delay)
	case b.interval < 0:
		return nil, fmt.Errorf("%w: negative interval %d", ErrSchedulerMisuse, b.interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		name:     b.name,
		fn:       b.fn,
		interval: uint64(b.interval),
		async:    b.async,
		ctx:      ctx,
		cancel:   cancel,
		sched:    b.s,
	}

	if err := b.s.enqueue(t, b.delay, b.at, b.hasAt); err != nil {
		cancel()
		return nil, err
	}
	b.done = true
	return t, nil
}

// MustSchedule is like Schedule but panics on error.
func (b *TaskBuilder) MustSchedule() *Task {
	t, err := b.Schedule()
	if err != nil {
		panic(err)
	}
	return t
}
