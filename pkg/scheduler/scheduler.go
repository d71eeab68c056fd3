package scheduler

import (
	"container/heap"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the run state of a scheduler.
type State uint32

const (
	StateStopped State = iota // Not firing; Stop discards pending tasks
	StateRunning              // Firing due tasks on each tick
	StatePaused               // Not firing; pending tasks are kept
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Options configures a Scheduler.
type Options struct {
	// Name identifies the scheduler in logs, metrics and snapshots.
	// Default: "scheduler".
	Name string

	// TickDelay is the number of server ticks per scheduler tick.
	// Default: 1.
	TickDelay uint64

	// Logger receives task panics and lifecycle events.
	// Default: slog.Default().
	Logger *slog.Logger

	// Metrics records task and tick metrics. Nil disables metrics.
	Metrics *Metrics
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Name:      "scheduler",
		TickDelay: 1,
	}
}

// Scheduler runs delayed and repeating tasks on an externally driven tick.
//
// ServerTick is called once per external pulse; every TickDelay pulses it
// runs SchedulerTick, which fires the tasks due on the current tick and
// then advances the tick counter. Synchronous tasks run on the goroutine
// that calls SchedulerTick, so a task that blocks holds up the scheduler.
// Asynchronous tasks run on their own goroutines and are not waited for.
//
// All methods are safe for concurrent use. No lock is held while task
// code runs.
type Scheduler struct {
	name      string
	tickDelay uint64
	logger    *slog.Logger
	metrics   *Metrics

	mu         sync.Mutex
	state      State
	syncedTick uint64
	tick       uint64
	pending    taskHeap
	seq        uint64

	// afterTasks runs once per scheduler tick after the due tasks and
	// before the counter advances.
	afterTasks func(tick uint64)

	async    sync.WaitGroup
	inFlight atomic.Int64
}

// New creates a stopped Scheduler.
func New(opts Options) *Scheduler {
	d := DefaultOptions()
	if opts.Name == "" {
		opts.Name = d.Name
	}
	if opts.TickDelay == 0 {
		opts.TickDelay = d.TickDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Scheduler{
		name:      opts.Name,
		tickDelay: opts.TickDelay,
		logger:    opts.Logger.With("component", "scheduler", "scheduler", opts.Name),
		metrics:   opts.Metrics,
	}
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string {
	return s.name
}

// State returns the current run state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick returns the scheduler tick that the next SchedulerTick will run.
func (s *Scheduler) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Pending returns the number of queued tasks. Cancelled tasks are removed
// from the queue immediately.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Start moves the scheduler to Running. Tasks kept by Pause resume from
// the tick they were due on.
func (s *Scheduler) Start() {
	s.setState(StateRunning)
}

// Pause stops firing tasks but keeps them queued.
func (s *Scheduler) Pause() {
	s.setState(StatePaused)
}

// Stop stops firing tasks and cancels every pending task. Asynchronous
// tasks already running are not interrupted; use Wait to wait for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = StateStopped
	dropped := s.pending
	s.pending = nil
	for _, e := range dropped {
		e.index = -1
	}
	s.mu.Unlock()

	for _, e := range dropped {
		e.task.Cancel()
	}
	s.metrics.setPending(s.name, 0)

	if prev != StateStopped || len(dropped) > 0 {
		s.logger.Debug("scheduler stopped", "cancelled", len(dropped))
	}
}

func (s *Scheduler) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from != to {
		s.logger.Debug("scheduler state changed", "from", from.String(), "to", to.String())
	}
}

// PrepareTask returns a builder for a task running fn.
func (s *Scheduler) PrepareTask(fn Func) *TaskBuilder {
	return &TaskBuilder{s: s, fn: fn}
}

// enqueue places a new task in the pending queue.
func (s *Scheduler) enqueue(t *Task, delay int64, at uint64, hasAt bool) error {
	s.mu.Lock()
	next := s.tick + uint64(delay) + 1
	if hasAt {
		if at <= s.tick {
			current := s.tick
			s.mu.Unlock()
			return fmt.Errorf("%w: tick %d is not after current tick %d", ErrSchedulerMisuse, at, current)
		}
		next = at
	}
	s.push(t, next)
	pending := len(s.pending)
	s.mu.Unlock()

	s.metrics.taskScheduled(s.name)
	s.metrics.setPending(s.name, pending)
	return nil
}

// push queues t for tick. The caller holds s.mu.
func (s *Scheduler) push(t *Task, tick uint64) {
	s.seq++
	e := &entry{task: t, nextTick: tick, seq: s.seq}
	t.entry = e
	heap.Push(&s.pending, e)
}

// remove drops a cancelled task from the pending queue if it is queued.
func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	e := t.entry
	t.entry = nil
	removed := e != nil && e.index >= 0
	if removed {
		heap.Remove(&s.pending, e.index)
	}
	pending := len(s.pending)
	s.mu.Unlock()

	if removed {
		s.metrics.setPending(s.name, pending)
	}
}

// requeue handles due entries left unfired because the scheduler left the
// Running state mid-tick. Stopped cancels them; Paused puts them back so
// they fire on the first tick after Start.
func (s *Scheduler) requeue(rest []*entry) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		for _, e := range rest {
			e.task.Cancel()
		}
		return
	}
	for _, e := range rest {
		if !e.task.Cancelled() {
			e.task.entry = e
			heap.Push(&s.pending, e)
		}
	}
	s.mu.Unlock()
}

// ServerTick records one external pulse and runs SchedulerTick on every
// TickDelay-th pulse. Pulses are ignored unless the scheduler is running.
func (s *Scheduler) ServerTick() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.syncedTick++
	fire := s.syncedTick%s.tickDelay == 0
	s.mu.Unlock()

	if fire {
		s.SchedulerTick()
	}
}

// SchedulerTick fires every task due on the current tick in due order,
// requeues repeating tasks and then advances the tick. It does nothing
// unless the scheduler is running.
func (s *Scheduler) SchedulerTick() {
	start := time.Now()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	current := s.tick

	var due []*entry
	for len(s.pending) > 0 && s.pending[0].nextTick <= current {
		e := heap.Pop(&s.pending).(*entry)
		if e.task.Cancelled() {
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for i, e := range due {
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()
		if !running {
			s.requeue(due[i:])
			break
		}

		// An earlier task in this tick, or another goroutine, may have
		// cancelled it after it was taken off the queue.
		if e.task.Cancelled() {
			continue
		}
		s.fire(e.task, current)

		if e.task.interval > 0 {
			s.mu.Lock()
			if s.state != StateStopped && !e.task.Cancelled() {
				s.push(e.task, current+e.task.interval)
			}
			s.mu.Unlock()
		}
	}

	if s.afterTasks != nil {
		s.afterTasks(current)
	}

	s.mu.Lock()
	s.tick++
	pending := len(s.pending)
	s.mu.Unlock()

	s.metrics.tickCompleted(s.name, time.Since(start), pending)
}

// fire starts one run of t.
func (s *Scheduler) fire(t *Task, tick uint64) {
	t.runs.Add(1)

	if !t.async {
		s.metrics.taskRun(s.name, "sync")
		s.run(t, tick)
		return
	}

	s.metrics.taskRun(s.name, "async")
	s.async.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer s.async.Done()
		defer s.inFlight.Add(-1)
		s.run(t, tick)
	}()
}

// run executes t with panic recovery. A panicking task is logged and
// keeps its schedule.
func (s *Scheduler) run(t *Task, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				"task", t.name,
				"tick", tick,
				"panic", r,
				"stack", string(debug.Stack()))
			s.metrics.taskPanicked(s.name)
		}
	}()

	t.fn(t)
}

// Wait blocks until every asynchronous task started so far has returned.
func (s *Scheduler) Wait() {
	s.async.Wait()
}

// Snapshot describes a scheduler at one point in time.
type Snapshot struct {
	Name       string     `json:"name"`
	State      string     `json:"state"`
	Tick       uint64     `json:"tick"`
	SyncedTick uint64     `json:"synced_tick"`
	TickDelay  uint64     `json:"tick_delay"`
	Pending    int        `json:"pending"`
	InFlight   int64      `json:"in_flight"`
	Children   []Snapshot `json:"children,omitempty"`
}

// Snapshot returns the scheduler's current counters.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Name:       s.name,
		State:      s.state.String(),
		Tick:       s.tick,
		SyncedTick: s.syncedTick,
		TickDelay:  s.tickDelay,
		Pending:    len(s.pending),
		InFlight:   s.inFlight.Load(),
	}
}
