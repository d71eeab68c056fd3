package scheduler

import "sync"

// Node is anything a Hierarchy can drive: a Scheduler or another
// Hierarchy.
type Node interface {
	Name() string
	SchedulerTick()
	Snapshot() Snapshot
}

// Hierarchy is a Scheduler that also forwards each of its scheduler ticks
// to a dynamic set of child nodes. Children may be added and removed at
// any time, including from inside a task or a child's own tick; each tick
// fans out to the set as it was when the fan-out began.
//
// Starting or pausing the hierarchy only controls its own forwarding;
// a child that is not running ignores forwarded ticks. Stop also clears
// the child set.
type Hierarchy struct {
	*Scheduler

	mu       sync.Mutex
	children []Node
}

// NewHierarchy creates a stopped Hierarchy with no children.
func NewHierarchy(opts Options) *Hierarchy {
	h := &Hierarchy{Scheduler: New(opts)}
	h.Scheduler.afterTasks = h.forward
	return h
}

// Add registers child. It reports false if child is already present.
func (h *Hierarchy) Add(child Node) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.children {
		if c == child {
			return false
		}
	}
	h.children = append(h.children, child)
	h.logger.Debug("child added", "child", child.Name())
	return true
}

// Remove unregisters child. It reports false if child was not present.
func (h *Hierarchy) Remove(child Node) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.children {
		if c == child {
			h.children = append(h.children[:i:i], h.children[i+1:]...)
			h.logger.Debug("child removed", "child", child.Name())
			return true
		}
	}
	return false
}

// Children returns the current child set in insertion order.
func (h *Hierarchy) Children() []Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Node(nil), h.children...)
}

// Stop stops the hierarchy's own tasks and clears its child set. The
// children themselves keep their state.
func (h *Hierarchy) Stop() {
	h.Scheduler.Stop()

	h.mu.Lock()
	n := len(h.children)
	h.children = nil
	h.mu.Unlock()

	if n > 0 {
		h.logger.Debug("children cleared", "count", n)
	}
}

// forward ticks a snapshot of the children.
func (h *Hierarchy) forward(uint64) {
	for _, child := range h.Children() {
		child.SchedulerTick()
	}
}

// Snapshot returns the hierarchy's counters and those of its children.
func (h *Hierarchy) Snapshot() Snapshot {
	snap := h.Scheduler.Snapshot()
	for _, child := range h.Children() {
		snap.Children = append(snap.Children, child.Snapshot())
	}
	return snap
}
