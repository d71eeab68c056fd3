package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestHierarchy(name string) *Hierarchy {
	h := NewHierarchy(Options{Name: name, Logger: testLogger()})
	h.Start()
	return h
}

func TestHierarchyForwardsTicks(t *testing.T) {
	h := newTestHierarchy("root")
	a := newTestScheduler("a")
	b := newTestScheduler("b")

	if !h.Add(a) || !h.Add(b) {
		t.Fatal("Add() = false for a new child")
	}
	if h.Add(a) {
		t.Error("Add() = true for a duplicate child")
	}

	for i := 0; i < 4; i++ {
		h.ServerTick()
	}

	for _, s := range []*Scheduler{h.Scheduler, a, b} {
		if s.Tick() != 4 {
			t.Errorf("%s at tick %d, want 4", s.Name(), s.Tick())
		}
	}
}

func TestHierarchyRunsOwnTasksFirst(t *testing.T) {
	h := newTestHierarchy("root")
	child := newTestScheduler("child")
	h.Add(child)

	var order []string
	h.PrepareTask(func(*Task) { order = append(order, "root") }).MustSchedule()
	child.PrepareTask(func(*Task) { order = append(order, "child") }).MustSchedule()

	runTicks(h, 2)

	if len(order) != 2 || order[0] != "root" || order[1] != "child" {
		t.Errorf("order = %v, want [root child]", order)
	}
}

func TestHierarchyLeavesChildStateAlone(t *testing.T) {
	h := newTestHierarchy("root")
	paused := New(Options{Name: "paused", Logger: testLogger()})
	running := newTestScheduler("running")
	h.Add(paused)
	h.Add(running)

	runTicks(h, 3)

	if paused.Tick() != 0 {
		t.Errorf("non-running child advanced to %d", paused.Tick())
	}
	if running.Tick() != 3 {
		t.Errorf("running child at %d, want 3", running.Tick())
	}

	h.Pause()
	runTicks(h, 3)
	if running.Tick() != 3 {
		t.Errorf("paused hierarchy forwarded ticks: child at %d", running.Tick())
	}
	if running.State() != StateRunning {
		t.Errorf("Pause changed child state to %v", running.State())
	}
}

func TestHierarchyRemoveDuringFanOut(t *testing.T) {
	h := newTestHierarchy("root")
	first := newTestScheduler("first")
	second := newTestScheduler("second")
	h.Add(first)
	h.Add(second)

	first.PrepareTask(func(*Task) {
		h.Remove(second)
		h.Remove(first)
	}).MustSchedule()

	runTicks(h, 2)

	// The fan-out that removed them still reached both.
	if first.Tick() != 2 || second.Tick() != 2 {
		t.Fatalf("ticks = %d, %d, want 2, 2", first.Tick(), second.Tick())
	}
	if len(h.Children()) != 0 {
		t.Errorf("Children() = %d, want 0", len(h.Children()))
	}

	runTicks(h, 2)
	if first.Tick() != 2 || second.Tick() != 2 {
		t.Errorf("removed children still ticked: %d, %d", first.Tick(), second.Tick())
	}
	if h.Remove(first) {
		t.Error("Remove() = true for an absent child")
	}
}

func TestHierarchyStopClearsChildren(t *testing.T) {
	h := newTestHierarchy("root")
	child := newTestScheduler("child")
	h.Add(child)
	own := h.PrepareTask(func(*Task) {}).Delay(5).MustSchedule()

	h.Stop()

	if len(h.Children()) != 0 {
		t.Errorf("Children() = %d after Stop", len(h.Children()))
	}
	if !own.Cancelled() {
		t.Error("hierarchy task not cancelled by Stop")
	}
	if child.State() != StateRunning {
		t.Errorf("Stop changed child state to %v", child.State())
	}
}

func TestNestedHierarchy(t *testing.T) {
	root := newTestHierarchy("root")
	zone := newTestHierarchy("zone")
	leaf := newTestScheduler("leaf")
	root.Add(zone)
	zone.Add(leaf)

	var fired atomic.Int32
	leaf.PrepareTask(func(*Task) { fired.Add(1) }).Interval(1).MustSchedule()

	for i := 0; i < 5; i++ {
		root.ServerTick()
	}

	if leaf.Tick() != 5 {
		t.Errorf("leaf at tick %d, want 5", leaf.Tick())
	}
	if fired.Load() != 4 {
		t.Errorf("leaf task fired %d times, want 4", fired.Load())
	}

	snap := root.Snapshot()
	if len(snap.Children) != 1 || snap.Children[0].Name != "zone" {
		t.Fatalf("root snapshot children = %+v", snap.Children)
	}
	if got := snap.Children[0].Children; len(got) != 1 || got[0].Name != "leaf" || got[0].Pending != 1 {
		t.Errorf("zone snapshot children = %+v", got)
	}
}

func TestDrive(t *testing.T) {
	var pulses atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Drive(ctx, time.Millisecond, PulserFunc(func() {
			if pulses.Add(1) == 5 {
				cancel()
			}
		}))
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Drive() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Drive did not stop")
	}
	if pulses.Load() < 5 {
		t.Errorf("pulses = %d, want at least 5", pulses.Load())
	}
}

func TestDriveRejectsInterval(t *testing.T) {
	err := Drive(context.Background(), 0, PulserFunc(func() {}))
	if !errors.Is(err, ErrSchedulerMisuse) {
		t.Errorf("Drive(0) error = %v, want ErrSchedulerMisuse", err)
	}
}

func TestDriveHierarchy(t *testing.T) {
	h := newTestHierarchy("root")
	child := newTestScheduler("child")
	h.Add(child)

	ran := make(chan struct{})
	child.PrepareTask(func(*Task) { close(ran) }).Delay(2).MustSchedule()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Drive(ctx, time.Millisecond, h)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("child task never ran under the driver")
	}
}
