// Package scheduler runs game logic on a discrete tick.
//
// A Scheduler holds tasks ordered by the tick they are due on. Something
// outside the scheduler supplies time: each call to ServerTick is one
// pulse, and every TickDelay pulses the scheduler runs one scheduler tick,
// firing the tasks due on it.
//
//	s := scheduler.New(scheduler.Options{Name: "world", TickDelay: 2})
//	s.Start()
//
//	s.PrepareTask(func(t *scheduler.Task) {
//		world.Step()
//	}).Name("step").Interval(1).MustSchedule()
//
//	go scheduler.Drive(ctx, 50*time.Millisecond, s)
//
// # Task Timing
//
// A task scheduled with delay d on tick n first runs on tick n+d+1. A
// repeating task with interval i then runs every i ticks until it is
// cancelled. Tasks due on the same tick run in submission order.
//
// # Synchronous and Asynchronous Tasks
//
// Synchronous tasks run on the goroutine driving the scheduler, one after
// another. Asynchronous tasks each get a goroutine; the tick does not wait
// for them. Cancellation never interrupts a running task: it prevents
// future runs and cancels the task's Context.
//
// # Hierarchies
//
// A Hierarchy is a Scheduler that forwards each of its ticks to a set of
// child schedulers, so subsystems can start and stop their own cadence
// under one driver:
//
//	root := scheduler.NewHierarchy(scheduler.Options{Name: "root"})
//	root.Add(world)
//	root.Add(heartbeat)
//	root.Start()
package scheduler
