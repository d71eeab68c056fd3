package scheduler

import "errors"

// ErrSchedulerMisuse is returned when a task would be scheduled at or
// before the current tick, with a negative delay or interval, or twice.
var ErrSchedulerMisuse = errors.New("scheduler: misuse")
