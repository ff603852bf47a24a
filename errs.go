// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package dtsched

import (
	"fmt"

	"github.com/dtsched/dtsched/internal/cerr"
)

const (
	// ErrTaskFailure is returned by Process and WaitAll when one or more
	// queued tasks' closures failed during the cycle.
	ErrTaskFailure = cerr.Error("one or more tasks failed during this cycle")

	// ErrNestedProcess is returned by Process when another call to Process
	// is already in progress.
	ErrNestedProcess = cerr.Error("process already in progress")

	// ErrNestedWaitAll is returned by WaitAll when another call to WaitAll
	// is already in progress.
	ErrNestedWaitAll = cerr.Error("wait_all already in progress")

	// ErrInsufficientWorkers is returned by WaitAll when the scheduler has
	// fewer than four workers.
	ErrInsufficientWorkers = cerr.Error("wait_all requires at least 4 workers")

	// ErrPreconditionViolated is returned by OnError when the group already
	// has pending or running tasks.
	ErrPreconditionViolated = cerr.Error("observer registered after tasks were already submitted for the group")

	// ErrDuplicateObserver is returned by OnError when a callback is already
	// registered for the group and replace was false.
	ErrDuplicateObserver = cerr.Error("an observer is already registered for the group")

	// ErrTaskPanic marks an error produced by recovering a panicking task
	// closure.
	ErrTaskPanic = cerr.Error("task panicked")

	errSchedulerShutDown = cerr.Error("scheduler is shutting down")
)

// ScheduledTaskError is the sole argument handed to a group's error observer.
// It bundles the originating task's group and parameter, the scheduler's own
// source location at which the failure was dispatched, and a formatted
// message.
type ScheduledTaskError struct {
	Group   string
	Param   any
	File    string
	Line    int
	Message string
}

func (e *ScheduledTaskError) Error() string {
	return fmt.Sprintf("%s:%d: task in group %q failed: %s", e.File, e.Line, e.Group, e.Message)
}
