// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package dtsched

import (
	"context"
)

// A WorkFunc is a unit of work submitted to a task group. It receives a
// context derived from context.Background that carries no cancellation
// signal -- cancellation in this scheduler applies only to queued work (see
// Cancel). Submit takes no context, so nothing stored in a caller's context
// reaches WorkFunc; a cooperative cancellation token has to be captured by
// the closure itself.
//
// Unlike a plain "callable()->void", WorkFunc returns an error so that a
// failed task can report its failure through the same observer path as a
// panicking one, without relying on panic as routine control flow. A panic
// escaping WorkFunc is itself recovered by the worker and converted to an
// error wrapping ErrTaskPanic.
type WorkFunc = func(ctx context.Context) error

// An ErrorObserver is invoked with a ScheduledTaskError when a task in its
// registered group fails. Panics escaping an ErrorObserver are recovered and
// logged; they never propagate back into the worker.
type ErrorObserver = func(*ScheduledTaskError)

// A CancelPredicate decides whether a still-queued task should be dropped.
// It is evaluated against the task's group and the opaque param passed to
// Submit, never against the work closure itself.
type CancelPredicate = func(group string, param any) bool

// TaskStat holds a task group's cumulative counters. submitted and completed
// are monotone non-decreasing; queued is non-negative at every quiescent
// point and satisfies submitted == completed + queued + cancelled.
type TaskStat struct {
	Submitted      int64
	Queued         int64
	Completed      int64
	Cancelled      int64
	CPUTimeSeconds float64
}
