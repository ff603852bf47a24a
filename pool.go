// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package dtsched

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dtsched/dtsched/internal/dtlog"
	"github.com/dtsched/dtsched/internal/pqueue"
	"github.com/dtsched/dtsched/internal/timerp"
)

// workerLoop is the body of one of the scheduler's numWorkers background
// goroutines, which exist only when numWorkers >= 2 (with a single worker,
// the calling goroutine of Process drains the queue instead). It pops the
// highest-priority task, runs it, and parks on a pooled timer bounded wait
// when the queue is empty, waking early on a submission or on shutdown.
// Shutdown is checked before every pop, so a worker stops after its current
// task even if the queue is not empty.
func (s *Scheduler) workerLoop(idx int) {
	defer s.workerWG.Done()
	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}
		if s.runOneTask(idx) {
			continue
		}
		switch timerp.Wait(defaultWaitInterval, s.wakeOne, s.shutdownCh) {
		case 1:
			return
		default:
			// woke on submission, shutdown not yet observed, or timed out:
			// loop around and try the queue again.
		}
	}
}

// runOneTask pops and executes at most one task, attributing it to worker
// slot idx for diagnostic purposes. It reports whether a task was found.
func (s *Scheduler) runOneTask(idx int) bool {
	s.mu.Lock()
	t, ok := s.queue.PopTop()
	if !ok {
		s.mu.Unlock()
		return false
	}
	priorLabel := s.slotLabel(idx)
	s.setSlot(idx, t.Group)
	s.activeByGroup[t.Group]++
	s.numActive.Add(1)
	s.mu.Unlock()

	start := time.Now()
	taskErr := s.runTask(idx, t)
	elapsed := time.Since(start).Seconds()

	s.mu.Lock()
	s.queue.Complete(t.Group, elapsed)
	s.activeByGroup[t.Group]--
	if s.activeByGroup[t.Group] == 0 {
		delete(s.activeByGroup, t.Group)
	}
	s.restoreSlot(idx, priorLabel)
	s.mu.Unlock()
	s.numActive.Add(-1)

	if taskErr != nil {
		s.success.Store(false)
		s.dispatchError(t, taskErr)
	}
	s.signalQuiescentIfDone()
	return true
}

// runTask invokes t.Work, recovering any panic and converting it to an error
// wrapping ErrTaskPanic so the worker loop never dies from a single bad task.
func (s *Scheduler) runTask(idx int, t *pqueue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	ctx := context.WithValue(context.Background(), workerMarkerKey{}, idx)
	return t.Work(ctx)
}

func (s *Scheduler) dispatchError(t *pqueue.Task, taskErr error) {
	_, file, line, _ := runtime.Caller(0)
	se := &ScheduledTaskError{
		Group:   t.Group,
		Param:   t.Param,
		File:    file,
		Line:    line,
		Message: taskErr.Error(),
	}

	s.observersMu.Lock()
	obs, ok := s.observers[t.Group]
	s.observersMu.Unlock()
	if !ok {
		s.logger.Warn("unobserved task failure", dtlog.F("group", t.Group), dtlog.F("task_id", t.ID), dtlog.F("error", taskErr.Error()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("error observer panicked", dtlog.F("group", t.Group), dtlog.F("panic", r))
		}
	}()
	obs(se)
}

// slotLabel returns idx's current diagnostic label, or "" if idx is out of
// range or the worker is idle. Callers hold s.mu.
func (s *Scheduler) slotLabel(idx int) string {
	if idx >= len(s.workerSlots) {
		return ""
	}
	return s.workerSlots[idx]
}

// setSlot records idx's diagnostic label for the task it is about to run. If
// the worker is already occupied by an enclosing task -- the case for a
// nested Submit driven to completion via ProcessOnce from within that
// task's own closure -- the new label is nested under the existing one as
// "parent_group/child_group", per the scheduler's worker-slot convention for
// nested work. Callers hold s.mu.
func (s *Scheduler) setSlot(idx int, group string) {
	if idx >= len(s.workerSlots) {
		return
	}
	s.workerSlots[idx] = joinSlotLabel(s.workerSlots[idx], group)
}

// joinSlotLabel nests child under parent, or returns child unchanged if the
// worker had no enclosing task occupying the slot.
func joinSlotLabel(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

// restoreSlot puts idx's label back to what it was before the just-finished
// task's setSlot call, undoing only that task's own contribution -- so a
// nested task's completion reveals its parent's label rather than blanking
// the slot entirely. Callers hold s.mu.
func (s *Scheduler) restoreSlot(idx int, priorLabel string) {
	if idx >= len(s.workerSlots) {
		return
	}
	s.workerSlots[idx] = priorLabel
}

// WorkerSlots returns a snapshot of each worker's current diagnostic label --
// its task group, or "parent_group/child_group" while running a task
// submitted from within another task's own closure -- empty for an idle
// slot.
func (s *Scheduler) WorkerSlots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.workerSlots))
	copy(out, s.workerSlots)
	return out
}

func (s *Scheduler) isQuiescent() bool {
	s.mu.Lock()
	n := s.queue.Len()
	s.mu.Unlock()
	return n == 0 && s.numActive.Load() == 0
}

func (s *Scheduler) signalQuiescentIfDone() {
	if !s.isQuiescent() {
		return
	}
	select {
	case s.quiesceCh <- struct{}{}:
	default:
	}
}

// drainAlone runs on the calling goroutine of Process when the scheduler was
// constructed with a single worker: there are no background goroutines, so
// Process itself must pop and run tasks until the queue empties.
func (s *Scheduler) drainAlone(ctx context.Context, reportStatus bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		if s.runOneTask(0) {
			if reportStatus {
				s.maybeReport()
			}
			continue
		}
		return
	}
}

// waitUntilQuiescent blocks the calling goroutine of Process until the
// background worker pool has drained the queue and no task is active,
// waking periodically to honor reportStatus and ctx cancellation.
func (s *Scheduler) waitUntilQuiescent(ctx context.Context, reportStatus bool) {
	done := ctx.Done()
	for !s.isQuiescent() {
		if ctx.Err() != nil {
			return
		}
		if reportStatus {
			s.maybeReport()
		}
		timerp.Wait(defaultWaitInterval, s.quiesceCh, done)
	}
	if reportStatus {
		s.maybeReport()
	}
}
