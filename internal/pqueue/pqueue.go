// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package pqueue implements the scheduler's priority-ordered store of
// pending tasks plus the per-group submitted/queued/completed/cancelled/
// cpu-time counters that travel alongside them. Store itself holds no lock
// of its own -- the scheduler serializes all access to it under the same
// mutex that also guards worker diagnostics.
package pqueue

import (
	"context"

	"github.com/dtsched/dtsched/internal/heap"
)

// Task is the priority queue's view of a scheduled unit of work. Priority
// orders descending (larger runs first); ties are broken arbitrarily by
// heap internals.
type Task struct {
	Priority int64
	Group    string
	Param    any
	ID       string
	Work     func(ctx context.Context) error

	position int
}

func (t *Task) Less(other *Task) bool { return t.Priority > other.Priority }
func (t *Task) SetPosition(i int)     { t.position = i }
func (t *Task) Position() int         { return t.position }

// Stat mirrors the scheduler's public per-group TaskStat record.
type Stat struct {
	Submitted      int64
	Queued         int64
	Completed      int64
	Cancelled      int64
	CPUTimeSeconds float64
}

// Store is the unsynchronized priority queue + stats table. Callers are
// responsible for serializing all access.
type Store struct {
	h     heap.Heap[*Task]
	stats map[string]*Stat
}

// NewStore returns a ready-to-use Store.
func NewStore() *Store {
	return &Store{stats: make(map[string]*Stat)}
}

func (s *Store) statFor(group string) *Stat {
	st, ok := s.stats[group]
	if !ok {
		st = &Stat{}
		s.stats[group] = st
	}
	return st
}

// Push inserts a task and bumps submitted/queued for its group.
func (s *Store) Push(t *Task) {
	t.position = 0
	s.h.Push(t)
	st := s.statFor(t.Group)
	st.Submitted++
	st.Queued++
}

// PopTop removes and returns the highest-priority task, or (nil, false) if
// the queue is empty.
func (s *Store) PopTop() (*Task, bool) {
	if s.h.Len() == 0 {
		return nil, false
	}
	return s.h.Pop(), true
}

// Complete records that a task for group finished executing, having consumed
// cpuSeconds of wall-clock run time.
func (s *Store) Complete(group string, cpuSeconds float64) {
	st := s.statFor(group)
	st.Queued--
	st.Completed++
	st.CPUTimeSeconds += cpuSeconds
}

// RebuildFilter atomically drains the queue, keeping only tasks for which
// pred(group, param) is false. Dropped tasks decrement queued and increment
// cancelled for their group. Returns the number of tasks dropped.
func (s *Store) RebuildFilter(pred func(group string, param any) bool) int {
	drained := s.h.Drain(make([]*Task, 0, s.h.Len()))
	dropped := 0
	for _, t := range drained {
		if pred(t.Group, t.Param) {
			dropped++
			st := s.statFor(t.Group)
			st.Queued--
			st.Cancelled++
			continue
		}
		t.position = 0
		s.h.Push(t)
	}
	return dropped
}

// Len returns the number of queued (not yet popped) tasks.
func (s *Store) Len() int {
	return s.h.Len()
}

// Stat returns a snapshot of the named group's counters. A group that has
// never had a task submitted returns the zero value.
func (s *Store) Stat(group string) Stat {
	if st, ok := s.stats[group]; ok {
		return *st
	}
	return Stat{}
}

// Snapshot returns a copy of every group's counters, keyed by group name.
func (s *Store) Snapshot() map[string]Stat {
	out := make(map[string]Stat, len(s.stats))
	for g, st := range s.stats {
		out[g] = *st
	}
	return out
}
