// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package dtsched provides a priority-ordered task scheduler with a fixed
// worker pool. Callers Submit short-lived work tagged by a task group; a
// fixed number of workers drain the queue in priority order, and the
// scheduler accumulates per-group statistics, dispatches failures to
// registered observers, and periodically logs progress.
//
// Launch and completion handling are deliberately separate: Submit returns
// immediately, and a long-lived pool of worker goroutines pulls from the
// priority queue independently of any caller blocking in Process.
package dtsched

import (
	"context"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtsched/dtsched/internal/dtlog"
	"github.com/dtsched/dtsched/internal/pqueue"
	"github.com/dtsched/dtsched/progress"
	"github.com/google/uuid"
)

const (
	defaultWaitInterval  = 10 * time.Millisecond
	defaultReportEvery   = 5 * time.Second
	defaultProgressEvery = 1 * time.Second
)

type workerMarkerKey struct{}

// Scheduler is the scheduler façade together with the state it owns: the
// pending-task priority queue, per-group stats, per-worker diagnostic
// slots, and the flags describing the current process/wait_all cycle.
//
// The zero value is not usable; construct with NewScheduler.
type Scheduler struct {
	logger   dtlog.Logger
	progress *progress.Registry

	// Guards queue, workerSlots, and activeByGroup together: one lock for
	// pending tasks, stats, and worker slots.
	mu            sync.Mutex
	queue         *pqueue.Store
	workerSlots   []string
	activeByGroup map[string]int

	wakeOne    chan struct{} // buffered 1; a non-blocking send wakes exactly one waiter
	shutdownCh chan struct{}
	quiesceCh  chan struct{} // buffered 1; a non-blocking send wakes Process/WaitAll waiters

	observersMu sync.Mutex
	observers   map[string]ErrorObserver

	numActive      atomic.Int64
	shuttingDown   atomic.Bool
	success        atomic.Bool
	processRunning atomic.Bool
	waitAllRunning atomic.Bool
	nextReportTime atomic.Int64

	numWorkers  int
	workerWG    sync.WaitGroup
	reportEvery time.Duration
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger overrides the default stderr zerolog sink.
func WithLogger(l dtlog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithProgress overrides the scheduler's progress registry.
func WithProgress(p *progress.Registry) Option {
	return func(s *Scheduler) { s.progress = p }
}

// WithReportInterval overrides the default 5s periodic report cadence.
func WithReportInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.reportEvery = d }
}

// NewScheduler constructs a scheduler with the given worker count, spawning
// one worker goroutine per worker immediately if workers >= 2 (if workers == 1, no
// goroutine is spawned; the calling goroutine of Process itself drains the
// queue). The DT_WORKERS environment variable, when set to a positive
// integer, overrides workers.
func NewScheduler(workers int, opts ...Option) *Scheduler {
	if v, ok := os.LookupEnv("DT_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}
	if workers < 1 {
		panic("scheduler requires at least one worker")
	}

	s := &Scheduler{
		logger:      dtlog.Default(),
		queue:       pqueue.NewStore(),
		observers:   make(map[string]ErrorObserver),
		wakeOne:     make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
		quiesceCh:   make(chan struct{}, 1),
		numWorkers:  workers,
		reportEvery: defaultReportEvery,
	}
	s.progress = progress.New(s.logger, defaultProgressEvery)
	s.success.Store(true)

	for _, opt := range opts {
		opt(s)
	}

	if workers >= 2 {
		s.workerSlots = make([]string, workers)
		s.activeByGroup = make(map[string]int)
		s.workerWG.Add(workers)
		for i := 0; i < workers; i++ {
			go s.workerLoop(i)
		}
	} else {
		s.workerSlots = make([]string, 1)
		s.activeByGroup = make(map[string]int)
	}

	s.logger.Info("scheduler started", dtlog.F("workers", workers))
	return s
}

// defaultWorkerCount picks a reasonable worker count for the package-level
// default scheduler: one worker per logical CPU.
func defaultWorkerCount() int {
	return max(runtime.GOMAXPROCS(0), 1)
}

var (
	defaultOnce sync.Once
	defaultSch  *Scheduler
)

// Default returns a lazily-constructed process-wide scheduler sized to
// GOMAXPROCS (subject to DT_WORKERS). Most callers should instead hold an
// explicit *Scheduler from NewScheduler; Default exists only for the
// convenience of a top-level binary that doesn't need more than one.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultSch = NewScheduler(defaultWorkerCount())
	})
	return defaultSch
}

// Submit pushes work into group with the given priority (larger runs
// first) and returns immediately. param is opaque to the scheduler; it
// exists so Cancel predicates can inspect per-task metadata without the
// closure itself needing to expose it.
func (s *Scheduler) Submit(group string, priority int64, work WorkFunc, param any) error {
	if work == nil {
		panic("work function must be non-nil")
	}
	if s.shuttingDown.Load() {
		return errSchedulerShutDown
	}

	t := &pqueue.Task{
		Priority: priority,
		Group:    group,
		Param:    param,
		ID:       uuid.NewString(),
		Work:     work,
	}
	s.mu.Lock()
	s.queue.Push(t)
	s.mu.Unlock()

	s.wakeOneWorker()
	return nil
}

func (s *Scheduler) wakeOneWorker() {
	select {
	case s.wakeOne <- struct{}{}:
	default:
	}
}

// Cancel drops every currently queued task for which pred returns true and
// returns the number dropped. Tasks already running are not interrupted.
func (s *Scheduler) Cancel(pred CancelPredicate) int {
	s.mu.Lock()
	n := s.queue.RebuildFilter(pred)
	s.mu.Unlock()
	return n
}

// OnError registers obs as the error observer for group. It fails with
// ErrPreconditionViolated if group already has pending or running tasks, and
// with ErrDuplicateObserver if an observer is already registered and replace
// is false.
func (s *Scheduler) OnError(group string, obs ErrorObserver, replace bool) error {
	s.mu.Lock()
	stat := s.queue.Stat(group)
	active := s.activeByGroup[group]
	s.mu.Unlock()
	if stat.Queued > 0 || active > 0 {
		return ErrPreconditionViolated
	}

	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	if _, exists := s.observers[group]; exists && !replace {
		return ErrDuplicateObserver
	}
	s.observers[group] = obs
	return nil
}

// Stat returns a snapshot of group's cumulative counters. A group that has
// never had a task submitted returns the zero value. At every quiescent
// point, Submitted == Completed + Queued + Cancelled.
func (s *Scheduler) Stat(group string) TaskStat {
	s.mu.Lock()
	st := s.queue.Stat(group)
	s.mu.Unlock()
	return TaskStat(st)
}

// Snapshot returns every group's cumulative counters, keyed by group name.
func (s *Scheduler) Snapshot() map[string]TaskStat {
	s.mu.Lock()
	raw := s.queue.Snapshot()
	s.mu.Unlock()

	out := make(map[string]TaskStat, len(raw))
	for g, st := range raw {
		out[g] = TaskStat(st)
	}
	return out
}

func (s *Scheduler) clearObserver(group string) {
	s.observersMu.Lock()
	delete(s.observers, group)
	s.observersMu.Unlock()
}

func (s *Scheduler) clearAllObservers() {
	s.observersMu.Lock()
	s.observers = make(map[string]ErrorObserver)
	s.observersMu.Unlock()
}

// Process blocks the calling goroutine until every group's queued count and
// the scheduler's active count reach zero. It fails with ErrNestedProcess if
// another call to Process is already in progress. On return, every
// registered observer is cleared and the cycle's success flag is reset. If
// any task failed during the cycle, Process returns ErrTaskFailure.
func (s *Scheduler) Process(ctx context.Context, reportStatus bool) error {
	if !s.processRunning.CompareAndSwap(false, true) {
		return ErrNestedProcess
	}
	defer func() {
		s.clearAllObservers()
		s.success.Store(true)
		s.processRunning.Store(false)
	}()

	if s.numWorkers == 1 {
		s.drainAlone(ctx, reportStatus)
	} else {
		s.waitUntilQuiescent(ctx, reportStatus)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.success.Load() {
		return ErrTaskFailure
	}
	return nil
}

// ProcessOK behaves like Process but returns the success flag as a bool
// instead of raising ErrTaskFailure. Other errors (ErrNestedProcess, a
// canceled ctx) still propagate.
func (s *Scheduler) ProcessOK(ctx context.Context, reportStatus bool) (bool, error) {
	err := s.Process(ctx, reportStatus)
	switch err {
	case nil:
		return true, nil
	case ErrTaskFailure:
		return false, nil
	default:
		return false, err
	}
}

// ProcessOnce executes at most one queued task if the calling goroutine is
// itself a worker (i.e., ctx was handed down from a WorkFunc invocation);
// otherwise it is a no-op. It is always safe to call concurrently with
// Process.
func (s *Scheduler) ProcessOnce(ctx context.Context, reportStatus bool) error {
	if idx, ok := ctx.Value(workerMarkerKey{}).(int); ok {
		s.runOneTask(idx)
	}
	if reportStatus {
		s.maybeReport()
	}
	return ctx.Err()
}

// WaitAll is a nested-scope utility: it installs a transient observer on
// group that counts errors, hands submitFn a submission callback that wraps
// each task's closure to track completion, then drains via ProcessOnce until
// every task submitted through that callback has completed. WaitAll requires
// at least 4 workers and fails with ErrNestedWaitAll if called concurrently
// with another WaitAll.
func (s *Scheduler) WaitAll(ctx context.Context, group string, submitFn func(submit func(priority int64, work WorkFunc, param any) error)) error {
	if s.numWorkers < 4 {
		return ErrInsufficientWorkers
	}
	if !s.waitAllRunning.CompareAndSwap(false, true) {
		return ErrNestedWaitAll
	}
	defer s.waitAllRunning.Store(false)

	var outstanding atomic.Int64
	var errCount atomic.Int64

	if err := s.OnError(group, func(*ScheduledTaskError) { errCount.Add(1) }, true); err != nil {
		return err
	}
	defer s.clearObserver(group)

	submit := func(priority int64, work WorkFunc, param any) error {
		outstanding.Add(1)
		wrapped := func(ctx context.Context) error {
			// A failed task is accounted for by errCount instead.
			err := work(ctx)
			if err == nil {
				outstanding.Add(-1)
			}
			return err
		}
		return s.Submit(group, priority, wrapped, param)
	}
	submitFn(submit)

	for outstanding.Load()-errCount.Load() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ProcessOnce(ctx, false); err != nil {
			return err
		}
		if outstanding.Load()-errCount.Load() > 0 {
			// Not a worker context, or the remaining work is still in
			// flight elsewhere: avoid a tight spin while we wait.
			time.Sleep(defaultWaitInterval)
		}
	}

	if errCount.Load() > 0 {
		return ErrTaskFailure
	}
	return nil
}

// Close signals every worker to stop after finishing its current task, waits
// for them to exit, and logs a per-group cpu-time summary. Calling Close more
// than once has no additional effect.
func (s *Scheduler) Close() {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	close(s.shutdownCh)
	s.workerWG.Wait()
	s.logTeardownSummary()
}

func (s *Scheduler) logTeardownSummary() {
	s.mu.Lock()
	stats := s.queue.Snapshot()
	s.mu.Unlock()

	type prefixTotal struct {
		prefix string
		total  float64
	}
	totals := make(map[string]float64)
	var grandTotal float64
	for group, st := range stats {
		prefix := group
		if i := strings.IndexByte(group, ':'); i >= 0 {
			prefix = group[:i]
		}
		totals[prefix] += st.CPUTimeSeconds
		grandTotal += st.CPUTimeSeconds
	}

	ordered := make([]prefixTotal, 0, len(totals))
	for prefix, total := range totals {
		ordered = append(ordered, prefixTotal{prefix, total})
	}
	slices.SortFunc(ordered, func(a, b prefixTotal) int {
		switch {
		case a.total > b.total:
			return -1
		case a.total < b.total:
			return 1
		default:
			return strings.Compare(a.prefix, b.prefix)
		}
	})

	for _, pt := range ordered {
		s.logger.Info("cpu time by group prefix", dtlog.F("prefix", pt.prefix), dtlog.F("cpu_seconds", pt.total))
	}
	s.logger.Info("scheduler stopped", dtlog.F("total_cpu_seconds", grandTotal))
}

func (s *Scheduler) maybeReport() {
	now := time.Now().UnixNano()
	deadline := s.nextReportTime.Load()
	if now < deadline {
		return
	}
	if !s.nextReportTime.CompareAndSwap(deadline, now+int64(s.reportEvery)) {
		return
	}

	s.mu.Lock()
	totalQueued := s.queue.Len()
	activeByGroup := make(map[string]int, len(s.activeByGroup))
	for g, n := range s.activeByGroup {
		activeByGroup[g] = n
	}
	s.mu.Unlock()

	s.logger.Info("scheduler report",
		dtlog.F("total_queued", totalQueued),
		dtlog.F("active_by_group", activeByGroup),
	)
	s.progress.Inform()
}
