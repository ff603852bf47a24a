// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package dtsched_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dtsched/dtsched"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestBasicDispatchPriorityOrdering(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	var mu sync.Mutex
	var recorded []int64

	for _, p := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		p := p
		err := sched.Submit("work", p, func(context.Context) error {
			mu.Lock()
			recorded = append(recorded, p)
			mu.Unlock()
			return nil
		}, nil)
		chk.NoError(err)
	}

	chk.NoError(sched.Process(context.Background(), false))

	mu.Lock()
	defer mu.Unlock()
	chk.Len(recorded, 10)
	var seenTen bool
	for _, p := range recorded[:4] {
		if p == 10 {
			seenTen = true
		}
	}
	chk.True(seenTen, "priority 10 must appear among the first four completions")
}

func TestErrorObserverCapturesFailure(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	var mu sync.Mutex
	var captured *dtsched.ScheduledTaskError

	chk.NoError(sched.OnError("bad", func(e *dtsched.ScheduledTaskError) {
		mu.Lock()
		captured = e
		mu.Unlock()
	}, false))

	chk.NoError(sched.Submit("bad", 1, func(context.Context) error {
		return errors.New("boom")
	}, nil))

	ok, err := sched.ProcessOK(context.Background(), false)
	chk.NoError(err)
	chk.False(ok)

	mu.Lock()
	defer mu.Unlock()
	chk.NotNil(captured)
	chk.Equal("bad", captured.Group)
	chk.Contains(captured.Message, "boom")
}

func TestExceptionWithNoObserverRaisesTaskFailure(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	chk.NoError(sched.Submit("bad", 1, func(context.Context) error {
		return errors.New("boom")
	}, nil))

	err := sched.Process(context.Background(), false)
	chk.ErrorIs(err, dtsched.ErrTaskFailure)
}

func TestCancellationByParameter(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	const total = 1000

	// Submit from a background task, racing Cancel against dispatch, rather
	// than submitting everything up front: that's what makes dropped land
	// somewhere in the middle of the range instead of always at one extreme.
	var eg errgroup.Group
	eg.Go(func() error {
		for i := 0; i < total; i++ {
			if err := sched.Submit("t", 1, func(context.Context) error { return nil }, i%2 == 0); err != nil {
				return err
			}
		}
		return nil
	})

	dropped := sched.Cancel(func(group string, param any) bool {
		return group == "t" && param.(bool)
	})
	chk.GreaterOrEqual(dropped, 0)
	chk.LessOrEqual(dropped, total)

	chk.NoError(eg.Wait())
	chk.NoError(sched.Process(context.Background(), false))

	// queued-only cancellation semantics don't guarantee an exact drop count
	// under concurrent dispatch, but submitted = completed + queued +
	// cancelled must hold at this quiescent point regardless.
	st := sched.Stat("t")
	chk.EqualValues(total, st.Submitted)
	chk.Zero(st.Queued)
	chk.EqualValues(total, st.Completed+st.Cancelled)
}

func TestProcessOnEmptySchedulerReturnsImmediately(t *testing.T) {
	chk := require.New(t)
	for _, n := range []int{1, 4} {
		sched := dtsched.NewScheduler(n)
		chk.NoError(sched.Process(context.Background(), false))
		sched.Close()
	}
}

func TestOnErrorAfterSubmitFailsPrecondition(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	block := make(chan struct{})
	chk.NoError(sched.Submit("g", 1, func(context.Context) error {
		<-block
		return nil
	}, nil))

	err := sched.OnError("g", func(*dtsched.ScheduledTaskError) {}, false)
	chk.ErrorIs(err, dtsched.ErrPreconditionViolated)
	close(block)
	chk.NoError(sched.Process(context.Background(), false))
}

func TestNestedProcessFails(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(1)
	defer sched.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	nestedDone := make(chan struct{})
	chk.NoError(sched.Submit("g", 1, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, nil))

	var nestedErr error
	go func() {
		<-started
		nestedErr = sched.Process(context.Background(), false)
		close(nestedDone)
	}()
	go func() {
		<-nestedDone
		close(release)
	}()

	chk.NoError(sched.Process(context.Background(), false))
	chk.ErrorIs(nestedErr, dtsched.ErrNestedProcess)
}

func TestWorkerSlotNestingLabelsParentChild(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(1)
	defer sched.Close()

	var captured string
	chk.NoError(sched.Submit("outer", 1, func(ctx context.Context) error {
		chk.NoError(sched.Submit("child", 1, func(context.Context) error {
			captured = sched.WorkerSlots()[0]
			return nil
		}, nil))
		return sched.ProcessOnce(ctx, false)
	}, nil))

	chk.NoError(sched.Process(context.Background(), false))
	chk.Equal("outer/child", captured)
	chk.Equal([]string{""}, sched.WorkerSlots())
}

func TestWaitAllRequiresFourWorkers(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(2)
	defer sched.Close()

	err := sched.WaitAll(context.Background(), "g", func(submit func(int64, dtsched.WorkFunc, any) error) {})
	chk.ErrorIs(err, dtsched.ErrInsufficientWorkers)
}

// TestConcurrentSubmitAndCancelPreserveInvariant fires many goroutines at
// Submit and Cancel simultaneously and checks that every submitted task is
// eventually accounted for as either completed or cancelled.
func TestConcurrentSubmitAndCancelPreserveInvariant(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	const submitters = 20
	const perSubmitter = 50

	var g errgroup.Group
	for s := 0; s < submitters; s++ {
		s := s
		g.Go(func() error {
			for i := 0; i < perSubmitter; i++ {
				if err := sched.Submit("conc", int64(i), func(context.Context) error {
					return nil
				}, s%2 == 0); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		sched.Cancel(func(group string, param any) bool {
			return group == "conc" && param.(bool)
		})
		return nil
	})

	chk.NoError(g.Wait())
	chk.NoError(sched.Process(context.Background(), false))

	st := sched.Stat("conc")
	chk.EqualValues(submitters*perSubmitter, st.Submitted)
	chk.Zero(st.Queued)
	chk.EqualValues(st.Submitted, st.Completed+st.Cancelled)
}

func TestWaitAllDrainsSubmittedWork(t *testing.T) {
	chk := require.New(t)
	sched := dtsched.NewScheduler(4)
	defer sched.Close()

	var count int64
	var mu sync.Mutex

	err := sched.WaitAll(context.Background(), "fanout", func(submit func(int64, dtsched.WorkFunc, any) error) {
		for i := 0; i < 20; i++ {
			chk.NoError(submit(int64(i), func(context.Context) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			}, nil))
		}
	})
	chk.NoError(err)
	chk.EqualValues(20, count)
}
