// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package timerp pools *time.Timer values so that the worker pool's bounded
// condition-variable-style wait doesn't allocate a timer on every idle cycle.
package timerp

import (
	"sync"
	"time"
)

// The pool hands out stopped timers with an empty channel: New creates one
// already stopped, and Wait stops and drains its timer before returning it.
// This does not depend on the timer semantics of any particular Go version.

var pool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	},
}

func Get() *time.Timer {
	return pool.Get().(*time.Timer)
}

func Put(t *time.Timer) {
	pool.Put(t)
}

// Wait blocks the calling goroutine for at most d on a pooled timer, unless
// one of the given channels becomes ready first. It returns the index of the
// channel that woke it (0-based), or -1 if it woke because d elapsed.
func Wait(d time.Duration, chans ...<-chan struct{}) int {
	t := Get()
	defer Put(t)
	t.Reset(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()

	switch len(chans) {
	case 1:
		select {
		case <-chans[0]:
			return 0
		case <-t.C:
			return -1
		}
	case 2:
		select {
		case <-chans[0]:
			return 0
		case <-chans[1]:
			return 1
		case <-t.C:
			return -1
		}
	default:
		panic("timerp.Wait supports at most 2 channels")
	}
}
