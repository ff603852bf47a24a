// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package coro_test

import (
	"context"
	"testing"

	"github.com/dtsched/dtsched/coro"
	"github.com/stretchr/testify/require"
)

// TestAwaitExternalResumedSynchronously covers the case where the Resumer is
// driven directly from the same goroutine that originally called Resume,
// with no intervening background event -- the simplest possible external
// source.
func TestAwaitExternalResumedSynchronously(t *testing.T) {
	chk := require.New(t)

	var resumer *coro.Resumer
	task := coro.NewTask(nil, func(ctx context.Context) (int, error) {
		coro.AwaitExternal(ctx, func(r *coro.Resumer) {
			resumer = r
		})
		return 42, nil
	})

	task.Resume()
	chk.False(task.Done(), "task should be suspended awaiting the external resumer")
	chk.NotNil(resumer)

	resumer.Resume()
	chk.True(task.Done())
	v, err := task.Result()
	chk.NoError(err)
	chk.Equal(42, v)
}

// TestAwaitExternalResumedAsynchronously covers the intended real-world
// shape: suspendAction arranges for a background goroutine (standing in for
// a timer or I/O callback) to call Resume later, off the goroutine that
// suspended the task.
func TestAwaitExternalResumedAsynchronously(t *testing.T) {
	chk := require.New(t)

	done := make(chan struct{})
	task := coro.NewTask(nil, func(ctx context.Context) (string, error) {
		var got string
		coro.AwaitExternal(ctx, func(r *coro.Resumer) {
			go func() {
				got = "resumed"
				r.Resume()
				close(done)
			}()
		})
		return got, nil
	})

	task.Resume()
	chk.False(task.Done())

	<-done
	chk.True(task.Done())
	v, err := task.Result()
	chk.NoError(err)
	chk.Equal("resumed", v)
}

// TestAwaitExternalOutsideTaskBodyPanics covers the documented programmer
// error of calling AwaitExternal from a context with no driver handle.
func TestAwaitExternalOutsideTaskBodyPanics(t *testing.T) {
	chk := require.New(t)
	chk.Panics(func() {
		coro.AwaitExternal(context.Background(), func(*coro.Resumer) {})
	})
}
