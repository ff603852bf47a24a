// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package progress implements a process-wide registry mapping a job name to
// a fractional completion in [0, 1], with rate-limited logging of snapshots
// so that frequent updates from many goroutines don't flood the log. The
// insertion-ordered name list is backed by github.com/gammazero/deque rather
// than a hand-rolled ring buffer.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/dtsched/dtsched/internal/dtlog"
	"github.com/gammazero/deque"
	"golang.org/x/time/rate"
)

// Entry is a single named fraction in a Snapshot.
type Entry struct {
	Name     string
	Fraction float64
}

// Registry is the process-wide progress registry. The zero value is not
// usable; construct with New.
type Registry struct {
	logger  dtlog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	order     deque.Deque[string]
	seen      map[string]struct{}
	fractions map[string]float64
}

// New returns a Registry that logs snapshots through logger no more often
// than once per minInterval (callers typically pass 1 second).
func New(logger dtlog.Logger, minInterval time.Duration) *Registry {
	if logger == nil {
		logger = dtlog.Nop
	}
	return &Registry{
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		seen:      make(map[string]struct{}),
		fractions: make(map[string]float64),
	}
}

// Update records that name has reached fraction completion. Updates are
// monotone: a fraction lower than the last recorded value for name is
// ignored. Panics if fraction is outside [0, 1].
func (r *Registry) Update(name string, fraction float64) {
	if fraction < 0 || fraction > 1 {
		panic("progress fraction must be in [0, 1]")
	}
	r.mu.Lock()
	if _, ok := r.seen[name]; !ok {
		r.seen[name] = struct{}{}
		r.order.PushBack(name)
	}
	if cur, ok := r.fractions[name]; ok && fraction < cur {
		r.mu.Unlock()
		return
	}
	r.fractions[name] = fraction
	r.mu.Unlock()

	r.Inform()
}

// Get returns the last recorded fraction for name and whether it has ever
// been updated.
func (r *Registry) Get(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fractions[name]
	return f, ok
}

// Retire removes name from the registry: it drops out of both Get and the
// next Snapshot. A long-running job's name should be retired once it's done
// so the registry doesn't accumulate one entry per job for the life of the
// process. Retiring a name that was never updated is a no-op.
func (r *Registry) Retire(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[name]; !ok {
		return
	}
	delete(r.seen, name)
	delete(r.fractions, name)
	for i := 0; i < r.order.Len(); i++ {
		if r.order.At(i) == name {
			r.order.Remove(i)
			break
		}
	}
}

// Guard registers name at 0 fractional completion, immediately making it
// visible in Snapshot, and returns a func that retires it. It's meant to be
// deferred at the top of a long-running job so the entry disappears on its
// own when the job returns, success or not:
//
//	done := registry.Guard("ingest-batch-42")
//	defer done()
func (r *Registry) Guard(name string) (retire func()) {
	r.Update(name, 0)
	return func() { r.Retire(name) }
}

// Inform emits a rate-limited snapshot of every tracked name's fraction, in
// the order each name was first seen. This is the hook the scheduler's
// periodic reporter calls after logging its own queue/active-by-group
// snapshot.
func (r *Registry) Inform() {
	if !r.limiter.Allow() {
		return
	}
	snapshot := r.Snapshot()
	r.logger.Info("progress snapshot", dtlog.F("entries", snapshot))
}

// Snapshot returns every tracked name and its current fraction, in
// first-seen order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, r.order.Len())
	for i := 0; i < r.order.Len(); i++ {
		name := r.order.At(i)
		out = append(out, Entry{Name: name, Fraction: r.fractions[name]})
	}
	return out
}

// SortByName returns a copy of entries sorted by name, for tests that want to
// assert on content independent of Snapshot's first-seen ordering.
func SortByName(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
