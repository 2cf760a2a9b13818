// Package queue is the resumable bounded work queue: a fixed-size
// worker pool draining units subject to dependency edges. It
// generalizes a bounded-channel-of-tasks worker pool from one-shot
// batch processing to long-lived, cancelable, dependency-ordered
// units.
package queue

import (
	"context"
	"sync"
)

// DefaultMaxConcurrent is the default worker pool size.
const DefaultMaxConcurrent = 4

// Unit is one piece of schedulable work: a probe, a block transfer,
// or a finalize call. Run blocks until the work finishes, fails, or
// ctx is canceled, and must return ctx.Err() (or a wrapped form of
// it) in the cancellation case so the queue can tell a deliberate
// removal apart from a genuine failure.
type Unit interface {
	ID() string
	Dependencies() []string
	Run(ctx context.Context) error
}

// CompletionFunc is invoked once per unit that reaches a terminal
// state by running to completion or failing — never for units evicted
// by Remove/Clear, since the caller that removed them already knows
// the outcome.
type CompletionFunc func(unitID string, err error)

// Queue is a bounded, dependency-aware work queue. The zero value is
// not usable; construct with New.
type Queue struct {
	maxConcurrent int
	onComplete    CompletionFunc

	mu        sync.Mutex
	pending   map[string]Unit            // not yet dispatched, deps may be outstanding
	running   map[string]context.CancelFunc
	completed map[string]bool            // successfully finished unit IDs, for dependency resolution
	suppress  map[string]bool            // IDs removed/cleared; their callback is swallowed
	ready     []Unit                     // FIFO among units whose dependencies are satisfied

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a Queue with the given concurrency cap and
// completion callback. maxConcurrent <= 0 falls back to
// DefaultMaxConcurrent.
func New(maxConcurrent int, onComplete CompletionFunc) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		onComplete:    onComplete,
		pending:       make(map[string]Unit),
		running:       make(map[string]context.CancelFunc),
		completed:     make(map[string]bool),
		suppress:      make(map[string]bool),
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// MarkDone seeds the dependency-resolution set without dispatching
// anything, for hydrating already-finished blocks after a restart so
// their dependents don't wait on work the queue never saw.
func (q *Queue) MarkDone(ids ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.completed[id] = true
	}
	q.promoteReadyLocked()
}

// Add enqueues one or more units. A unit whose dependencies are
// already satisfied becomes immediately ready. The ready FIFO keeps
// the order in which units became ready; units that become ready in
// the same step (several passed to one Add call, or several released
// by one MarkDone or one completed unit) join it in no defined order.
func (q *Queue) Add(units ...Unit) {
	q.mu.Lock()
	for _, u := range units {
		q.pending[u.ID()] = u
	}
	q.promoteReadyLocked()
	q.mu.Unlock()
	q.dispatch()
}

// promoteReadyLocked moves every pending unit whose dependencies are
// all completed onto the ready FIFO. Must be called with mu held.
func (q *Queue) promoteReadyLocked() {
	for id, u := range q.pending {
		if q.dependenciesSatisfiedLocked(u) {
			delete(q.pending, id)
			q.ready = append(q.ready, u)
		}
	}
}

func (q *Queue) dependenciesSatisfiedLocked(u Unit) bool {
	for _, dep := range u.Dependencies() {
		if !q.completed[dep] {
			return false
		}
	}
	return true
}

// dispatch fills available worker slots from the ready FIFO. It is
// safe to call concurrently; each successful slot claim starts exactly
// one goroutine.
func (q *Queue) dispatch() {
	for {
		select {
		case q.sem <- struct{}{}:
		default:
			return
		}

		q.mu.Lock()
		if len(q.ready) == 0 {
			q.mu.Unlock()
			<-q.sem
			return
		}
		u := q.ready[0]
		q.ready = q.ready[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.running[u.ID()] = cancel
		q.mu.Unlock()

		q.wg.Add(1)
		go q.run(u, ctx, cancel)
	}
}

func (q *Queue) run(u Unit, ctx context.Context, cancel context.CancelFunc) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	err := u.Run(ctx)
	cancel()

	q.mu.Lock()
	delete(q.running, u.ID())
	suppressed := q.suppress[u.ID()]
	delete(q.suppress, u.ID())
	if err == nil {
		q.completed[u.ID()] = true
	}
	q.promoteReadyLocked()
	q.mu.Unlock()

	if !suppressed && q.onComplete != nil {
		q.onComplete(u.ID(), err)
	}
	q.dispatch()
}

// Remove cancels id if it's running and drops it from the pending/
// ready sets otherwise. removeOnCompletion=true is implicit: a
// completed unit is already gone from every internal set by the time
// its goroutine returns.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	for i, u := range q.ready {
		if u.ID() == id {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			break
		}
	}
	cancel, running := q.running[id]
	if running {
		q.suppress[id] = true
	}
	q.mu.Unlock()

	if running {
		cancel()
	}
}

// Clear cancels and removes every unit, matching pauseAll's
// fast-path and removeAll.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = make(map[string]Unit)
	q.ready = nil
	cancels := make([]context.CancelFunc, 0, len(q.running))
	for id, cancel := range q.running {
		q.suppress[id] = true
		cancels = append(cancels, cancel)
	}
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until every in-flight unit's goroutine has returned.
// Intended for tests and graceful shutdown, not the steady-state
// dispatch loop.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Len reports the number of units pending or ready, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.ready)
}
