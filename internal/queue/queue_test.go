package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeUnit struct {
	id      string
	deps    []string
	started chan struct{}
	release chan error
}

func newFakeUnit(id string, deps ...string) *fakeUnit {
	return &fakeUnit{id: id, deps: deps, started: make(chan struct{}, 1), release: make(chan error, 1)}
}

func (f *fakeUnit) ID() string             { return f.id }
func (f *fakeUnit) Dependencies() []string { return f.deps }
func (f *fakeUnit) Run(ctx context.Context) error {
	f.started <- struct{}{}
	select {
	case err := <-f.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestQueueRespectsMaxConcurrent(t *testing.T) {
	var completed int32
	q := New(2, func(id string, err error) { atomic.AddInt32(&completed, 1) })

	units := make([]*fakeUnit, 5)
	for i := range units {
		units[i] = newFakeUnit(string(rune('a' + i)))
		q.Add(units[i])
	}

	started := 0
	deadline := time.After(2 * time.Second)
	for started < 2 {
		select {
		case <-units[started].started:
			started++
		case <-deadline:
			t.Fatal("expected two units to start under the concurrency cap")
		}
	}

	select {
	case <-units[2].started:
		t.Fatal("a third unit should not start while the cap is saturated")
	case <-time.After(100 * time.Millisecond):
	}

	units[0].release <- nil
	select {
	case <-units[2].started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a queued unit to start once a slot freed up")
	}

	units[1].release <- nil
	units[2].release <- nil
	units[3].release <- nil
	units[4].release <- nil
	q.Wait()
	require.EqualValues(t, 5, atomic.LoadInt32(&completed))
}

func TestQueueHonorsDependencyEdges(t *testing.T) {
	var mu sync.Mutex
	var order []string
	q := New(4, func(id string, err error) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	})

	final := newFakeUnit("final", "block-0", "block-1")
	block0 := newFakeUnit("block-0")
	block1 := newFakeUnit("block-1")

	q.Add(final, block0, block1)

	select {
	case <-final.started:
		t.Fatal("final unit must not start before its dependencies complete")
	case <-time.After(100 * time.Millisecond):
	}

	<-block0.started
	<-block1.started
	block0.release <- nil
	block1.release <- nil

	select {
	case <-final.started:
	case <-time.After(2 * time.Second):
		t.Fatal("final unit should start once both dependencies complete")
	}
	final.release <- nil
	q.Wait()
}

func TestRemoveCancelsRunningUnitWithoutCallback(t *testing.T) {
	var called int32
	q := New(1, func(id string, err error) { atomic.AddInt32(&called, 1) })

	u := newFakeUnit("x")
	q.Add(u)
	<-u.started

	q.Remove("x")
	q.Wait()
	require.EqualValues(t, 0, atomic.LoadInt32(&called), "removed unit must not fire the completion callback")
}

func TestClearCancelsEverything(t *testing.T) {
	q := New(2, nil)
	a := newFakeUnit("a")
	b := newFakeUnit("b", "pending-dep")
	q.Add(a, b)
	<-a.started

	q.Clear()
	q.Wait()
	require.Equal(t, 0, q.Len())
}

func TestMarkDoneSatisfiesPreExistingDependency(t *testing.T) {
	q := New(2, nil)
	q.MarkDone("block-0")

	final := newFakeUnit("final", "block-0")
	q.Add(final)

	select {
	case <-final.started:
	case <-time.After(time.Second):
		t.Fatal("dependency marked done before Add should not block the dependent unit")
	}
	final.release <- nil
	q.Wait()
}
