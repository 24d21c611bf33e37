package kproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sysgate/internal/fdtable"
	"github.com/loykin/sysgate/internal/vm"
)

func spawn(parent *Process, id PID) *Process {
	return New(id, "child", parent, vm.NewAddressSpace(), fdtable.New(0))
}

func TestWaitAfterExitReturnsStatus(t *testing.T) {
	parent := spawn(nil, 1)
	child := spawn(parent, 2)

	require.True(t, child.Exit(42))
	assert.Equal(t, 42, parent.Wait(context.Background(), 2))
}

func TestWaitBlocksUntilExit(t *testing.T) {
	parent := spawn(nil, 1)
	child := spawn(parent, 2)

	got := make(chan int, 1)
	go func() { got <- parent.Wait(context.Background(), 2) }()

	select {
	case <-got:
		t.Fatal("wait returned before child exited")
	case <-time.After(20 * time.Millisecond):
	}
	child.Exit(7)

	select {
	case s := <-got:
		assert.Equal(t, 7, s)
	case <-time.After(2 * time.Second):
		t.Fatal("wait never returned")
	}
}

func TestWaitOnStrangerAndTwice(t *testing.T) {
	parent := spawn(nil, 1)
	other := spawn(nil, 3)
	child := spawn(parent, 2)
	_ = spawn(other, 4)

	assert.Equal(t, -1, parent.Wait(context.Background(), 4))
	assert.Equal(t, -1, parent.Wait(context.Background(), 99))

	child.Exit(0)
	assert.Equal(t, 0, parent.Wait(context.Background(), 2))
	assert.Equal(t, -1, parent.Wait(context.Background(), 2))
}

func TestExitIsIdempotent(t *testing.T) {
	parent := spawn(nil, 1)
	child := spawn(parent, 2)

	assert.True(t, child.Exit(5))
	assert.False(t, child.Exit(9))
	s, done := child.ExitStatus()
	assert.True(t, done)
	assert.Equal(t, 5, s)
	assert.Equal(t, 5, parent.Wait(context.Background(), 2))
}

func TestWaitCancelled(t *testing.T) {
	parent := spawn(nil, 1)
	child := spawn(parent, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, -1, parent.Wait(ctx, 2))

	// The record was not consumed and the semaphore is still usable.
	child.Exit(3)
	assert.Equal(t, 3, parent.Wait(context.Background(), 2))

	late := spawn(parent, 5)
	go func() {
		time.Sleep(10 * time.Millisecond)
		late.Exit(11)
	}()
	assert.Equal(t, 11, parent.Wait(context.Background(), 5))
}

func TestExitOfOtherChildDoesNotWakeWaiter(t *testing.T) {
	parent := spawn(nil, 1)
	a := spawn(parent, 2)
	b := spawn(parent, 3)

	got := make(chan int, 1)
	go func() { got <- parent.Wait(context.Background(), 3) }()
	time.Sleep(10 * time.Millisecond)
	a.Exit(1)

	select {
	case <-got:
		t.Fatal("woken by the wrong child")
	case <-time.After(20 * time.Millisecond):
	}
	b.Exit(2)
	assert.Equal(t, 2, <-got)
	assert.Equal(t, 1, parent.Wait(context.Background(), 2))
}

func TestManyChildrenRace(t *testing.T) {
	parent := spawn(nil, 1)
	const n = 50
	kids := make([]*Process, n)
	for i := range kids {
		kids[i] = spawn(parent, PID(i+2))
	}

	var wg sync.WaitGroup
	for i, k := range kids {
		wg.Add(1)
		go func(i int, k *Process) {
			defer wg.Done()
			k.Exit(i)
		}(i, k)
	}
	for i := range kids {
		assert.Equal(t, i, parent.Wait(context.Background(), PID(i+2)))
	}
	wg.Wait()

	for _, rec := range parent.Children() {
		assert.True(t, rec.Used)
		assert.True(t, rec.Waited)
	}
}

func TestSnapshot(t *testing.T) {
	parent := spawn(nil, 1)
	child := spawn(parent, 2)

	st := child.Snapshot()
	assert.Equal(t, PID(2), st.PID)
	assert.Equal(t, PID(1), st.ParentPID)
	assert.Equal(t, "running", st.State)
	assert.Empty(t, st.OpenFiles)

	child.Exit(-1)
	st = child.Snapshot()
	assert.Equal(t, "exited", st.State)
	assert.Equal(t, -1, st.ExitStatus)
	assert.False(t, st.ExitedAt.IsZero())

	require.Len(t, parent.Snapshot().Children, 1)
	assert.True(t, parent.Snapshot().Children[0].Used)
}
