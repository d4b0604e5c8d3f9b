package async

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Close()

	var count atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		p.Submit(func() {
			count.Add(1)
			done <- struct{}{}
		})
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for task")
		}
	}
	require.Equal(t, int32(3), count.Load())
}

func TestPoolSubmitAfterCloseIsNoop(t *testing.T) {
	p := NewPool("test", 1)
	p.Close()

	ran := make(chan struct{}, 1)
	p.Submit(func() { ran <- struct{}{} })

	select {
	case <-ran:
		t.Fatal("task should not have run after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPinnedPoolRunsSubmittedTasks(t *testing.T) {
	p := NewPinnedPool("blocking", 2, []int{0})
	defer p.Close()

	done := make(chan struct{}, 1)
	p.Submit(func() { done <- struct{}{} })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pinned task")
	}
}

func TestPoolRespectsConcurrencyLimit(t *testing.T) {
	p := NewPool("test", 1)
	defer p.Close()

	var running atomic.Int32
	var maxRunning atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		p.Submit(func() {
			n := running.Add(1)
			started <- struct{}{}
			for {
				old := maxRunning.Load()
				if n <= old || maxRunning.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}

	<-started
	select {
	case <-started:
		t.Fatal("second task started before first released, concurrency not bounded")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
}
