package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerQuiesceWaitsForCompletion(t *testing.T) {
	p := NewPool("test", 2)
	defer p.Close()

	tr := NewTracker(p)
	started := make(chan struct{})
	finish := make(chan struct{})
	ok := tr.Submit(func() {
		close(started)
		<-finish
	})
	require.True(t, ok)

	<-started
	close(finish)

	require.True(t, tr.Quiesce(time.Second))
}

func TestTrackerQuiesceTimesOutOnStuckTask(t *testing.T) {
	p := NewPool("test", 1)
	defer p.Close()

	tr := NewTracker(p)
	tr.Submit(func() {
		time.Sleep(time.Second)
	})

	require.False(t, tr.Quiesce(10*time.Millisecond))
}

func TestTrackerRejectsSubmitAfterStopAccepting(t *testing.T) {
	p := NewPool("test", 1)
	defer p.Close()

	tr := NewTracker(p)
	tr.StopAccepting()

	ok := tr.Submit(func() {})
	require.False(t, ok)
}

func TestExecutorRoutesClasses(t *testing.T) {
	e := NewExecutor(1, 1)
	defer e.Close()

	require.Same(t, e.Worker, e.Pool(ClassWorker))
	require.Same(t, e.Blocking, e.Pool(ClassBlocking))
}
