package async

// Class identifies which pool an AsyncDispatch targets.
type Class uint8

const (
	ClassWorker Class = iota
	ClassBlocking
)

// Executor owns the two pool classes for one clexec.Executor's lifetime.
type Executor struct {
	Worker   *Pool
	Blocking *Pool
}

// NewExecutor sizes both pools once; clexec builds it on the first Execute
// and keeps it for the Executor's lifetime.
func NewExecutor(workerThreads, blockingThreads int) *Executor {
	return &Executor{
		Worker:   NewPool("worker", workerThreads),
		Blocking: NewPool("blocking", blockingThreads),
	}
}

// NewExecutorWithAffinity is NewExecutor plus a CPU set the blocking pool's
// task goroutines are pinned to (empty means unpinned). Blocking-class work
// is the one doing io_uring submissions (internal/primitives/file), which
// benefits the most from staying on a consistent core.
func NewExecutorWithAffinity(workerThreads, blockingThreads int, blockingCPUs []int) *Executor {
	return &Executor{
		Worker:   NewPool("worker", workerThreads),
		Blocking: NewPinnedPool("blocking", blockingThreads, blockingCPUs),
	}
}

// Pool resolves a Class to its underlying Pool.
func (e *Executor) Pool(class Class) *Pool {
	if class == ClassBlocking {
		return e.Blocking
	}
	return e.Worker
}

// Close tears down both pools. Callers must Quiesce any open Trackers
// first; Close does not wait for in-flight work.
func (e *Executor) Close() {
	e.Worker.Close()
	e.Blocking.Close()
}
