// Package async implements the two thread-pool classes that back
// AsyncDispatch actions: worker (short compute) and blocking (long
// file/network/KV syscalls). Completion is never signaled back to the
// action driver through a channel or condvar — only by the task itself
// writing a flag byte into the shared region (spec.md §4.4).
package async

import (
	"container/list"
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// Task is one unit of work submitted to a Pool. Tasks signal their own
// completion by writing into the region; the pool only runs them.
type Task func()

// Pool is one thread-pool class: a FIFO queue guarded by one mutex (the
// teacher's per-tag-mutex discipline generalized to one mutex per pool
// queue) feeding a bounded number of concurrent goroutines via a weighted
// semaphore. A Pool lives for the whole Executor lifetime, spanning many
// Execute calls (its size is fixed when the first Execute creates it); per-
// Execute quiescing is layered on top by Tracker, not by the Pool itself.
type Pool struct {
	name string
	sem  *semaphore.Weighted
	cpus []int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	closed bool
}

// NewPool starts a Pool with the given concurrency limit. A dispatcher
// goroutine runs for the life of the Pool, torn down by Close.
func NewPool(name string, concurrency int) *Pool {
	p := &Pool{
		name:  name,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		queue: list.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.dispatch()
	return p
}

// NewPinnedPool is NewPool plus a CPU affinity mask applied to every task
// goroutine via runtime.LockOSThread + unix.SchedSetaffinity, mirroring the
// teacher's per-queue affinity pinning (internal/queue/runner.go) so the
// blocking class's io_uring submissions stay on a consistent core.
func NewPinnedPool(name string, concurrency int, cpus []int) *Pool {
	p := NewPool(name, concurrency)
	p.cpus = cpus
	return p
}

// Submit enqueues task for execution. Submit on a closed Pool is a no-op.
func (p *Pool) Submit(task Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue.PushBack(task)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) dispatch() {
	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && p.queue.Len() == 0 {
			p.mu.Unlock()
			return
		}
		elem := p.queue.Front()
		p.queue.Remove(elem)
		p.mu.Unlock()

		task := elem.Value.(Task)
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			continue
		}
		cpus := p.cpus
		go func() {
			defer p.sem.Release(1)
			if len(cpus) > 0 {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				var mask unix.CPUSet
				for _, cpu := range cpus {
					mask.Set(cpu)
				}
				unix.SchedSetaffinity(0, &mask)
			}
			task()
		}()
	}
}

// Close stops the dispatcher goroutine once its queue drains. Call only
// when the Executor owning this Pool is itself being closed; in-flight
// tasks started before Close are not waited on here — use a Tracker around
// each Execute call for that.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
