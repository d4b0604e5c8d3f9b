// Package thread implements the cl_thread_* primitive family: a bounded
// fan-out pool addressable from inside IR, separate from the action
// driver's AsyncDispatch/Wait pair (spec.md §4.5) but using the same
// completion-flag-in-the-region convention so IR code can join either kind
// of background work the same way. Built on golang.org/x/sync/errgroup,
// whose SetLimit bounds concurrency and whose Wait gives fan-in, mirroring
// the teacher's worker/blocking two-pool-class split. Each pool also
// creates a golang.org/x/sync/semaphore that nothing acquires.
package thread

import (
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

// poolState is one cl_thread_init handle's worth of bounded concurrency.
type poolState struct {
	sem *semaphore.Weighted
	grp *errgroup.Group
}

// taskState is one cl_thread_spawn handle: a task the caller can Join once.
type taskState struct {
	done chan struct{}
	once sync.Once
}

// Primitives binds cl_thread_* to a Region and a set of pools/tasks,
// addressed by handle.
type Primitives struct {
	region *region.Region

	mu      sync.Mutex
	pools   map[int64]*poolState
	nextPID int64
	tasks   map[int64]*taskState
	nextTID int64
	obs     interfaces.Observer
}

// New constructs an unbound Primitives.
func New() *Primitives {
	return &Primitives{
		pools: make(map[int64]*poolState),
		tasks: make(map[int64]*taskState),
	}
}

// Bind attaches the shared Region.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

// SetObserver attaches a metrics observer for spawned-task failures.
func (p *Primitives) SetObserver(obs interfaces.Observer) {
	p.obs = obs
}

// threadInit(max_concurrency) -> pool handle.
func (p *Primitives) threadInit(args []int64) int64 {
	n := int64(1)
	if len(args) >= 1 && args[0] > 0 {
		n = args[0]
	}
	grp := &errgroup.Group{}
	grp.SetLimit(int(n))
	ps := &poolState{sem: semaphore.NewWeighted(n), grp: grp}

	p.mu.Lock()
	handle := p.nextPID
	p.nextPID++
	p.pools[handle] = ps
	p.mu.Unlock()
	return handle
}

// threadSpawn(pool_handle, flag_off, flag_val) -> task handle, or -1.
// Runs under the pool's errgroup, signaling completion by writing flag_val
// at flag_off once the (synthetic, host-side) unit of work finishes.
func (p *Primitives) threadSpawn(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	p.mu.Lock()
	ps, ok := p.pools[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}

	ts := &taskState{done: make(chan struct{})}
	p.mu.Lock()
	handle := p.nextTID
	p.nextTID++
	p.tasks[handle] = ts
	p.mu.Unlock()

	flagOff := uint32(args[1])
	flagVal := byte(args[2])
	if flagVal == 0 {
		flagVal = 1
	}

	ps.grp.Go(func() error {
		defer close(ts.done)
		if err := p.region.WriteAt([]byte{flagVal}, flagOff); err != nil {
			if p.obs != nil {
				p.obs.ObservePrimitiveError("cl_thread_spawn")
			}
			return err
		}
		return nil
	})
	return handle
}

// threadJoin(task_handle) -> 0, or -1 if the handle is unknown. Blocks
// until the task's goroutine has returned.
func (p *Primitives) threadJoin(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	p.mu.Lock()
	ts, ok := p.tasks[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	<-ts.done
	return 0
}

// threadCall(pool_handle, flag_off, flag_val) -> 0, or -1. Synchronous
// spawn+join in one call, for IR that wants bounded-concurrency fan-out
// without tracking a separate task handle.
func (p *Primitives) threadCall(args []int64) int64 {
	handle := p.threadSpawn(args)
	if handle < 0 {
		return -1
	}
	return p.threadJoin([]int64{handle})
}

// threadCleanup(pool_handle) -> 0. Waits for any still-running tasks in the
// pool's errgroup, then forgets the handle.
func (p *Primitives) threadCleanup(args []int64) int64 {
	if len(args) < 1 {
		return 0
	}
	p.mu.Lock()
	ps, ok := p.pools[args[0]]
	delete(p.pools, args[0])
	p.mu.Unlock()
	if ok {
		ps.grp.Wait()
	}
	return 0
}

// Register binds every cl_thread_* symbol into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "cl_thread_init", Fn: p.threadInit})
	reg.Register(registry.Primitive{Name: "cl_thread_spawn", Fn: p.threadSpawn})
	reg.Register(registry.Primitive{Name: "cl_thread_join", Fn: p.threadJoin})
	reg.Register(registry.Primitive{Name: "cl_thread_call", Fn: p.threadCall})
	reg.Register(registry.Primitive{Name: "cl_thread_cleanup", Fn: p.threadCleanup})
}

// Close waits out every pool's in-flight work.
func (p *Primitives) Close() error {
	p.mu.Lock()
	pools := make([]*poolState, 0, len(p.pools))
	for _, ps := range p.pools {
		pools = append(pools, ps)
	}
	p.pools = make(map[int64]*poolState)
	p.tasks = make(map[int64]*taskState)
	p.mu.Unlock()

	for _, ps := range pools {
		ps.grp.Wait()
	}
	return nil
}
