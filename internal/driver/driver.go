// Package driver executes an ordered Action list against a compiled
// Module and Region, dispatching async work to the two thread-pool
// classes and suspending on Wait/Park (spec.md §4.5).
package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/behrlich/clexec/internal/async"
	"github.com/behrlich/clexec/internal/constants"
	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/wire"
)

// Caller is the subset of internal/jit's Module the driver needs: invoking
// a compiled function by index. Kept as an interface so driver can be unit
// tested without a real wasmtime module.
type Caller interface {
	Call(i int) error
	NumHandles() int
}

// Status is the terminal classification of one Execute/Run call.
type Status uint8

const (
	StatusOK Status = iota
	StatusTimeout
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of running one action list to completion, timeout,
// or error.
type Outcome struct {
	Status     Status
	ActionsRun int
	Err        error
}

// Driver executes one Algorithm's actions against a shared Region and
// Module, for the duration of a single Execute call.
type Driver struct {
	region         *region.Region
	module         Caller
	asyncExec      *async.Executor
	workerPrograms [][]wire.Action
	obs            interfaces.Observer
	log            interfaces.Logger
	shutdownGrace  time.Duration

	parkMu sync.Mutex
	parks  map[uint32]*parkState
}

type parkState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
}

// New builds a Driver scoped to one Execute call.
func New(r *region.Region, module Caller, asyncExec *async.Executor, workerPrograms [][]wire.Action) *Driver {
	return &Driver{
		region:         r,
		module:         module,
		asyncExec:      asyncExec,
		workerPrograms: workerPrograms,
		shutdownGrace:  constants.ShutdownGrace,
		parks:          make(map[uint32]*parkState),
	}
}

// SetObserver attaches a metrics observer. Optional: a nil or never-set
// observer leaves Run's per-action timing uncollected but otherwise inert.
func (d *Driver) SetObserver(obs interfaces.Observer) {
	d.obs = obs
}

// SetLogger attaches a logger for timeout/deadline diagnostics. Optional.
func (d *Driver) SetLogger(log interfaces.Logger) {
	d.log = log
}

// SetShutdownGrace overrides the default quiesce window Run waits for
// in-flight async work after a timeout or error return.
func (d *Driver) SetShutdownGrace(grace time.Duration) {
	if grace > 0 {
		d.shutdownGrace = grace
	}
}

// Run drives actions in index order until the list is exhausted, a
// terminal action jumps past the end, the deadline elapses, or an action
// error occurs. craneliftUnits is validated against the module's handle
// count up front per spec.md §4.5's edge-case policy.
func (d *Driver) Run(actions []wire.Action, craneliftUnits uint32, timeoutMS uint32) Outcome {
	workerTracker := async.NewTracker(d.asyncExec.Pool(async.ClassWorker))
	blockingTracker := async.NewTracker(d.asyncExec.Pool(async.ClassBlocking))
	defer func() {
		workerTracker.Quiesce(d.shutdownGrace)
		blockingTracker.Quiesce(d.shutdownGrace)
	}()

	if craneliftUnits > 0 && int(craneliftUnits) >= d.module.NumHandles() {
		return Outcome{Status: StatusError, Err: fmt.Errorf("driver: cranelift_units=%d out of range (have %d functions)", craneliftUnits, d.module.NumHandles())}
	}

	var deadline time.Time
	hasDeadline := timeoutMS > 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	}

	ip := 0
	run := 0
	for ip < len(actions) {
		if hasDeadline && time.Now().After(deadline) {
			workerTracker.StopAccepting()
			blockingTracker.StopAccepting()
			if d.log != nil {
				d.log.Warnf("execute exceeded timeout_ms=%d at action %d/%d", timeoutMS, ip, len(actions))
			}
			return Outcome{Status: StatusTimeout, ActionsRun: run, Err: fmt.Errorf("driver: execute exceeded timeout_ms=%d", timeoutMS)}
		}

		actionStart := time.Now()
		kind := actions[ip].Kind
		next, err := d.execOne(actions, ip, workerTracker, blockingTracker, deadline, hasDeadline)
		run++
		if d.obs != nil {
			d.obs.ObserveAction(kind.String(), uint64(time.Since(actionStart).Nanoseconds()), err == nil)
		}
		if err != nil {
			if err == errTimeout {
				workerTracker.StopAccepting()
				blockingTracker.StopAccepting()
				return Outcome{Status: StatusTimeout, ActionsRun: run, Err: fmt.Errorf("driver: timeout waiting on action %d", ip)}
			}
			return Outcome{Status: StatusError, ActionsRun: run, Err: err}
		}
		ip = next
	}

	return Outcome{Status: StatusOK, ActionsRun: run}
}
