// Package clexec is the executor facade: compile a BaseConfig once, then
// execute many Algorithms against it, sharing the same region and JIT
// module across calls (spec.md §4.6).
package clexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/behrlich/clexec/internal/async"
	"github.com/behrlich/clexec/internal/config"
	"github.com/behrlich/clexec/internal/constants"
	"github.com/behrlich/clexec/internal/driver"
	"github.com/behrlich/clexec/internal/jit"
	"github.com/behrlich/clexec/internal/logging"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
	"github.com/behrlich/clexec/internal/wire"
)

// Outcome, Status, and the three terminal statuses are re-exported from
// internal/driver so callers never import an internal package directly.
type Outcome = driver.Outcome
type Status = driver.Status

const (
	StatusOK      = driver.StatusOK
	StatusTimeout = driver.StatusTimeout
	StatusError   = driver.StatusError
)

// Executor is one compiled instance: one Region, one JIT module, one async
// thread-pool pair, built once by Compile and reused by every Execute.
type Executor struct {
	mu sync.Mutex

	region         *region.Region
	module         *jit.Module
	registry       *registry.Registry
	primitives     *primitiveSet
	asyncExec      *async.Executor
	workerPrograms [][]wire.Action

	memorySize    uint32
	contextOffset uint32

	metrics *Metrics
	logger  *logging.Logger

	shutdownGrace time.Duration
	blockingCPUs  []int

	closed bool
}

// Option customizes a Compile call beyond what wire.BaseConfig carries:
// runtime-tunable defaults that internal/config resolves from flags and
// environment variables rather than the wire schema.
type Option func(*Executor)

// WithShutdownGrace overrides the default quiesce window (internal/config's
// Runtime.ShutdownGrace) that Execute waits for in-flight async work after
// a timeout or action error.
func WithShutdownGrace(grace time.Duration) Option {
	return func(e *Executor) {
		if grace > 0 {
			e.shutdownGrace = grace
		}
	}
}

// WithBlockingCPUs pins the blocking pool's task goroutines (the class
// that runs file-primitive io_uring submissions) to the given CPU set.
func WithBlockingCPUs(cpus []int) Option {
	return func(e *Executor) {
		e.blockingCPUs = cpus
	}
}

// Compile allocates the Region, resolves and JIT-compiles cfg.IRText
// against the primitive registry, and runs one-time primitive setup. The
// async thread pools are sized lazily from the first Execute call, not
// here — spec.md §3 scopes worker_threads/blocking_threads to Algorithm,
// not BaseConfig.
func Compile(ctx context.Context, cfg wire.BaseConfig, opts ...Option) (*Executor, error) {
	start := time.Now()
	logger := logging.Default().WithExecutor(nextExecutorID())

	reg := registry.New()
	prims := registerPrimitives(reg, logger)

	metrics := NewMetrics()

	mod, err := jit.Compile(cfg.IRText, cfg.MemorySize, reg)
	if err != nil {
		e := classifyCompileError("Compile", err)
		metrics.ObserveCompile(uint64(time.Since(start).Nanoseconds()), false)
		logger.Errorf("compile failed: %v", e)
		return nil, e
	}

	r, err := region.New(mod.RegionBytes())
	if err != nil {
		mod.Close()
		metrics.ObserveCompile(uint64(time.Since(start).Nanoseconds()), false)
		return nil, NewResourceError("Compile", err)
	}
	prims.bindRegion(r)
	prims.setObserver(metrics)

	if err := prims.initHashtableContext(r, cfg.ContextOffset); err != nil {
		mod.Close()
		metrics.ObserveCompile(uint64(time.Since(start).Nanoseconds()), false)
		return nil, NewResourceError("Compile", err)
	}

	ex := &Executor{
		region:         r,
		module:         mod,
		registry:       reg,
		primitives:     prims,
		workerPrograms: cfg.WorkerPrograms,
		memorySize:     cfg.MemorySize,
		contextOffset:  cfg.ContextOffset,
		metrics:        metrics,
		logger:         logger,
		shutdownGrace:  config.Default().ShutdownGrace,
	}
	for _, opt := range opts {
		opt(ex)
	}

	metrics.ObserveCompile(uint64(time.Since(start).Nanoseconds()), true)
	logger.Infof("compile finished in %s", time.Since(start))
	return ex, nil
}

// classifyCompileError routes a jit package error to the compile or
// resource error kind per spec.md §4.3/§7: parse, verify, and unresolved-
// symbol failures are "compile"; wasmtime instantiation/allocation
// failures are "resource".
func classifyCompileError(op string, err error) *Error {
	msg := err.Error()
	if strings.Contains(msg, "jit: instantiate") || strings.Contains(msg, "jit: exported memory") {
		return NewResourceError(op, err)
	}
	return NewCompileError(op, err)
}

// Execute validates and copies algo.Payloads into the region, drives the
// action list, and returns an Outcome. Repeated Execute calls against the
// same Executor share persistent state through the region's persistent
// suffix above contextOffset.
func (e *Executor) Execute(ctx context.Context, algo wire.Algorithm) (outcome Outcome, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Outcome{}, NewActionError("Execute", "executor is closed")
	}
	if e.asyncExec == nil {
		wt := int(algo.WorkerThreads)
		if wt == 0 {
			wt = constants.DefaultWorkerThreads
		}
		bt := int(algo.BlockingThreads)
		if bt == 0 {
			bt = constants.DefaultBlockingThreads
		}
		if len(e.blockingCPUs) > 0 {
			e.asyncExec = async.NewExecutorWithAffinity(wt, bt, e.blockingCPUs)
		} else {
			e.asyncExec = async.NewExecutor(wt, bt)
		}
		e.logger.Infof("async executor sized on first execute: workers=%d blocking=%d", wt, bt)
	} else if algo.WorkerThreads != 0 || algo.BlockingThreads != 0 {
		e.logger.Warnf("worker_threads/blocking_threads ignored on non-first execute")
	}
	asyncExec := e.asyncExec
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = NewPanicError("Execute", r)
			outcome = Outcome{Status: StatusError, Err: err}
			e.logger.Errorf("recovered panic during execute: %v", r)
		}
	}()

	limit := e.contextOffset
	if limit == 0 {
		if len(algo.Payloads) > 0 {
			err = NewActionError("Execute", "payloads present but context_offset=0 leaves no payload region")
			return Outcome{Status: StatusError, Err: err}, err
		}
	} else if uint32(len(algo.Payloads)) > limit {
		err = NewActionError("Execute", fmt.Sprintf("len(payloads)=%d exceeds context_offset=%d", len(algo.Payloads), limit))
		return Outcome{Status: StatusError, Err: err}, err
	}

	if err := e.region.CopyPayload(algo.Payloads); err != nil {
		actionErr := NewActionError("Execute", err.Error())
		return Outcome{Status: StatusError, Err: actionErr}, actionErr
	}

	start := time.Now()
	d := driver.New(e.region, e.module, asyncExec, e.workerPrograms)
	d.SetObserver(e.metrics)
	d.SetLogger(e.logger)
	d.SetShutdownGrace(e.shutdownGrace)
	outcome = d.Run(algo.Actions, algo.CraneliftUnits, algo.TimeoutMS)
	e.metrics.RecordExecute(uint64(time.Since(start).Nanoseconds()), outcome.ActionsRun, outcome.Status.String())

	if outcome.Status == StatusTimeout {
		timeoutErr := NewTimeoutError("Execute")
		timeoutErr.Inner = outcome.Err
		outcome.Err = timeoutErr
		return outcome, timeoutErr
	}
	if outcome.Status == StatusError {
		if _, ok := outcome.Err.(*Error); !ok && outcome.Err != nil {
			outcome.Err = newError("Execute", KindAction, outcome.Err.Error(), outcome.Err)
		}
		return outcome, outcome.Err
	}
	return outcome, nil
}

// Metrics returns a snapshot of this Executor's accumulated counters.
func (e *Executor) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Close tears down primitives, the async pools, and frees the Region.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.asyncExec != nil {
		e.asyncExec.Close()
	}
	e.primitives.close()
	e.module.Close()
	e.metrics.Stop()
	return nil
}
