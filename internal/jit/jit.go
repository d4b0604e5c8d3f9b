// Package jit wraps wasmtime-go to turn textual IR (WebAssembly Text
// Format) plus a primitive registry into callable native function handles
// sharing one linear-memory region (spec.md §4.3).
package jit

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"

	"github.com/behrlich/clexec/internal/constants"
	"github.com/behrlich/clexec/internal/registry"
)

// Module holds one compiled, instantiated, linked Wasm module: the region's
// backing memory plus the exported function handles addressed by index.
type Module struct {
	engine   *wasmtime.Engine
	store    *wasmtime.Store
	instance *wasmtime.Instance
	memory   *wasmtime.Memory
	funcs    []*wasmtime.Func
}

// Compile parses irText as WAT, resolves its imports against reg, and
// instantiates it. memorySize is used only to sanity-check the module's own
// exported memory is large enough; the module declares its memory itself
// (spec.md §9 normalization: the module's declared size is authoritative,
// rounded to the 64KiB Wasm page granularity).
func Compile(irText string, memorySize uint32, reg *registry.Registry) (*Module, error) {
	engine := wasmtime.NewEngine()

	wasmBytes, err := wasmtime.Wat2Wasm(irText)
	if err != nil {
		return nil, fmt.Errorf("jit: parse IR: %w", err)
	}

	store := wasmtime.NewStore(engine)

	mod, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("jit: verify module: %w", err)
	}

	linker := wasmtime.NewLinker(engine)
	if err := linkPrimitives(store, linker, mod, reg); err != nil {
		return nil, err
	}

	instance, err := linker.Instantiate(store, mod)
	if err != nil {
		return nil, fmt.Errorf("jit: instantiate: %w", err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("jit: module does not export \"memory\"")
	}
	memory := memExport.Memory()

	wantPages := (memorySize + constants.WasmPageSize - 1) / constants.WasmPageSize
	if gotPages := memory.Size(store); gotPages < uint64(wantPages) {
		return nil, fmt.Errorf("jit: exported memory has %d pages, need at least %d for memory_size=%d", gotPages, wantPages, memorySize)
	}

	funcs, err := collectHandles(store, instance)
	if err != nil {
		return nil, err
	}

	return &Module{
		engine:   engine,
		store:    store,
		instance: instance,
		memory:   memory,
		funcs:    funcs,
	}, nil
}

// collectHandles gathers exported functions named fn0, fn1, ... in order.
// Collection stops at the first missing index, so functions exported after
// a gap are not collected; a module without fn0 is an error.
func collectHandles(store *wasmtime.Store, instance *wasmtime.Instance) ([]*wasmtime.Func, error) {
	var funcs []*wasmtime.Func
	for i := 0; ; i++ {
		name := fmt.Sprintf("fn%d", i)
		fn := instance.GetFunc(store, name)
		if fn == nil {
			break
		}
		funcs = append(funcs, fn)
	}
	if len(funcs) == 0 {
		return nil, fmt.Errorf("jit: module exports no fn0 function")
	}
	return funcs, nil
}

// RegionBytes returns the module's linear memory as a []byte. This is the
// same backing storage the JIT-generated code and every primitive observe:
// wrapping it into a Region makes all three share one set of bytes with no
// copy or serialization step.
func (m *Module) RegionBytes() []byte {
	return m.memory.UnsafeData(m.store)
}

// NumHandles returns how many compiled functions are callable.
func (m *Module) NumHandles() int {
	return len(m.funcs)
}

// Call invokes the i-th compiled function. The region is reached through
// shared Wasm linear memory, not an explicit parameter, so the call takes
// no arguments and returns no result; errors surface as Wasm traps.
func (m *Module) Call(i int) error {
	if i < 0 || i >= len(m.funcs) {
		return fmt.Errorf("jit: function index %d out of range (have %d)", i, len(m.funcs))
	}
	_, err := m.funcs[i].Call(m.store)
	if err != nil {
		return fmt.Errorf("jit: call fn%d: %w", i, err)
	}
	return nil
}

// Close releases the wasmtime store. wasmtime-go has no explicit instance
// teardown; dropping the store and engine references lets their finalizers
// run.
func (m *Module) Close() {
	m.store = nil
	m.engine = nil
	m.instance = nil
	m.funcs = nil
}
