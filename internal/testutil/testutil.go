// Package testutil provides shared fixtures for internal package tests:
// a mock primitive registry and a handful of minimal WAT programs,
// mirroring the teacher's MockBackend pattern generalized to primitives.
package testutil

import (
	"sync"

	"github.com/behrlich/clexec/internal/registry"
)

// MockPrimitive wraps a registry.Fn with call tracking for assertions.
type MockPrimitive struct {
	mu    sync.Mutex
	calls [][]int64
	fn    registry.Fn
}

// NewMockPrimitive builds a MockPrimitive that delegates to fn (or returns 0
// if fn is nil) and records every call's arguments.
func NewMockPrimitive(fn registry.Fn) *MockPrimitive {
	return &MockPrimitive{fn: fn}
}

// Fn returns the registry.Fn to register.
func (m *MockPrimitive) Fn() registry.Fn {
	return func(args []int64) int64 {
		m.mu.Lock()
		m.calls = append(m.calls, append([]int64(nil), args...))
		m.mu.Unlock()
		if m.fn != nil {
			return m.fn(args)
		}
		return 0
	}
}

// Calls returns a copy of the recorded call arguments.
func (m *MockPrimitive) Calls() [][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int64, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Fn() was invoked.
func (m *MockPrimitive) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// NewMockRegistry builds a registry.Registry populated with no-op mocks for
// every primitive named in the spec's symbol table (spec.md §6), so
// compile-time symbol resolution succeeds in tests that don't exercise a
// real primitive implementation.
func NewMockRegistry() *registry.Registry {
	names := []string{
		"cl_file_read", "cl_file_write",
		"cl_gpu_init", "cl_gpu_cleanup", "cl_gpu_create_buffer",
		"cl_gpu_create_pipeline", "cl_gpu_upload", "cl_gpu_dispatch", "cl_gpu_download",
		"cl_net_init", "cl_net_listen", "cl_net_connect", "cl_net_accept",
		"cl_net_send", "cl_net_recv", "cl_net_cleanup",
		"cl_lmdb_init", "cl_lmdb_open", "cl_lmdb_begin_write_txn", "cl_lmdb_commit_write_txn",
		"cl_lmdb_put", "cl_lmdb_get", "cl_lmdb_delete", "cl_lmdb_cursor_scan",
		"cl_lmdb_sync", "cl_lmdb_cleanup",
		"cl_thread_init", "cl_thread_spawn", "cl_thread_join", "cl_thread_call", "cl_thread_cleanup",
		"ht_create", "ht_insert", "ht_lookup", "ht_count", "ht_get_entry", "ht_increment",
	}
	r := registry.New()
	for _, name := range names {
		r.Register(registry.Primitive{
			Name: name,
			Fn:   func(args []int64) int64 { return 0 },
		})
	}
	return r
}

// StoreByteWAT returns a WAT module with one exported memory and one
// exported function fn0 that stores byte val at offset off. Grounds end-to-
// end scenario 1 (spec.md §8 "Trivial").
func StoreByteWAT(pages uint32, off uint32, val byte) string {
	return `(module
  (memory (export "memory") ` + itoa(pages) + `)
  (func (export "fn0")
    i32.const ` + itoa(off) + `
    i32.const ` + itoa(uint32(val)) + `
    i32.store8))`
}

// NoopWAT returns a WAT module with an exported memory and one exported
// function that does nothing.
func NoopWAT(pages uint32) string {
	return `(module
  (memory (export "memory") ` + itoa(pages) + `)
  (func (export "fn0")))`
}

// IncrementCounterWAT returns a WAT module whose fn0 loads a 4-byte counter
// at off, increments it, and stores it back. Grounds end-to-end scenario 6
// (compile-once/execute-many).
func IncrementCounterWAT(pages uint32, off uint32) string {
	return `(module
  (memory (export "memory") ` + itoa(pages) + `)
  (func (export "fn0")
    i32.const ` + itoa(off) + `
    i32.const ` + itoa(off) + `
    i32.load
    i32.const 1
    i32.add
    i32.store))`
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := [10]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
