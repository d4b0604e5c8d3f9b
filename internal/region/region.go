// Package region owns the single contiguous byte buffer shared between
// JIT-compiled code, host primitives, and the action driver (spec.md §4.1).
package region

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/behrlich/clexec/internal/constants"
)

// Region wraps a backing []byte that, in practice, is the Wasm instance's
// own exported linear memory (internal/jit hands this buffer in directly so
// there is exactly one copy of the bytes shared by generated code, the
// primitives, and the driver). A Region never reallocates its buffer: the
// base pointer returned by Base is stable for the life of the Region.
type Region struct {
	buf    []byte
	shards []sync.RWMutex
}

// New wraps buf as a Region; the Region's size is len(buf). The caller
// (clexec.Compile, passing the JIT module's exported memory) is responsible
// for sizing that memory to cover memory_size. Wasm linear memory is page-allocated by the
// runtime and always satisfies constants.RegionAlignment in practice; New
// does not re-verify this since Go gives no portable way to assert a
// slice's alignment short of the pointer arithmetic its callers already do.
func New(buf []byte) (*Region, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("region: buffer must be non-empty")
	}
	numShards := (len(buf) + constants.ShardSize - 1) / constants.ShardSize
	return &Region{
		buf:    buf,
		shards: make([]sync.RWMutex, numShards),
	}, nil
}

// Base returns a pointer to the first byte of the region.
func (r *Region) Base() unsafe.Pointer {
	return unsafe.Pointer(&r.buf[0])
}

// Len returns the region's total size in bytes.
func (r *Region) Len() int {
	return len(r.buf)
}

// Bytes returns the whole backing slice. Callers on the driver's goroutine
// may read/write it directly; concurrent persistent-region writers should
// prefer WriteAt/ReadAt below, which take the shard lock.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Slice returns buf[off:off+n] without copying or locking. The driver uses
// it for ConditionalJump reads and the primitives for their region access.
func (r *Region) Slice(off, n uint32) ([]byte, error) {
	end := uint64(off) + uint64(n)
	if end > uint64(len(r.buf)) {
		return nil, fmt.Errorf("region: slice [%d:%d) out of bounds (len=%d)", off, end, len(r.buf))
	}
	return r.buf[off:end], nil
}

func (r *Region) shardRange(off, n uint32) (start, end int) {
	start = int(off) / constants.ShardSize
	if n == 0 {
		return start, start
	}
	end = int(uint64(off)+uint64(n)-1) / constants.ShardSize
	if end >= len(r.shards) {
		end = len(r.shards) - 1
	}
	return start, end
}

// ReadAt copies n bytes from region offset off into p under the shard
// lock's read side, for use by primitives invoked off the driver goroutine.
func (r *Region) ReadAt(p []byte, off uint32) error {
	src, err := r.Slice(off, uint32(len(p)))
	if err != nil {
		return err
	}
	start, end := r.shardRange(off, uint32(len(p)))
	for i := start; i <= end; i++ {
		r.shards[i].RLock()
	}
	copy(p, src)
	for i := start; i <= end; i++ {
		r.shards[i].RUnlock()
	}
	return nil
}

// WriteAt copies p into the region at offset off under the shard lock's
// write side. Used by primitives and worker tasks writing into the
// persistent region concurrently with each other.
func (r *Region) WriteAt(p []byte, off uint32) error {
	dst, err := r.Slice(off, uint32(len(p)))
	if err != nil {
		return err
	}
	start, end := r.shardRange(off, uint32(len(p)))
	for i := start; i <= end; i++ {
		r.shards[i].Lock()
	}
	copy(dst, p)
	for i := start; i <= end; i++ {
		r.shards[i].Unlock()
	}
	return nil
}

// CopyPayload overwrites [0, len(payload)) unconditionally. Called once at
// the start of Execute, before any action runs and before any concurrent
// writer could be active, so it bypasses shard locking entirely.
func (r *Region) CopyPayload(payload []byte) error {
	if len(payload) > len(r.buf) {
		return fmt.Errorf("region: payload length %d exceeds region size %d", len(payload), len(r.buf))
	}
	copy(r.buf[:len(payload)], payload)
	return nil
}
