package clexec

import (
	"encoding/binary"

	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/logging"
	"github.com/behrlich/clexec/internal/primitives/file"
	"github.com/behrlich/clexec/internal/primitives/gpu"
	"github.com/behrlich/clexec/internal/primitives/hashtable"
	"github.com/behrlich/clexec/internal/primitives/kv"
	"github.com/behrlich/clexec/internal/primitives/net"
	"github.com/behrlich/clexec/internal/primitives/thread"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

// primitiveSet holds every concrete primitive implementation for one
// Executor. Each one registers its Fn closures into the registry before
// the Region exists (registry resolution happens during JIT linking,
// which runs before the Wasm instance hands back its linear memory), so
// every implementation reads the Region through a field bound later via
// bindRegion, once, before any call can run.
type primitiveSet struct {
	file      *file.Primitives
	gpu       *gpu.Primitives
	net       *net.Primitives
	kv        *kv.Primitives
	thread    *thread.Primitives
	hashtable *hashtable.Primitives
}

// registerPrimitives constructs one implementation per primitive family and
// registers every cl_*/ht_* symbol named in spec.md §6.
func registerPrimitives(reg *registry.Registry, logger *logging.Logger) *primitiveSet {
	ps := &primitiveSet{
		file:      file.New(),
		gpu:       gpu.New(),
		net:       net.New(),
		kv:        kv.New(),
		thread:    thread.New(),
		hashtable: hashtable.New(),
	}
	ps.file.Register(reg)
	ps.gpu.Register(reg)
	ps.net.Register(reg)
	ps.kv.Register(reg)
	ps.thread.Register(reg)
	ps.hashtable.Register(reg)
	logger.Debugf("registered %d primitives", len(reg.Names()))
	return ps
}

// bindRegion attaches the compiled Region to every primitive family, once,
// right after internal/jit hands it back.
func (ps *primitiveSet) bindRegion(r *region.Region) {
	ps.file.Bind(r)
	ps.gpu.Bind(r)
	ps.net.Bind(r)
	ps.kv.Bind(r)
	ps.thread.Bind(r)
	ps.hashtable.Bind(r)
}

// initHashtableContext creates the run's single hash table and writes its
// handle as a little-endian uint64 at the region's context pointer offset,
// so IR code addresses it without ever calling ht_create itself (spec.md
// §4.2: "created once per run, addressed via a context pointer stored at
// offset 0 of the region by the executor").
//
// The pointer is written at contextOffset, not literal absolute offset 0:
// offset 0 falls inside the per-Execute payload window that
// region.CopyPayload unconditionally overwrites on every Execute call
// (spec.md §4.6), so a literal offset-0 placement would be clobbered by
// the very next Execute call whenever payloads are non-empty — which
// directly contradicts spec.md §4.6's own "hash tables... share[d]... via
// region offsets above context_offset" a few lines later. When
// context_offset is 0 (the all-persistent case — Open Question, see
// DESIGN.md) this coincides exactly with literal offset 0, so the
// reinterpretation only changes behavior for the case the literal text
// would otherwise corrupt. See DESIGN.md's hashtable entry.
func (ps *primitiveSet) initHashtableContext(r *region.Region, contextOffset uint32) error {
	handle := ps.hashtable.CreateContext()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(handle))
	return r.WriteAt(buf[:], contextOffset)
}

// setObserver wires metrics collection into every primitive family whose
// setup can fail outside the IR's own i32/i64 error convention. hashtable
// has no comparable external failure surface and is left unwired.
func (ps *primitiveSet) setObserver(obs interfaces.Observer) {
	ps.file.SetObserver(obs)
	ps.gpu.SetObserver(obs)
	ps.net.SetObserver(obs)
	ps.kv.SetObserver(obs)
	ps.thread.SetObserver(obs)
}

// close tears down every primitive family's native resources.
func (ps *primitiveSet) close() {
	ps.file.Close()
	ps.gpu.Close()
	ps.net.Close()
	ps.kv.Close()
	ps.thread.Close()
	ps.hashtable.Close()
}
