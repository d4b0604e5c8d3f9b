// Package hashtable implements the ht_* primitive family: an in-process
// fixed-key-width table addressed by a handle, guarded by the same
// sharded-lock discipline internal/region uses for its persistent suffix
// (spec.md §4.2, SPEC_FULL.md §4.2). One table is created automatically
// per compile and its handle is written to the region's context pointer
// offset by the executor (see CreateContext and clexec's
// initHashtableContext); ht_create itself stays registered so IR code can
// still allocate further tables of its own.
package hashtable

import (
	"encoding/binary"
	"sync"

	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

const numStripes = 16

// entry is one key/value pair. Keys are fixed-width 8-byte integers (the
// region offset or caller-chosen tag that IR programs use as a key); values
// are opaque 8-byte payloads, matching the single int64 register width
// every primitive call already works in.
type entry struct {
	key   uint64
	value uint64
}

// table is one handle's worth of hashtable state.
type table struct {
	mu      [numStripes]sync.RWMutex
	buckets [numStripes]map[uint64]entry
}

func newTable() *table {
	t := &table{}
	for i := range t.buckets {
		t.buckets[i] = make(map[uint64]entry)
	}
	return t
}

func (t *table) stripe(key uint64) int {
	return int(key % numStripes)
}

// Primitives binds the ht_* family to a Region and a handle table. Handles
// are small integers returned by ht_create and passed back into every other
// call, mirroring the opaque-handle convention the GPU and KV primitives
// also use.
type Primitives struct {
	region *region.Region

	mu      sync.Mutex
	tables  map[int64]*table
	nextID  int64
}

// New constructs an unbound Primitives. Bind must be called with the
// Executor's Region before any Fn is invoked.
func New() *Primitives {
	return &Primitives{tables: make(map[int64]*table)}
}

// Bind attaches the shared Region, once, after internal/jit has produced it.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

func (p *Primitives) getTable(handle int64) (*table, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tables[handle]
	return t, ok
}

// htCreate allocates a new table and returns its handle.
func (p *Primitives) htCreate(args []int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle := p.nextID
	p.nextID++
	p.tables[handle] = newTable()
	return handle
}

// CreateContext allocates the run's single hash table and returns its
// handle, for the executor to store at the context pointer offset once per
// compile (spec.md §4.2) rather than have IR code call ht_create itself.
func (p *Primitives) CreateContext() int64 {
	return p.htCreate(nil)
}

// htInsert(handle, key, value) -> 0 on success, -1 on unknown handle.
func (p *Primitives) htInsert(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	t, ok := p.getTable(args[0])
	if !ok {
		return -1
	}
	key := uint64(args[1])
	s := t.stripe(key)
	t.mu[s].Lock()
	t.buckets[s][key] = entry{key: key, value: uint64(args[2])}
	t.mu[s].Unlock()
	return 0
}

// htLookup(handle, key) -> value, or -1 if absent or handle unknown.
func (p *Primitives) htLookup(args []int64) int64 {
	if len(args) < 2 {
		return -1
	}
	t, ok := p.getTable(args[0])
	if !ok {
		return -1
	}
	key := uint64(args[1])
	s := t.stripe(key)
	t.mu[s].RLock()
	e, ok := t.buckets[s][key]
	t.mu[s].RUnlock()
	if !ok {
		return -1
	}
	return int64(e.value)
}

// htCount(handle) -> total entry count across all stripes, or -1.
func (p *Primitives) htCount(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	t, ok := p.getTable(args[0])
	if !ok {
		return -1
	}
	var total int64
	for i := range t.buckets {
		t.mu[i].RLock()
		total += int64(len(t.buckets[i]))
		t.mu[i].RUnlock()
	}
	return total
}

// htGetEntry(handle, index, dst_off) writes the (key, value) pair at an
// iteration index to the region as two little-endian uint64s, for IR
// programs that need to enumerate a table's contents. Within a bucket the
// order is Go map order, so an index is not guaranteed to name the same
// entry from one call to the next. Returns 0 on success,
// -1 if the index is out of range or the region write fails.
func (p *Primitives) htGetEntry(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	t, ok := p.getTable(args[0])
	if !ok {
		return -1
	}
	target := args[1]
	dstOff := uint32(args[2])

	var found *entry
	var seen int64
	for i := range t.buckets {
		t.mu[i].RLock()
		for _, e := range t.buckets[i] {
			if seen == target {
				cp := e
				found = &cp
			}
			seen++
		}
		t.mu[i].RUnlock()
		if found != nil {
			break
		}
	}
	if found == nil {
		return -1
	}

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], found.key)
	binary.LittleEndian.PutUint64(buf[8:16], found.value)
	if err := p.region.WriteAt(buf[:], dstOff); err != nil {
		return -1
	}
	return 0
}

// htIncrement(handle, key, delta) atomically adds delta to key's value
// (creating it at delta if absent) and returns the new value.
func (p *Primitives) htIncrement(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	t, ok := p.getTable(args[0])
	if !ok {
		return -1
	}
	key := uint64(args[1])
	s := t.stripe(key)
	t.mu[s].Lock()
	e := t.buckets[s][key]
	e.key = key
	e.value += uint64(args[2])
	t.buckets[s][key] = e
	t.mu[s].Unlock()
	return int64(e.value)
}

// Register binds every ht_* symbol into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "ht_create", Fn: p.htCreate})
	reg.Register(registry.Primitive{Name: "ht_insert", Fn: p.htInsert})
	reg.Register(registry.Primitive{Name: "ht_lookup", Fn: p.htLookup})
	reg.Register(registry.Primitive{Name: "ht_count", Fn: p.htCount})
	reg.Register(registry.Primitive{Name: "ht_get_entry", Fn: p.htGetEntry})
	reg.Register(registry.Primitive{Name: "ht_increment", Fn: p.htIncrement})
}

// Close releases every table. Hashtable state is in-process only, so this
// is just garbage for the collector.
func (p *Primitives) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = make(map[int64]*table)
	return nil
}
