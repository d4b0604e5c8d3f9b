// Package kv implements the cl_lmdb_* primitive family over go.etcd.io/bbolt,
// the closest Go-native analogue to an embedded ordered B+tree KV engine
// with real write transactions and cursor scans in the retrieved corpus.
// The cl_lmdb_* name prefix is kept from the wire vocabulary for call-site
// compatibility even though the backing engine is bbolt (see DESIGN.md).
package kv

import (
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

var defaultBucket = []byte("clexec")

// Primitives binds cl_lmdb_* to a Region and a set of opened bbolt
// databases and in-flight write transactions, both addressed by handle.
type Primitives struct {
	region *region.Region

	mu      sync.Mutex
	dbs     map[int64]*bolt.DB
	nextDB  int64
	txns    map[int64]*bolt.Tx
	nextTxn int64
	obs     interfaces.Observer
}

// New constructs an unbound Primitives.
func New() *Primitives {
	return &Primitives{
		dbs:  make(map[int64]*bolt.DB),
		txns: make(map[int64]*bolt.Tx),
	}
}

// Bind attaches the shared Region.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

// SetObserver attaches a metrics observer for db open failures.
func (p *Primitives) SetObserver(obs interfaces.Observer) {
	p.obs = obs
}

func (p *Primitives) observeError(name string) {
	if p.obs != nil {
		p.obs.ObservePrimitiveError(name)
	}
}

func (p *Primitives) readPath(off uint32) (string, bool) {
	const maxLen = 512
	buf, err := p.region.Slice(off, maxLen)
	if err != nil {
		buf, err = p.region.Slice(off, uint32(p.region.Len())-off)
		if err != nil {
			return "", false
		}
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// lmdbInit() -> 0. Bracket call, no global state to set up.
func (p *Primitives) lmdbInit(args []int64) int64 {
	return 0
}

// lmdbOpen(path_off) -> db handle, or -1.
func (p *Primitives) lmdbOpen(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	path, ok := p.readPath(uint32(args[0]))
	if !ok {
		return -1
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		p.observeError("cl_lmdb_open")
		return -1
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		db.Close()
		p.observeError("cl_lmdb_open")
		return -1
	}

	p.mu.Lock()
	handle := p.nextDB
	p.nextDB++
	p.dbs[handle] = db
	p.mu.Unlock()
	return handle
}

// lmdbBeginWriteTxn(db_handle) -> txn handle, or -1.
func (p *Primitives) lmdbBeginWriteTxn(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	p.mu.Lock()
	db, ok := p.dbs[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	tx, err := db.Begin(true)
	if err != nil {
		return -1
	}
	p.mu.Lock()
	handle := p.nextTxn
	p.nextTxn++
	p.txns[handle] = tx
	p.mu.Unlock()
	return handle
}

// lmdbCommitWriteTxn(txn_handle) -> 0, or -1.
func (p *Primitives) lmdbCommitWriteTxn(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	p.mu.Lock()
	tx, ok := p.txns[args[0]]
	delete(p.txns, args[0])
	p.mu.Unlock()
	if !ok {
		return -1
	}
	if err := tx.Commit(); err != nil {
		return -1
	}
	return 0
}

// lmdbPut(txn_handle, key_off, key_len, val_off, val_len) -> 0, or -1.
func (p *Primitives) lmdbPut(args []int64) int64 {
	if len(args) < 5 {
		return -1
	}
	p.mu.Lock()
	tx, ok := p.txns[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	key, err := p.region.Slice(uint32(args[1]), uint32(args[2]))
	if err != nil {
		return -1
	}
	val, err := p.region.Slice(uint32(args[3]), uint32(args[4]))
	if err != nil {
		return -1
	}
	b := tx.Bucket(defaultBucket)
	if b == nil {
		return -1
	}
	if err := b.Put(key, val); err != nil {
		return -1
	}
	return 0
}

// lmdbGet(db_handle, key_off, key_len, dst_off) -> bytes copied, or -1.
// Reads via a short-lived read-only transaction since get isn't bracketed
// by begin/commit in the wire vocabulary (spec.md §6).
func (p *Primitives) lmdbGet(args []int64) int64 {
	if len(args) < 4 {
		return -1
	}
	p.mu.Lock()
	db, ok := p.dbs[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	key, err := p.region.Slice(uint32(args[1]), uint32(args[2]))
	if err != nil {
		return -1
	}
	var result int64 = -1
	_ = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		val := b.Get(key)
		if val == nil {
			return nil
		}
		if err := p.region.WriteAt(val, uint32(args[3])); err != nil {
			return nil
		}
		result = int64(len(val))
		return nil
	})
	return result
}

// lmdbDelete(txn_handle, key_off, key_len) -> 0, or -1.
func (p *Primitives) lmdbDelete(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	p.mu.Lock()
	tx, ok := p.txns[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	key, err := p.region.Slice(uint32(args[1]), uint32(args[2]))
	if err != nil {
		return -1
	}
	b := tx.Bucket(defaultBucket)
	if b == nil {
		return -1
	}
	if err := b.Delete(key); err != nil {
		return -1
	}
	return 0
}

// lmdbCursorScan(db_handle, dst_off, max_len) -> bytes written, or -1.
// Walks every key/value pair in iteration order, writing each as a
// (key_len:u32, val_len:u32, key, val) record until max_len would be
// exceeded.
func (p *Primitives) lmdbCursorScan(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	p.mu.Lock()
	db, ok := p.dbs[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	dstOff := uint32(args[1])
	maxLen := uint32(args[2])

	var written uint32
	_ = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			need := uint32(8 + len(k) + len(v))
			if written+need > maxLen {
				break
			}
			var hdr [8]byte
			putUint32(hdr[0:4], uint32(len(k)))
			putUint32(hdr[4:8], uint32(len(v)))
			if err := p.region.WriteAt(hdr[:], dstOff+written); err != nil {
				return err
			}
			written += 8
			if err := p.region.WriteAt(k, dstOff+written); err != nil {
				return err
			}
			written += uint32(len(k))
			if err := p.region.WriteAt(v, dstOff+written); err != nil {
				return err
			}
			written += uint32(len(v))
		}
		return nil
	})
	return int64(written)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// lmdbSync(db_handle) -> 0, or -1. bbolt commits are fsynced by default, so
// this is a best-effort no-op kept for wire compatibility with explicit
// sync-point IR programs.
func (p *Primitives) lmdbSync(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	p.mu.Lock()
	_, ok := p.dbs[args[0]]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	return 0
}

// lmdbCleanup(db_handle) -> 0. Closes and forgets a database handle.
func (p *Primitives) lmdbCleanup(args []int64) int64 {
	if len(args) < 1 {
		return 0
	}
	p.mu.Lock()
	db, ok := p.dbs[args[0]]
	delete(p.dbs, args[0])
	p.mu.Unlock()
	if ok {
		db.Close()
	}
	return 0
}

// Register binds every cl_lmdb_* symbol into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "cl_lmdb_init", Fn: p.lmdbInit})
	reg.Register(registry.Primitive{Name: "cl_lmdb_open", Fn: p.lmdbOpen})
	reg.Register(registry.Primitive{Name: "cl_lmdb_begin_write_txn", Fn: p.lmdbBeginWriteTxn})
	reg.Register(registry.Primitive{Name: "cl_lmdb_commit_write_txn", Fn: p.lmdbCommitWriteTxn})
	reg.Register(registry.Primitive{Name: "cl_lmdb_put", Fn: p.lmdbPut})
	reg.Register(registry.Primitive{Name: "cl_lmdb_get", Fn: p.lmdbGet})
	reg.Register(registry.Primitive{Name: "cl_lmdb_delete", Fn: p.lmdbDelete})
	reg.Register(registry.Primitive{Name: "cl_lmdb_cursor_scan", Fn: p.lmdbCursorScan})
	reg.Register(registry.Primitive{Name: "cl_lmdb_sync", Fn: p.lmdbSync})
	reg.Register(registry.Primitive{Name: "cl_lmdb_cleanup", Fn: p.lmdbCleanup})
}

// Close closes every outstanding database handle.
func (p *Primitives) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, db := range p.dbs {
		db.Close()
	}
	p.dbs = make(map[int64]*bolt.DB)
	p.txns = make(map[int64]*bolt.Tx)
	return nil
}
