// Package file implements the cl_file_read/cl_file_write primitive pair,
// moving bytes between a region offset and a named path through a real
// io_uring ring (internal/asyncio) rather than a plain os.File call, so the
// blocking thread class has genuine kernel-level asynchrony to wait on
// (spec.md §6, SPEC_FULL.md §4.2).
package file

import (
	"os"
	"sync"

	"github.com/behrlich/clexec/internal/asyncio"
	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

// Primitives binds cl_file_* to a Region and a ring shared by every call.
type Primitives struct {
	region *region.Region

	mu   sync.Mutex
	ring *asyncio.Ring
	obs  interfaces.Observer
}

// New constructs an unbound Primitives. The ring is created lazily on
// first use so a program that never touches the file primitive never pays
// for it (io_uring setup requires CAP_SYS_ADMIN or a sufficiently recent
// kernel on some hosts, and test environments may not provide it).
func New() *Primitives {
	return &Primitives{}
}

// Bind attaches the shared Region.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

// SetObserver attaches a metrics observer for ring setup failures.
func (p *Primitives) SetObserver(obs interfaces.Observer) {
	p.obs = obs
}

func (p *Primitives) ensureRing() (*asyncio.Ring, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ring == nil {
		r, err := asyncio.NewRing()
		if err != nil {
			if p.obs != nil {
				p.obs.ObservePrimitiveError("cl_file_ring_init")
			}
			return nil, err
		}
		p.ring = r
	}
	return p.ring, nil
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

// fileRead(name_off, dst_off, seek, _) -> bytes_read:i64, or -1.
// The wire vocabulary's fifth argument is unused for read (spec.md §6).
func (p *Primitives) fileRead(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	name, ok := p.readPath(uint32(args[0]))
	if !ok {
		return -1
	}
	dstOff := uint32(args[1])
	seek := uint64(args[2])

	f, err := os.Open(name)
	if err != nil {
		return -1
	}
	defer f.Close()

	remaining := uint32(p.region.Len()) - dstOff
	buf, err := p.region.Slice(dstOff, remaining)
	if err != nil {
		return -1
	}

	ring, err := p.ensureRing()
	if err != nil {
		return -1
	}
	n, err := ring.ReadAt(int(f.Fd()), buf, seek)
	if err != nil {
		return -1
	}
	return int64(n)
}

// fileWrite(name_off, src_off, seek, len) -> bytes_written:i64, or -1.
func (p *Primitives) fileWrite(args []int64) int64 {
	if len(args) < 4 {
		return -1
	}
	name, ok := p.readPath(uint32(args[0]))
	if !ok {
		return -1
	}
	srcOff := uint32(args[1])
	seek := uint64(args[2])
	length := uint32(args[3])

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return -1
	}
	defer f.Close()

	buf, err := p.region.Slice(srcOff, length)
	if err != nil {
		return -1
	}

	ring, err := p.ensureRing()
	if err != nil {
		return -1
	}
	n, err := ring.WriteAt(int(f.Fd()), buf, seek)
	if err != nil {
		return -1
	}
	return int64(n)
}

// Register binds cl_file_read/cl_file_write into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "cl_file_read", Fn: p.fileRead})
	reg.Register(registry.Primitive{Name: "cl_file_write", Fn: p.fileWrite})
}

// Close tears down the shared ring, if one was ever created.
func (p *Primitives) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ring != nil {
		err := p.ring.Close()
		p.ring = nil
		return err
	}
	return nil
}
