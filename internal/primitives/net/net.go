// Package net implements the cl_net_* primitive family over stdlib net.
// This is deliberately a thin wrapper: every networking library in the
// retrieved corpus targets a higher protocol layer (HTTP, gRPC, message
// buses) than "move bytes between a region offset and a raw stream
// socket," so net is the standard-library choice documented in DESIGN.md.
package net

import (
	"io"
	"net"
	"sync"

	"github.com/behrlich/clexec/internal/interfaces"
	"github.com/behrlich/clexec/internal/region"
	"github.com/behrlich/clexec/internal/registry"
)

// conn is one handle's worth of socket state: either a listener or a
// connected stream, never both.
type conn struct {
	listener net.Listener
	stream   net.Conn
}

// Primitives binds cl_net_* to a Region and a handle table of sockets.
type Primitives struct {
	region *region.Region

	mu      sync.Mutex
	conns   map[int64]*conn
	nextID  int64
	started bool
	obs     interfaces.Observer
}

// New constructs an unbound Primitives.
func New() *Primitives {
	return &Primitives{conns: make(map[int64]*conn)}
}

// Bind attaches the shared Region.
func (p *Primitives) Bind(r *region.Region) {
	p.region = r
}

// SetObserver attaches a metrics observer for listen/connect/accept
// failures, which land outside the IR's own i32/i64 error convention.
func (p *Primitives) SetObserver(obs interfaces.Observer) {
	p.obs = obs
}

func (p *Primitives) observeError(name string) {
	if p.obs != nil {
		p.obs.ObservePrimitiveError(name)
	}
}

func (p *Primitives) alloc(c *conn) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle := p.nextID
	p.nextID++
	p.conns[handle] = c
	return handle
}

func (p *Primitives) get(handle int64) (*conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[handle]
	return c, ok
}

func (p *Primitives) drop(handle int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, handle)
}

// netInit() -> 0. Idempotent; stdlib net needs no global setup, but the
// call still exists so IR programs follow the same init/cleanup bracket
// every other primitive family uses.
func (p *Primitives) netInit(args []int64) int64 {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return 0
}

// readCString reads a NUL-terminated string from the region at off, up to
// a generous bound, for address arguments encoded as "host:port".
func (p *Primitives) readCString(off uint32) (string, bool) {
	const maxLen = 256
	buf, err := p.region.Slice(off, maxLen)
	if err != nil {
		// fall back to whatever's left in the region
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

// netListen(addr_off) -> listener handle, or -1.
func (p *Primitives) netListen(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	addr, ok := p.readCString(uint32(args[0]))
	if !ok {
		return -1
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		p.observeError("cl_net_listen")
		return -1
	}
	return p.alloc(&conn{listener: ln})
}

// netConnect(addr_off) -> stream handle, or -1.
func (p *Primitives) netConnect(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	addr, ok := p.readCString(uint32(args[0]))
	if !ok {
		return -1
	}
	c, err := net.Dial("tcp", addr)
	if err != nil {
		p.observeError("cl_net_connect")
		return -1
	}
	return p.alloc(&conn{stream: c})
}

// netAccept(listener_handle) -> stream handle, or -1.
func (p *Primitives) netAccept(args []int64) int64 {
	if len(args) < 1 {
		return -1
	}
	c, ok := p.get(args[0])
	if !ok || c.listener == nil {
		return -1
	}
	stream, err := c.listener.Accept()
	if err != nil {
		p.observeError("cl_net_accept")
		return -1
	}
	return p.alloc(&conn{stream: stream})
}

// netSend(stream_handle, src_off, len) -> bytes written, or -1.
func (p *Primitives) netSend(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	c, ok := p.get(args[0])
	if !ok || c.stream == nil {
		return -1
	}
	n := uint32(args[2])
	buf, err := p.region.Slice(uint32(args[1]), n)
	if err != nil {
		return -1
	}
	written, err := c.stream.Write(buf)
	if err != nil && written == 0 {
		return -1
	}
	return int64(written)
}

// netRecv(stream_handle, dst_off, len) -> bytes read, or -1 (0 on EOF).
func (p *Primitives) netRecv(args []int64) int64 {
	if len(args) < 3 {
		return -1
	}
	c, ok := p.get(args[0])
	if !ok || c.stream == nil {
		return -1
	}
	n := uint32(args[2])
	buf, err := p.region.Slice(uint32(args[1]), n)
	if err != nil {
		return -1
	}
	read, err := c.stream.Read(buf)
	if err != nil && err != io.EOF {
		return -1
	}
	return int64(read)
}

// netCleanup(handle) -> 0. Closes and forgets a listener or stream handle.
func (p *Primitives) netCleanup(args []int64) int64 {
	if len(args) < 1 {
		return 0
	}
	c, ok := p.get(args[0])
	if !ok {
		return 0
	}
	if c.listener != nil {
		c.listener.Close()
	}
	if c.stream != nil {
		c.stream.Close()
	}
	p.drop(args[0])
	return 0
}

// Register binds every cl_net_* symbol into reg.
func (p *Primitives) Register(reg *registry.Registry) {
	reg.Register(registry.Primitive{Name: "cl_net_init", Fn: p.netInit})
	reg.Register(registry.Primitive{Name: "cl_net_listen", Fn: p.netListen})
	reg.Register(registry.Primitive{Name: "cl_net_connect", Fn: p.netConnect})
	reg.Register(registry.Primitive{Name: "cl_net_accept", Fn: p.netAccept})
	reg.Register(registry.Primitive{Name: "cl_net_send", Fn: p.netSend})
	reg.Register(registry.Primitive{Name: "cl_net_recv", Fn: p.netRecv})
	reg.Register(registry.Primitive{Name: "cl_net_cleanup", Fn: p.netCleanup})
}

// Close closes every outstanding socket handle.
func (p *Primitives) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if c.listener != nil {
			c.listener.Close()
		}
		if c.stream != nil {
			c.stream.Close()
		}
	}
	p.conns = make(map[int64]*conn)
	return nil
}
