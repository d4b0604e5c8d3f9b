package clexec

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/clexec/internal/wire"
)

func itoa32(v uint32) string {
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

// watString renders s as a WAT string literal body, escaping the characters
// the format requires it.
func watString(s string) string {
	out := make([]byte, 0, len(s)+8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func TestExecuteFileRoundTripWritesAndReadsRealFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	const pathOff, srcOff, dstOff, seek = 16, 256, 512, 0
	payload := "hello clexec"

	// pathOff starts at 16, not 0: offset [0,8) is where Compile auto-writes
	// the hash table context handle (see TestExecuteHashtableContextIsAutoCreated).
	irText := `(module
  (memory (export "memory") 4)
  (import "env" "cl_file_write" (func $write (param i32 i32 i32 i32) (result i64)))
  (import "env" "cl_file_read" (func $read (param i32 i32 i32) (result i64)))
  (data (i32.const ` + itoa32(pathOff) + `) "` + watString(path) + `\00")
  (data (i32.const ` + itoa32(srcOff) + `) "` + watString(payload) + `")
  (func (export "fn0")
    i32.const ` + itoa32(pathOff) + `
    i32.const ` + itoa32(srcOff) + `
    i32.const ` + itoa32(seek) + `
    i32.const ` + itoa32(uint32(len(payload))) + `
    call $write
    drop
    i32.const ` + itoa32(pathOff) + `
    i32.const ` + itoa32(dstOff) + `
    i32.const ` + itoa32(seek) + `
    call $read
    drop))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 262144}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	if err != nil {
		t.Skipf("file primitive unavailable in this sandbox (io_uring setup failed): %v", err)
	}
	require.Equal(t, StatusOK, outcome.Status)

	got := ex.region.Bytes()[dstOff : dstOff+uint32(len(payload))]
	require.Equal(t, payload, string(got))
}

// TestExecuteHashtableContextIsAutoCreated exercises the Comment-1 fix end
// to end: Compile writes the auto-created table's handle at contextOffset,
// and IR can ht_insert/ht_lookup against it without ever calling ht_create.
func TestExecuteHashtableContextIsAutoCreated(t *testing.T) {
	const contextOffset = 16
	irText := `(module
  (memory (export "memory") 1)
  (import "env" "ht_insert" (func $insert (param i64 i64 i64) (result i64)))
  (import "env" "ht_lookup" (func $lookup (param i64 i64) (result i64)))
  (func (export "fn0")
    i64.const 0
    i64.const 42
    i64.const 99
    call $insert
    drop
    i32.const 64
    i64.const 0
    i64.const 42
    call $lookup
    i64.store))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 65536, ContextOffset: contextOffset}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	handle := binary.LittleEndian.Uint64(ex.region.Bytes()[contextOffset : contextOffset+8])
	require.Equal(t, uint64(0), handle, "first table created by Compile is handle 0")

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)

	got := binary.LittleEndian.Uint64(ex.region.Bytes()[64:72])
	require.Equal(t, uint64(99), got)
}

func TestExecuteKVRoundTripPutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clexec.db")
	const pathOff, keyOff, valOff, dstOff = 16, 256, 288, 512
	key := "k1"
	val := "v1value"

	// pathOff starts at 16, not 0: offset [0,8) is where Compile auto-writes
	// the hash table context handle (see TestExecuteHashtableContextIsAutoCreated).
	irText := `(module
  (memory (export "memory") 4)
  (import "env" "cl_lmdb_open" (func $open (param i32) (result i64)))
  (import "env" "cl_lmdb_begin_write_txn" (func $begin (param i64) (result i64)))
  (import "env" "cl_lmdb_put" (func $put (param i64 i32 i32 i32 i32) (result i64)))
  (import "env" "cl_lmdb_commit_write_txn" (func $commit (param i64) (result i64)))
  (import "env" "cl_lmdb_get" (func $get (param i64 i32 i32 i32) (result i64)))
  (data (i32.const ` + itoa32(pathOff) + `) "` + watString(path) + `\00")
  (data (i32.const ` + itoa32(keyOff) + `) "` + watString(key) + `")
  (data (i32.const ` + itoa32(valOff) + `) "` + watString(val) + `")
  (func (export "fn0")
    (local $db i64) (local $txn i64)
    i32.const ` + itoa32(pathOff) + `
    call $open
    local.set $db
    local.get $db
    call $begin
    local.set $txn
    local.get $txn
    i32.const ` + itoa32(keyOff) + `
    i32.const ` + itoa32(uint32(len(key))) + `
    i32.const ` + itoa32(valOff) + `
    i32.const ` + itoa32(uint32(len(val))) + `
    call $put
    drop
    local.get $txn
    call $commit
    drop
    local.get $db
    i32.const ` + itoa32(keyOff) + `
    i32.const ` + itoa32(uint32(len(key))) + `
    i32.const ` + itoa32(dstOff) + `
    call $get
    drop))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 262144}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)

	got := ex.region.Bytes()[dstOff : dstOff+uint32(len(val))]
	require.Equal(t, val, string(got))
}

func TestExecuteNetRoundTripListenConnectAcceptSendRecv(t *testing.T) {
	const addrOff, sendOff, recvOff = 16, 64, 256
	addr := "127.0.0.1:18943"
	msg := "ping!"

	// addrOff starts at 16, not 0: offset [0,8) is where Compile auto-writes
	// the hash table context handle (see TestExecuteHashtableContextIsAutoCreated).
	irText := `(module
  (memory (export "memory") 2)
  (import "env" "cl_net_init" (func $init (result i64)))
  (import "env" "cl_net_listen" (func $listen (param i32) (result i64)))
  (import "env" "cl_net_connect" (func $connect (param i32) (result i64)))
  (import "env" "cl_net_accept" (func $accept (param i64) (result i64)))
  (import "env" "cl_net_send" (func $send (param i64 i32 i32) (result i64)))
  (import "env" "cl_net_recv" (func $recv (param i64 i32 i32) (result i64)))
  (data (i32.const ` + itoa32(addrOff) + `) "` + watString(addr) + `\00")
  (data (i32.const ` + itoa32(sendOff) + `) "` + watString(msg) + `")
  (func (export "fn0")
    (local $listener i64) (local $client i64) (local $server i64)
    call $init
    drop
    i32.const ` + itoa32(addrOff) + `
    call $listen
    local.set $listener
    i32.const ` + itoa32(addrOff) + `
    call $connect
    local.set $client
    local.get $listener
    call $accept
    local.set $server
    local.get $client
    i32.const ` + itoa32(sendOff) + `
    i32.const ` + itoa32(uint32(len(msg))) + `
    call $send
    drop
    local.get $server
    i32.const ` + itoa32(recvOff) + `
    i32.const ` + itoa32(uint32(len(msg))) + `
    call $recv
    drop))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 131072}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)

	got := ex.region.Bytes()[recvOff : recvOff+uint32(len(msg))]
	require.Equal(t, msg, string(got))
}

func TestExecuteThreadCallWritesCompletionFlag(t *testing.T) {
	const flagOff = 64
	const flagVal = 7

	irText := `(module
  (memory (export "memory") 1)
  (import "env" "cl_thread_init" (func $init (param i64) (result i64)))
  (import "env" "cl_thread_call" (func $call (param i64 i32 i32) (result i64)))
  (func (export "fn0")
    i64.const 4
    call $init
    i32.const ` + itoa32(flagOff) + `
    i32.const ` + itoa32(flagVal) + `
    call $call
    drop))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 65536}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)

	require.Equal(t, byte(flagVal), ex.region.Bytes()[flagOff])
}

func TestExecuteGPURoundTripUploadDownload(t *testing.T) {
	const srcOff, dstOff, devOff, size = 64, 256, 512, 8
	payload := "gpudata!"
	require.Equal(t, size, len(payload))

	irText := `(module
  (memory (export "memory") 2)
  (import "env" "cl_gpu_init" (func $init (result i64)))
  (import "env" "cl_gpu_create_buffer" (func $create_buffer (param i64 i64) (result i64)))
  (import "env" "cl_gpu_upload" (func $upload (param i64 i64 i32 i32) (result i64)))
  (import "env" "cl_gpu_download" (func $download (param i64 i64 i32 i32) (result i64)))
  (import "env" "cl_gpu_cleanup" (func $cleanup (param i64) (result i64)))
  (data (i32.const ` + itoa32(srcOff) + `) "` + watString(payload) + `")
  (func (export "fn0")
    (local $dev i64) (local $buf i64)
    call $init
    local.set $dev
    i32.const ` + itoa32(devOff) + `
    local.get $dev
    i64.store
    local.get $dev
    i64.const ` + itoa32(size) + `
    call $create_buffer
    local.set $buf
    local.get $dev
    local.get $buf
    i32.const ` + itoa32(srcOff) + `
    i32.const ` + itoa32(size) + `
    call $upload
    drop
    local.get $dev
    local.get $buf
    i32.const ` + itoa32(dstOff) + `
    i32.const ` + itoa32(size) + `
    call $download
    drop
    local.get $dev
    call $cleanup
    drop))`

	cfg := wire.BaseConfig{IRText: irText, MemorySize: 131072}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)

	dev := int64(binary.LittleEndian.Uint64(ex.region.Bytes()[devOff : devOff+8]))
	if dev < 0 {
		t.Skip("no Vulkan-capable GPU available in this sandbox")
	}

	got := ex.region.Bytes()[dstOff : dstOff+size]
	require.Equal(t, payload, string(got))
}
