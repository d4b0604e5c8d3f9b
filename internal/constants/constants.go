package constants

import "time"

// Default configuration constants
const (
	// DefaultWorkerThreads is the default size of the worker thread class.
	DefaultWorkerThreads = 4

	// DefaultBlockingThreads is the default size of the blocking thread class.
	DefaultBlockingThreads = 4

	// DefaultStackSize is the default goroutine-equivalent stack size hint
	// for blocking-pool OS threads (bytes). The async pools do not read it.
	DefaultStackSize = 1 << 20

	// WasmPageSize is the Wasm linear-memory page granularity (64KiB);
	// memory_size is always rounded up to a multiple of this.
	WasmPageSize = 64 * 1024

	// RegionAlignment is the minimum alignment guaranteed for the region's
	// base pointer, sufficient for 16-byte SIMD loads.
	RegionAlignment = 16

	// ShardSize is the granularity of the region's persistent-suffix write
	// lock striping (64KiB, matching the teacher's RAM-backend sharding).
	ShardSize = 64 * 1024
)

// Timing constants for executor lifecycle.
//
// These bound how long Execute waits for in-flight async tasks to quiesce
// on timeout or error, and how often Wait polls a flag.
const (
	// ShutdownGrace is how long Execute waits for in-flight async tasks to
	// finish after timeout or a fatal action error. Tasks receive no
	// shutdown signal; ones still running after the grace window are left
	// running.
	ShutdownGrace = 200 * time.Millisecond

	// DefaultPollInterval is the spin/sleep interval Wait uses while
	// polling a completion flag that hasn't been signaled yet.
	DefaultPollInterval = 50 * time.Microsecond
)
