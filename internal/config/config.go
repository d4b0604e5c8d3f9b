// Package config resolves runtime defaults from CLI flags and environment
// overrides, mirroring the teacher's flat cmd/ublk-mem flag style rather
// than introducing a new config file format (spec.md §8, SPEC_FULL.md §5).
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/behrlich/clexec/internal/constants"
)

// Runtime holds the defaults a caller can override per run: worker/blocking
// pool sizes when an Algorithm doesn't specify its own, and the grace
// window Execute waits for in-flight async work to quiesce.
type Runtime struct {
	WorkerThreads   int
	BlockingThreads int
	ShutdownGrace   time.Duration
	Verbose         bool

	// BlockingCPUs pins the blocking pool's task goroutines to a CPU set
	// (empty means unpinned), matching the teacher's per-queue affinity
	// pinning (internal/queue/runner.go's CPUAffinity).
	BlockingCPUs []int
}

// Default returns the built-in constants, before flags or env vars apply.
func Default() Runtime {
	return Runtime{
		WorkerThreads:   constants.DefaultWorkerThreads,
		BlockingThreads: constants.DefaultBlockingThreads,
		ShutdownGrace:   constants.ShutdownGrace,
	}
}

// FromEnv overlays CLEXEC_WORKER_THREADS / CLEXEC_BLOCKING_THREADS /
// CLEXEC_SHUTDOWN_GRACE_MS / CLEXEC_BLOCKING_CPUS on top of r, for
// deployments that set environment variables instead of passing flags.
func (r Runtime) FromEnv() Runtime {
	if v, ok := envInt("CLEXEC_WORKER_THREADS"); ok {
		r.WorkerThreads = v
	}
	if v, ok := envInt("CLEXEC_BLOCKING_THREADS"); ok {
		r.BlockingThreads = v
	}
	if v, ok := envInt("CLEXEC_SHUTDOWN_GRACE_MS"); ok {
		r.ShutdownGrace = time.Duration(v) * time.Millisecond
	}
	if s := os.Getenv("CLEXEC_BLOCKING_CPUS"); s != "" {
		r.BlockingCPUs = ParseCPUList(s)
	}
	return r
}

// ParseCPUList parses a comma-separated CPU index list ("2,3"), skipping
// any entry that doesn't parse as an integer.
func ParseCPUList(s string) []int {
	parts := strings.Split(s, ",")
	cpus := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		cpus = append(cpus, n)
	}
	return cpus
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RegisterFlags binds r's fields to fs, for callers that want the CLI flag
// names without committing to the package-level flag.CommandLine set (used
// by tests). r's fields are populated only after fs.Parse runs.
func RegisterFlags(fs *flag.FlagSet, r *Runtime) {
	fs.IntVar(&r.WorkerThreads, "worker-threads", r.WorkerThreads, "default worker thread pool size")
	fs.IntVar(&r.BlockingThreads, "blocking-threads", r.BlockingThreads, "default blocking thread pool size")
	fs.DurationVar(&r.ShutdownGrace, "shutdown-grace", r.ShutdownGrace, "grace window for in-flight async work to observe shutdown")
	fs.BoolVar(&r.Verbose, "v", r.Verbose, "verbose logging")
}
