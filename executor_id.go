package clexec

import "sync/atomic"

var executorIDSeq atomic.Uint64

// nextExecutorID hands out a monotonically increasing id used only to tag
// log lines from concurrently-compiled Executors.
func nextExecutorID() uint64 {
	return executorIDSeq.Add(1)
}
