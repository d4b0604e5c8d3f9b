package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("CLEXEC_WORKER_THREADS", "9")
	t.Setenv("CLEXEC_BLOCKING_THREADS", "3")
	t.Setenv("CLEXEC_SHUTDOWN_GRACE_MS", "500")

	rt := Default().FromEnv()
	require.Equal(t, 9, rt.WorkerThreads)
	require.Equal(t, 3, rt.BlockingThreads)
	require.Equal(t, 500*time.Millisecond, rt.ShutdownGrace)
}

func TestFromEnvIgnoresUnsetVars(t *testing.T) {
	want := Default()
	got := Default().FromEnv()
	require.Equal(t, want, got)
}

func TestRegisterFlagsOverridesRuntime(t *testing.T) {
	rt := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &rt)
	require.NoError(t, fs.Parse([]string{"-worker-threads=16", "-shutdown-grace=1s"}))
	require.Equal(t, 16, rt.WorkerThreads)
	require.Equal(t, time.Second, rt.ShutdownGrace)
}
