package clexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/clexec/internal/testutil"
	"github.com/behrlich/clexec/internal/wire"
)

func TestExecuteStoresByteIntoRegion(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:     testutil.StoreByteWAT(1, 100, 42),
		MemorySize: 65536,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)
	require.Equal(t, byte(42), ex.region.Bytes()[100])
}

func TestExecutePayloadCopyPersistsAcrossCalls(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:        testutil.IncrementCounterWAT(1, 0),
		MemorySize:    65536,
		ContextOffset: 4,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	payload := []byte{5, 0, 0, 0}
	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions:  []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
		Payloads: payload,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)
	b := ex.region.Bytes()
	require.Equal(t, uint32(6), uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24)

	outcome, err = ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, outcome.Status)
	b = ex.region.Bytes()
	require.Equal(t, uint32(7), uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24)
}

func TestExecuteTimeoutOnStuckWait(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:     testutil.NoopWAT(1),
		MemorySize: 65536,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	outcome, err := ex.Execute(context.Background(), wire.Algorithm{
		Actions:   []wire.Action{{Kind: wire.KindWait, Dst: 200}},
		TimeoutMS: 20,
	})
	require.Error(t, err)
	require.Equal(t, StatusTimeout, outcome.Status)
	require.True(t, IsKind(err, KindTimeout) || outcome.Err != nil)
}

func TestCompileOnceExecuteManyIncrementsSharedCounter(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:        testutil.IncrementCounterWAT(1, 0),
		MemorySize:    65536,
		ContextOffset: 0,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	for i := 0; i < 5; i++ {
		outcome, err := ex.Execute(context.Background(), wire.Algorithm{
			Actions: []wire.Action{{Kind: wire.KindClifCall, Src: 0}},
		})
		require.NoError(t, err)
		require.Equal(t, StatusOK, outcome.Status)
	}

	b := ex.region.Bytes()
	require.Equal(t, uint32(5), uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24)

	snap := ex.Metrics()
	require.Equal(t, uint64(5), snap.ExecuteOps)
}

func TestExecuteRejectsPayloadExceedingContextOffset(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:        testutil.NoopWAT(1),
		MemorySize:    65536,
		ContextOffset: 4,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	defer ex.Close()

	_, err = ex.Execute(context.Background(), wire.Algorithm{
		Actions:  []wire.Action{{Kind: wire.KindNoop}},
		Payloads: []byte{1, 2, 3, 4, 5},
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindAction))
}

func TestExecuteAfterCloseFails(t *testing.T) {
	cfg := wire.BaseConfig{
		IRText:     testutil.NoopWAT(1),
		MemorySize: 65536,
	}
	ex, err := Compile(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, ex.Close())

	_, err = ex.Execute(context.Background(), wire.Algorithm{
		Actions: []wire.Action{{Kind: wire.KindNoop}},
	})
	require.Error(t, err)
}

func TestCompileRejectsBadIR(t *testing.T) {
	_, err := Compile(context.Background(), wire.BaseConfig{
		IRText:     "(not valid wat",
		MemorySize: 65536,
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindCompile))
}
