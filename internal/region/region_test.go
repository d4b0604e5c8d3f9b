package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T, size int) *Region {
	t.Helper()
	buf := make([]byte, size)
	r, err := New(buf)
	require.NoError(t, err)
	return r
}

func TestNewRejectsEmptyBuffer(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestBaseAndLenStable(t *testing.T) {
	r := newTestRegion(t, 256)
	base1 := r.Base()
	require.Equal(t, 256, r.Len())
	base2 := r.Base()
	require.Equal(t, base1, base2)
}

func TestSliceBoundsChecked(t *testing.T) {
	r := newTestRegion(t, 64)
	s, err := r.Slice(0, 64)
	require.NoError(t, err)
	require.Len(t, s, 64)

	_, err = r.Slice(60, 8)
	require.Error(t, err)
}

func TestCopyPayloadLeavesRemainderUntouched(t *testing.T) {
	r := newTestRegion(t, 16)
	for i := range r.Bytes() {
		r.Bytes()[i] = 0xFF
	}
	require.NoError(t, r.CopyPayload([]byte{1, 2, 3, 4}))

	got := r.Bytes()
	require.Equal(t, []byte{1, 2, 3, 4}, got[:4])
	for _, b := range got[4:] {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestReadWriteAtRoundTrip(t *testing.T) {
	r := newTestRegion(t, 128)
	require.NoError(t, r.WriteAt([]byte("hello"), 100))

	got := make([]byte, 5)
	require.NoError(t, r.ReadAt(got, 100))
	require.Equal(t, []byte("hello"), got)
}

func TestWriteAtOutOfBounds(t *testing.T) {
	r := newTestRegion(t, 32)
	require.Error(t, r.WriteAt([]byte("too long for this region!!"), 30))
}

func TestShardRangeSpansMultipleShards(t *testing.T) {
	r := newTestRegion(t, 3*64*1024)
	start, end := r.shardRange(0, uint32(len(r.Bytes())))
	require.Equal(t, 0, start)
	require.Equal(t, 2, end)
}
