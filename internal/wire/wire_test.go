package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	return &Document{
		Config: BaseConfig{
			IRText:        "(module)",
			MemorySize:    65536,
			ContextOffset: 16,
			WorkerPrograms: [][]Action{
				{{Kind: KindNoop}},
			},
		},
		Algorithm: Algorithm{
			Actions: []Action{
				{Kind: KindClifCall, Dst: 0, Src: 0, Offset: 0, Size: 4},
				{Kind: KindAsyncDispatch, Src: 0, Offset: 0, Size: 0},
				{Kind: KindWait, Dst: 0},
			},
			Payloads:       ByteSlice{1, 2, 3, 4},
			CraneliftUnits: 1,
			TimeoutMS:      1000,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleDocument()
	data, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	data := []byte(`{
		"config": {"ir_text": "(module)", "memory_size": 65536, "context_offset": 0},
		"algorithm": {"actions": [], "cranelift_units": 0, "bogus_field": 1}
	}`)
	_, err := Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsOversizedPayloads(t *testing.T) {
	doc := sampleDocument()
	doc.Algorithm.Payloads = make(ByteSlice, doc.Config.ContextOffset+1)
	data, err := Encode(doc)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "exceeds context_offset"))
}

func TestDecodeRejectsPayloadsWithZeroContextOffset(t *testing.T) {
	doc := sampleDocument()
	doc.Config.ContextOffset = 0
	data, err := Encode(doc)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
}

func TestDecodeRejectsDanglingAsyncDispatch(t *testing.T) {
	doc := sampleDocument()
	doc.Config.WorkerPrograms = nil
	data, err := Encode(doc)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "async_dispatch"))
}

func TestKindJSONRoundTrip(t *testing.T) {
	for k := range kindNames {
		data, err := k.MarshalJSON()
		require.NoError(t, err)

		var got Kind
		require.NoError(t, got.UnmarshalJSON(data))
		require.Equal(t, k, got)
	}
}

func TestByteSliceEncodesAsIntArray(t *testing.T) {
	b := ByteSlice{0, 255, 127}
	data, err := b.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, "[0,255,127]", string(data))

	var got ByteSlice
	require.NoError(t, got.UnmarshalJSON(data))
	require.Equal(t, b, got)
}

func TestByteSliceRejectsOutOfRange(t *testing.T) {
	var b ByteSlice
	require.Error(t, b.UnmarshalJSON([]byte("[0, 256]")))
	require.Error(t, b.UnmarshalJSON([]byte("[-1, 5]")))
}

func TestDecodeLegacyAlgorithmLib(t *testing.T) {
	data := []byte(`{
		"config": {"ir_text": "", "memory_size": 65536, "context_offset": 4},
		"algorithm_lib": {
			"actions": [{"kind": "noop", "dst": 0, "src": 0, "offset": 0, "size": 0}],
			"units": [{"kind": "cranelift", "ir": "(module)"}],
			"state": [9, 9, 9, 9],
			"timeout_ms": 500
		}
	}`)

	doc, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, "(module)", doc.Config.IRText)
	require.Equal(t, uint32(1), doc.Algorithm.CraneliftUnits)
	require.Equal(t, ByteSlice{9, 9, 9, 9}, doc.Algorithm.Payloads)
	require.Equal(t, uint32(500), doc.Algorithm.TimeoutMS)
	require.Len(t, doc.Algorithm.Actions, 1)
}

func TestDecodeRejectsBothAlgorithmShapes(t *testing.T) {
	data := []byte(`{
		"config": {"ir_text": "", "memory_size": 65536, "context_offset": 0},
		"algorithm": {"actions": [], "cranelift_units": 0},
		"algorithm_lib": {"actions": [], "units": [], "state": []}
	}`)
	_, err := Decode(data)
	require.Error(t, err)
}
