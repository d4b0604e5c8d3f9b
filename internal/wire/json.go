package wire

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// MarshalJSON renders a Kind as its kebab/snake wire name (spec.md §4.7
// shows the canonical names with underscores — "async_dispatch",
// "clif_call" — despite being labeled kebab-case; we follow the literal
// examples, not the label).
func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("wire: unknown action kind %d", k)
	}
	return []byte(`"` + name + `"`), nil
}

// UnmarshalJSON resolves a wire-format action kind string.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("wire: action kind must be a string: %w", err)
	}
	parsed, ok := namesToKind[s]
	if !ok {
		return fmt.Errorf("wire: unknown action kind %q", s)
	}
	*k = parsed
	return nil
}

// ByteSlice decodes from (and encodes to) a JSON array of small integers,
// per spec.md §4.7 — not the base64 string encoding.[]byte gets by default.
type ByteSlice []byte

// MarshalJSON renders b as an array of integers.
func (b ByteSlice) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ints)
}

// UnmarshalJSON accepts an array of integers in [0, 255].
func (b *ByteSlice) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("wire: byte array must be an array of integers: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("wire: byte array element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
