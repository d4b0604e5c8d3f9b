package wire

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// strict is the decode-time codec: unknown fields are a hard error, exactly
// as spec.md §4.7 requires ("unknown fields are rejected"). The small leaf
// types in json.go use jsoniter.ConfigCompatibleWithStandardLibrary
// instead, since they don't need the unknown-field check (they decode into
// plain slices, not struct documents).
var strict = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

// relaxed is used only by legacy.go to sniff which schema variant a document
// uses before committing to strict decoding of the canonical one.
var relaxed = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses a wire document and validates the cross-field invariants
// that aren't expressible as struct tags: the payload-length bound from
// spec.md §3, and that every AsyncDispatch's Src indexes a declared worker
// program.
func Decode(data []byte) (*Document, error) {
	raw, err := normalizeLegacy(data)
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}

	var doc Document
	if err := strict.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Encode renders a document back to its canonical wire form. Used for the
// decode(encode(x)) = x round-trip property (spec.md §8).
func Encode(doc *Document) ([]byte, error) {
	return strict.Marshal(doc)
}

func validate(doc *Document) error {
	limit := doc.Config.ContextOffset
	if limit == 0 {
		// context_offset == 0 means the whole region is persistent: the
		// payload region is empty (spec.md §9 normalization).
		if len(doc.Algorithm.Payloads) > 0 {
			return fmt.Errorf("wire: decode: payloads present but context_offset=0 leaves no payload region")
		}
	} else if uint32(len(doc.Algorithm.Payloads)) > limit {
		return fmt.Errorf("wire: decode: len(payloads)=%d exceeds context_offset=%d", len(doc.Algorithm.Payloads), limit)
	}

	if doc.Config.MemorySize == 0 {
		return fmt.Errorf("wire: decode: memory_size must be > 0")
	}
	if limit > doc.Config.MemorySize {
		return fmt.Errorf("wire: decode: context_offset=%d exceeds memory_size=%d", limit, doc.Config.MemorySize)
	}

	numPrograms := uint32(len(doc.Config.WorkerPrograms))
	for i, a := range doc.Algorithm.Actions {
		if a.Kind == KindAsyncDispatch && a.Src >= numPrograms {
			return fmt.Errorf("wire: decode: action %d: async_dispatch src=%d has no matching worker_programs entry", i, a.Src)
		}
	}
	return nil
}
