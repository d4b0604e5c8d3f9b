package wire

import (
	"fmt"
	"strings"
)

// legacyUnitSpec is one compilation unit in the pre-consolidation
// "algorithm_lib" schema, where each unit carried its own IR text instead of
// sharing config.ir_text.
type legacyUnitSpec struct {
	Kind string `json:"kind"`
	IR   string `json:"ir"`
}

// legacyAlgorithm is the richer document shape some callers still emit:
// "algorithm_lib" with a "units" list and a "state" byte array in place of
// the canonical "cranelift_units" count / "payloads" fields (spec.md §9
// open question, resolved by folding this into the canonical shape at
// decode time rather than carrying two schemas through the rest of the
// module).
type legacyAlgorithm struct {
	Actions          []Action         `json:"actions"`
	Units            []legacyUnitSpec `json:"units"`
	State            ByteSlice        `json:"state"`
	TimeoutMS        uint32           `json:"timeout_ms,omitempty"`
	WorkerThreads    uint32           `json:"worker_threads,omitempty"`
	BlockingThreads  uint32           `json:"blocking_threads,omitempty"`
	StackSize        uint32           `json:"stack_size,omitempty"`
	ThreadNamePrefix string           `json:"thread_name_prefix,omitempty"`
}

type legacyEnvelope struct {
	Config       BaseConfig       `json:"config"`
	Algorithm    *Algorithm       `json:"algorithm,omitempty"`
	AlgorithmLib *legacyAlgorithm `json:"algorithm_lib,omitempty"`
}

// normalizeLegacy sniffs data for the older "algorithm_lib" shape and, if
// found, rewrites it into the canonical "algorithm" shape before strict
// decoding. Documents already in canonical form pass through unchanged.
func normalizeLegacy(data []byte) ([]byte, error) {
	var probe struct {
		AlgorithmLib *struct{} `json:"algorithm_lib"`
	}
	if err := relaxed.Unmarshal(data, &probe); err != nil {
		// Let the caller's strict pass produce the real error message.
		return data, nil
	}
	if probe.AlgorithmLib == nil {
		return data, nil
	}

	var env legacyEnvelope
	if err := relaxed.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("legacy algorithm_lib document: %w", err)
	}
	if env.Algorithm != nil {
		return nil, fmt.Errorf("document has both algorithm and algorithm_lib")
	}
	if env.AlgorithmLib == nil {
		return nil, fmt.Errorf("algorithm_lib present but empty")
	}

	lib := env.AlgorithmLib
	var irParts []string
	for _, u := range lib.Units {
		if u.Kind != "" && u.Kind != "cranelift" {
			return nil, fmt.Errorf("legacy unit kind %q is not supported (only \"cranelift\")", u.Kind)
		}
		irParts = append(irParts, u.IR)
	}

	canonical := Algorithm{
		Actions:          lib.Actions,
		Payloads:         lib.State,
		CraneliftUnits:   uint32(len(lib.Units)),
		TimeoutMS:        lib.TimeoutMS,
		WorkerThreads:    lib.WorkerThreads,
		BlockingThreads:  lib.BlockingThreads,
		StackSize:        lib.StackSize,
		ThreadNamePrefix: lib.ThreadNamePrefix,
	}

	config := env.Config
	if len(irParts) > 0 {
		joined := strings.Join(irParts, "\n")
		if config.IRText == "" {
			config.IRText = joined
		} else {
			config.IRText = config.IRText + "\n" + joined
		}
	}

	out := Document{Config: config, Algorithm: canonical}
	rewritten, err := relaxed.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("re-encoding legacy document: %w", err)
	}
	return rewritten, nil
}
