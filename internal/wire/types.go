// Package wire implements the self-describing JSON schema that is the sole
// runtime-to-specification contract: a single document decodes to a
// BaseConfig and an Algorithm (spec.md §3, §4.7).
package wire

// Kind tags one action record. The set is extensible — new kinds are added
// here and to the action driver's exhaustive switch, never inferred from
// field shape.
type Kind uint8

const (
	KindClifCall Kind = iota
	KindAsyncDispatch
	KindWait
	KindPark
	KindWake
	KindConditionalJump
	KindNoop
)

var kindNames = map[Kind]string{
	KindClifCall:        "clif_call",
	KindAsyncDispatch:   "async_dispatch",
	KindWait:            "wait",
	KindPark:            "park",
	KindWake:            "wake",
	KindConditionalJump: "conditional_jump",
	KindNoop:            "noop",
}

var namesToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

// String returns the wire name for k, or "unknown" if k is out of range.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a wire-format string to a Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := namesToKind[s]
	return k, ok
}

// Action is the fixed 5-tuple driving one step of a run (spec.md §3, §4.5).
type Action struct {
	Kind   Kind   `json:"kind"`
	Dst    uint32 `json:"dst"`
	Src    uint32 `json:"src"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// BaseConfig is immutable across an executor's lifetime.
type BaseConfig struct {
	IRText        string `json:"ir_text"`
	MemorySize    uint32 `json:"memory_size"`
	ContextOffset uint32 `json:"context_offset"`

	// WorkerPrograms holds the secondary action lists that AsyncDispatch.Src
	// indexes into (spec.md §9 open-question normalization: Src names a
	// worker action list, not a compiled-function index).
	WorkerPrograms [][]Action `json:"worker_programs,omitempty"`
}

// Algorithm is decoded fresh for every call to Execute.
type Algorithm struct {
	Actions          []Action  `json:"actions"`
	Payloads         ByteSlice `json:"payloads"`
	CraneliftUnits   uint32    `json:"cranelift_units"`
	TimeoutMS        uint32    `json:"timeout_ms,omitempty"`
	WorkerThreads    uint32    `json:"worker_threads,omitempty"`
	BlockingThreads  uint32    `json:"blocking_threads,omitempty"`
	StackSize        uint32    `json:"stack_size,omitempty"`
	ThreadNamePrefix string    `json:"thread_name_prefix,omitempty"`
}

// Document is the single JSON object the wire schema decodes.
type Document struct {
	Config    BaseConfig `json:"config"`
	Algorithm Algorithm  `json:"algorithm"`
}
