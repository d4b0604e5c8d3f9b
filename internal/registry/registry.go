// Package registry holds the fixed name -> native function table that
// internal/jit resolves IR import symbols against (spec.md §4.2).
package registry

import "fmt"

// Signature lists the machine-integer argument/return widths a Primitive
// declares, in bytes (1, 2, 4, or 8). It is documentation only:
// internal/jit takes parameter types from the IR's import declarations and
// does not consult it.
type Signature struct {
	Args []int
	Ret  int
}

// Fn is a primitive's native entry point. Every primitive receives the
// region's base-relative arguments as plain int64s (wasmtime marshals i32
// params as int32 and i64 as int64; internal/jit normalizes to int64 so
// Go implementations don't juggle two integer widths) and returns a single
// int64 result, negative meaning error per spec.md §4.2/§6.
type Fn func(args []int64) int64

// Primitive is one (name, signature, fn) entry.
type Primitive struct {
	Name      string
	Signature Signature
	Fn        Fn
}

// Registry is the fixed table consulted at compile time. It is built once
// per Executor and never mutated concurrently with JIT linking.
type Registry struct {
	entries map[string]Primitive
}

// New returns an empty Registry. Callers populate it via Register before
// handing it to internal/jit.
func New() *Registry {
	return &Registry{entries: make(map[string]Primitive)}
}

// Register adds a primitive under its stable symbolic name. Registering
// the same name twice is a programmer error, not a runtime condition a
// caller should recover from.
func (r *Registry) Register(p Primitive) {
	if _, exists := r.entries[p.Name]; exists {
		panic(fmt.Sprintf("registry: primitive %q registered twice", p.Name))
	}
	r.entries[p.Name] = p
}

// Lookup resolves name, reporting whether it exists.
func (r *Registry) Lookup(name string) (Primitive, bool) {
	p, ok := r.entries[name]
	return p, ok
}

// Names returns every registered primitive name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}
