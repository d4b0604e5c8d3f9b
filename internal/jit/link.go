package jit

import (
	"fmt"

	"github.com/bytecodealliance/wasmtime-go"

	"github.com/behrlich/clexec/internal/registry"
)

// linkPrimitives resolves every "env" module import mod declares against
// reg, defining each as a wasmtime host function. An import the registry
// can't resolve is a fatal compile error (spec.md §4.3 step 2).
func linkPrimitives(store *wasmtime.Store, linker *wasmtime.Linker, mod *wasmtime.Module, reg *registry.Registry) error {
	for _, imp := range mod.Imports() {
		if imp.Module() != "env" {
			return fmt.Errorf("jit: unexpected import module %q (only \"env\" is supported)", imp.Module())
		}
		name := *imp.Name()
		funcType := imp.Type().FuncType()
		if funcType == nil {
			return fmt.Errorf("jit: import %q is not a function", name)
		}

		prim, ok := reg.Lookup(name)
		if !ok {
			return fmt.Errorf("jit: unresolved symbol %%%s", name)
		}

		hostFn := wasmtime.NewFunc(store, funcType, makeCallback(prim, funcType))
		if err := linker.Define("env", name, hostFn); err != nil {
			return fmt.Errorf("jit: define %q: %w", name, err)
		}
	}
	return nil
}

// makeCallback adapts a registry.Fn (plain []int64 in, int64 out) to the
// wasmtime.Func calling convention (Caller + []Val in, []Val out). The
// result width is taken from the IR's own declared import type, not from
// the registry's Signature, since wasmtime rejects a mismatch.
func makeCallback(prim registry.Primitive, funcType *wasmtime.FuncType) wasmtime.Callback {
	results := funcType.Results()
	return func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
		ints := make([]int64, len(args))
		for i, v := range args {
			switch v.Kind() {
			case wasmtime.KindI32:
				ints[i] = int64(v.I32())
			case wasmtime.KindI64:
				ints[i] = v.I64()
			default:
				return nil, wasmtime.NewTrap(fmt.Sprintf("jit: primitive %q received unsupported argument kind", prim.Name))
			}
		}

		result := prim.Fn(ints)

		if len(results) == 0 {
			return []wasmtime.Val{}, nil
		}
		if results[0].Kind() == wasmtime.KindI32 {
			return []wasmtime.Val{wasmtime.ValI32(int32(result))}, nil
		}
		return []wasmtime.Val{wasmtime.ValI64(result)}, nil
	}
}
