package clexec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := NewTimeoutError("Execute")
	require.True(t, IsKind(err, KindTimeout))
	require.False(t, IsKind(err, KindCompile))
}

func TestErrorIsSupportsErrorsIs(t *testing.T) {
	err := NewActionError("Execute", "out-of-range jump")
	require.True(t, errors.Is(err, &Error{Kind: KindAction}))
	require.False(t, errors.Is(err, &Error{Kind: KindDecode}))
}

func TestErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("wasm parse error")
	err := NewCompileError("Compile", inner)
	require.ErrorIs(t, err, inner)
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := NewDecodeError("Decode", fmt.Errorf("unknown field"))
	require.Contains(t, err.Error(), "Decode")
	require.Contains(t, err.Error(), "decode")
}
