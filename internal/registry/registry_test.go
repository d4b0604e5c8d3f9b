package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(Primitive{
		Name:      "cl_file_read",
		Signature: Signature{Args: []int{4, 4, 4, 4, 4}, Ret: 8},
		Fn:        func(args []int64) int64 { return 0 },
	})

	p, ok := r.Lookup("cl_file_read")
	require.True(t, ok)
	require.Equal(t, "cl_file_read", p.Name)
	require.Equal(t, int64(0), p.Fn(nil))

	_, ok = r.Lookup("cl_missing")
	require.False(t, ok)
}

func TestRegisterTwicePanics(t *testing.T) {
	r := New()
	p := Primitive{Name: "ht_create", Fn: func(args []int64) int64 { return 0 }}
	r.Register(p)
	require.Panics(t, func() { r.Register(p) })
}

func TestNamesListsAllEntries(t *testing.T) {
	r := New()
	r.Register(Primitive{Name: "a", Fn: func(args []int64) int64 { return 0 }})
	r.Register(Primitive{Name: "b", Fn: func(args []int64) int64 { return 0 }})
	require.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
