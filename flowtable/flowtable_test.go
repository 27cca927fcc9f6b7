package flowtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := New[int](16)
	k1 := Key{LocalIP: 1, RemoteIP: 2, LocalPort: 80, RemotePort: 1234}
	k2 := Key{LocalIP: 1, RemoteIP: 2, LocalPort: 80, RemotePort: 5678}

	tbl.Insert(k1, 100)
	tbl.Insert(k2, 200)
	require.Equal(t, 2, tbl.Count())

	v, ok := tbl.Lookup(k1)
	require.True(t, ok)
	require.Equal(t, 100, v)

	require.True(t, tbl.Remove(k1))
	_, ok = tbl.Lookup(k1)
	require.False(t, ok)
	require.Equal(t, 1, tbl.Count())
}

func TestTableReplaceExisting(t *testing.T) {
	tbl := New[string](4)
	k := Key{LocalPort: 1}
	tbl.Insert(k, "a")
	tbl.Insert(k, "b")
	require.Equal(t, 1, tbl.Count())
	v, _ := tbl.Lookup(k)
	require.Equal(t, "b", v)
}

func TestTableManyFlowsNoCollision(t *testing.T) {
	tbl := New[int](1024)
	for i := 0; i < 2000; i++ {
		tbl.Insert(Key{LocalPort: uint16(i), RemotePort: uint16(i + 1)}, i)
	}
	require.Equal(t, 2000, tbl.Count())
	for i := 0; i < 2000; i++ {
		v, ok := tbl.Lookup(Key{LocalPort: uint16(i), RemotePort: uint16(i + 1)})
		require.True(t, ok, fmt.Sprintf("flow %d missing", i))
		require.Equal(t, i, v)
	}
}
