package stream

import (
	"testing"

	"github.com/cloudwego/tcpcore/wire"
	"github.com/stretchr/testify/require"
)

func TestSackTableUpdateTruncatesAndClears(t *testing.T) {
	var tbl SackTable
	blocks := []wire.SACKBlock{
		{Start: 100, End: 200},
		{Start: 300, End: 400},
		{Start: 500, End: 600},
		{Start: 700, End: 800},
		{Start: 900, End: 1000},
	}
	tbl.Update(blocks)
	require.Len(t, tbl.Blocks(), wire.MaxSACKBlocks)
	require.Equal(t, uint32(100), tbl.Blocks()[0].Start)

	tbl.Clear()
	require.Empty(t, tbl.Blocks())
}
