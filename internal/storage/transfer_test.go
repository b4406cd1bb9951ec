package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/ringdb/internal/ring"
)

// TestTransferOutRemovesRowsPhysically checks that TransferOut both
// returns and physically deletes rows in range, from the memtable and
// from a flushed SSTable, leaving out-of-range rows untouched.
func TestTransferOutRemovesRowsPhysically(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)

	inRangeTok := ring.HashToken("1")
	outOfRangeTok := ring.HashToken("999")
	require.NoError(t, tbl.Insert(inRangeTok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))
	require.NoError(t, tbl.Insert(outOfRangeTok, map[string]string{"id": "999", "origin": "BCN", "status": "ON_TIME"}))
	require.NoError(t, tbl.Flush())

	zero := ring.Token{}
	moved, err := tbl.TransferOut(zero, inRangeTok)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, inRangeTok, moved[0].Token)

	remaining, err := tbl.readSSTable()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, outOfRangeTok, remaining[0].Token)
}

// TestInsertRowPreservesTimestamp confirms InsertRow applies a
// pre-built Row verbatim instead of stamping a fresh timestamp.
func TestInsertRowPreservesTimestamp(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	row := Row{Values: []string{"1", "MAD", "SCHEDULED"}, Timestamp: "2020-01-01T00:00:00Z", Token: tok}

	require.NoError(t, tbl.InsertRow(row))

	rows, err := tbl.Select(nil, SelectOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SCHEDULED", rows[0][2])

	stored, err := tbl.SelectRows(nil, SelectOptions{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "2020-01-01T00:00:00Z", stored[0].Timestamp)
}
