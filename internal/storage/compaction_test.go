package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/ringdb/internal/ring"
)

// TestCompactionKeepsNewestPerKey writes two versions of the same row
// across two flushes and confirms compaction collapses them to one,
// keeping only the newest timestamp.
func TestCompactionKeepsNewestPerKey(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")

	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))
	require.NoError(t, tbl.Flush())
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "DELAYED"}))
	require.NoError(t, tbl.Flush())

	rows, err := tbl.readSSTable()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "DELAYED", rows[0].Values[2])
}

// TestCompactionIsIdempotent checks that running compaction twice in a
// row (a second Flush with an empty memtable, which still re-compacts
// the existing file) produces the same on-disk result.
func TestCompactionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))
	require.NoError(t, tbl.Flush())

	require.NoError(t, tbl.compactLocked())
	first, err := tbl.readSSTable()
	require.NoError(t, err)

	require.NoError(t, tbl.compactLocked())
	second, err := tbl.readSSTable()
	require.NoError(t, err)

	require.Equal(t, first, second)
}

// TestCompactionPreservesTombstone ensures a tombstoned row survives
// compaction rather than being dropped, since masking happens at read
// time, not at compaction time.
func TestCompactionPreservesTombstone(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))
	require.NoError(t, tbl.Flush())
	require.NoError(t, tbl.Delete(nil))
	require.NoError(t, tbl.Flush())

	rows, err := tbl.readSSTable()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].isTombstone())
}
