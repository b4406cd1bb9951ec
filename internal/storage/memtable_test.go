package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
)

func flightsTable(dir string) *Table {
	cols := []query.ColumnDef{
		{Name: "id", Type: query.TypeInt},
		{Name: "origin", Type: query.TypeText},
		{Name: "status", Type: query.TypeText},
	}
	return NewTable(dir, "ks", "flights", cols, []string{"id"}, nil)
}

// TestInsertLastWriteWinsInMemtable verifies that two inserts under the
// same partition token and primary key resolve to the later write when
// read back, before anything is ever flushed to disk.
func TestInsertLastWriteWinsInMemtable(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")

	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "DELAYED"}))

	rows, err := tbl.Select(nil, SelectOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "DELAYED", rows[0][2])
}

// TestDeleteTombstoneKeepsRingToken verifies that the tombstone row Delete
// writes still carries the partition's ring token, so a row shipped by
// read repair or ring-join handoff after a delete is filed back under the
// same token rather than the zero token.
func TestDeleteTombstoneKeepsRingToken(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))

	q, err := query.Parse("DELETE FROM flights WHERE id = 1;")
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(q.Where))

	rows, err := tbl.SelectRows(nil, SelectOptions{IncludeTombstones: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsTombstone())
	assert.Equal(t, tok, rows[0].Token)
}

// TestUpdateRejectsPrimaryKeyColumn confirms UPDATE cannot rewrite a
// primary-key column, matching the original's check_update_columns rule.
func TestUpdateRejectsPrimaryKeyColumn(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))

	err := tbl.Update(nil, map[string]string{"id": "2"})
	assert.Error(t, err)
}

// TestUpdateAppendsNewerRowVersion checks that Update produces a new
// memtable version with a later timestamp rather than mutating in place.
func TestUpdateAppendsNewerRowVersion(t *testing.T) {
	dir := t.TempDir()
	tbl := flightsTable(dir)
	tok := ring.HashToken("1")
	require.NoError(t, tbl.Insert(tok, map[string]string{"id": "1", "origin": "MAD", "status": "SCHEDULED"}))

	q, err := query.Parse("UPDATE flights SET status = 'DELAYED' WHERE id = 1;")
	require.NoError(t, err)
	require.NoError(t, tbl.Update(q.Where, map[string]string{"status": "DELAYED"}))

	rows, err := tbl.Select(nil, SelectOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "DELAYED", rows[0][2])
}
