package storage

import (
	"sort"

	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
)

type match struct {
	token ring.Token
	row   Row
}

// matchingRowsLocked returns the last-write-wins version of every row,
// in the memtable or the SSTable, satisfying clause. Update/Delete use it
// so that rows already flushed to disk are rewritten too: the matching
// SSTable row is left untouched on disk and shadowed by the newer
// memtable write once last-write-wins resolution runs at read time.
func (t *Table) matchingRowsLocked(clause *query.Clause, includeTombstones bool) ([]match, error) {
	rows, err := t.mergeRowsLocked(clause, SelectOptions{IncludeTombstones: includeTombstones})
	if err != nil {
		return nil, err
	}
	out := make([]match, 0, len(rows))
	for _, row := range rows {
		out = append(out, match{token: row.Token, row: row})
	}
	return out, nil
}

func rowValues(names []string, values []string) map[string]string {
	m := make(map[string]string, len(names))
	for i, n := range names {
		if i < len(values) {
			m[n] = values[i]
		}
	}
	return m
}

// SelectOptions controls a Select call.
type SelectOptions struct {
	Columns           []string // nil or ["*"] means all columns
	OrderBy           []string
	IncludeTombstones bool
}

// Select returns the rows matching clause, merged across the memtable
// and the SSTable with last-write-wins resolution on the primary key,
// ordered by OrderBy if given or by the clustering key otherwise.
func (t *Table) Select(clause *query.Clause, opts SelectOptions) ([][]string, error) {
	t.mu.RLock()
	rows, err := t.mergeRowsLocked(clause, opts)
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	names := t.columnNames()
	cols := opts.Columns
	if len(cols) == 0 || (len(cols) == 1 && cols[0] == "*") {
		cols = names
	}
	return t.project(rows, cols), nil
}

// SelectRows is Select without column projection: it returns the full,
// merged, last-write-wins Row set (still carrying timestamps and ring
// tokens), sorted the same way Select orders its output. The
// coordinator uses this for read repair, where it needs a replica's
// raw timestamps to decide which copy of a row wins.
func (t *Table) SelectRows(clause *query.Clause, opts SelectOptions) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mergeRowsLocked(clause, opts)
}

// mergeRowsLocked does the memtable+SSTable last-write-wins merge and
// ordering shared by Select and SelectRows. Callers must already hold
// at least t.mu.RLock().
func (t *Table) mergeRowsLocked(clause *query.Clause, opts SelectOptions) ([]Row, error) {
	names := t.columnNames()
	byKey := make(map[string]Row)

	addIfNewer := func(row Row) error {
		values := rowValues(names, row.Values)
		ok, err := clause.Eval(values)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		key := t.primaryKeyOf(row.Values)
		if existing, present := byKey[key]; !present || row.Timestamp > existing.Timestamp {
			byKey[key] = row
		}
		return nil
	}

	for _, rows := range t.memtable {
		for _, row := range rows {
			if err := addIfNewer(row); err != nil {
				return nil, err
			}
		}
	}

	diskRows, err := t.readSSTable()
	if err != nil {
		return nil, err
	}
	for _, row := range diskRows {
		if err := addIfNewer(row); err != nil {
			return nil, err
		}
	}

	rows := make([]Row, 0, len(byKey))
	for _, row := range byKey {
		if !opts.IncludeTombstones && row.isTombstone() {
			continue
		}
		rows = append(rows, row)
	}

	order := opts.OrderBy
	if len(order) == 0 {
		order = t.ClusteringKey
	}
	t.sortRows(rows, order)
	return rows, nil
}

func (t *Table) sortRows(rows []Row, order []string) {
	if len(order) == 0 {
		return
	}
	indices := make([]int, 0, len(order))
	types := make([]query.ColumnType, 0, len(order))
	for _, col := range order {
		idx, ok := t.columnIndex[col]
		if !ok {
			continue
		}
		indices = append(indices, idx)
		types = append(types, t.Columns[idx].Type)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, idx := range indices {
			a, b := rows[i].Values[idx], rows[j].Values[idx]
			if a == b {
				continue
			}
			return cellLess(a, b, types[k])
		}
		return false
	})
}

func (t *Table) project(rows []Row, cols []string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		projected := make([]string, len(cols))
		for i, col := range cols {
			if idx, ok := t.columnIndex[col]; ok {
				projected[i] = row.Values[idx]
			}
		}
		out = append(out, projected)
	}
	return out
}
