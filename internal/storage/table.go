// Package storage implements ringdb's per-table storage engine: an
// in-memory memtable keyed by partition token, an append-only CSV
// SSTable, compaction, and tombstone-aware predicate evaluation, per
// spec.md §4.5. It is grounded on the original implementation's
// mem_table.rs and sstable.rs, restructured around Go's map/slice
// idioms in place of BTreeMap/HashMap-heavy Rust data plumbing.
package storage

import (
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
)

// tombstoneValue is the sentinel a deleted non-key column is set to. It
// survives compaction and is masked from reads unless explicitly
// requested, per spec.md §4.5.
const tombstoneValue = "X"

// Row is one stored record: Values holds one cell per Table.Columns, in
// column order, and Timestamp is the write time used for last-write-wins
// resolution, encoded RFC3339 (nanosecond precision).
type Row struct {
	Values    []string
	Timestamp string
	Token     ring.Token
}

func (r Row) isTombstone() bool {
	return r.IsTombstone()
}

// IsTombstone reports whether any cell in r carries the tombstone
// sentinel, the same check Select uses to mask deleted rows. Exported
// so the coordinator's read-repair path can apply the identical rule
// to rows fetched from a remote replica.
func (r Row) IsTombstone() bool {
	for _, v := range r.Values {
		if v == tombstoneValue {
			return true
		}
	}
	return false
}

// Table is one table's storage engine: a memtable partitioned by ring
// token plus the on-disk SSTable it flushes to. A Table is not safe for
// concurrent use without holding its own lock, which every exported
// method does internally.
type Table struct {
	Name          string
	Columns       []query.ColumnDef
	PartitionKey  []string
	ClusteringKey []string

	sstablePath string
	columnIndex map[string]int

	mu       sync.RWMutex
	memtable map[ring.Token][]Row
}

// NewTable constructs a Table whose SSTable lives at
// <dataDir>/<keyspace>_<name>_sstable.csv, matching the original's
// "{id}_{table_name}_sstable.csv" naming.
func NewTable(dataDir, keyspace, name string, columns []query.ColumnDef, partitionKey, clusteringKey []string) *Table {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c.Name] = i
	}
	return &Table{
		Name:          name,
		Columns:       columns,
		PartitionKey:  partitionKey,
		ClusteringKey: clusteringKey,
		sstablePath:   filepath.Join(dataDir, keyspace+"_"+name+"_sstable.csv"),
		columnIndex:   idx,
		memtable:      make(map[ring.Token][]Row),
	}
}

func (t *Table) columnNames() []string {
	return t.ColumnNames()
}

// ColumnNames returns this table's column names in declaration order,
// the same order every Row.Values slice uses.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// primaryKeyColumns returns PartitionKey followed by ClusteringKey, the
// column set that identifies one logical row across inserts, updates,
// and compaction.
func (t *Table) primaryKeyColumns() []string {
	pk := make([]string, 0, len(t.PartitionKey)+len(t.ClusteringKey))
	pk = append(pk, t.PartitionKey...)
	pk = append(pk, t.ClusteringKey...)
	return pk
}

func (t *Table) primaryKeyOf(values []string) string {
	var key string
	for _, col := range t.primaryKeyColumns() {
		idx, ok := t.columnIndex[col]
		if !ok {
			continue
		}
		key += col + "=" + values[idx] + "\x00"
	}
	return key
}

// Insert writes one row, built from a column-name -> value map (missing
// columns default to the empty string), stamped with the current time.
func (t *Table) Insert(token ring.Token, values map[string]string) error {
	row := t.buildRow(values)
	row.Timestamp = now()
	row.Token = token

	t.mu.Lock()
	defer t.mu.Unlock()
	t.memtable[token] = append(t.memtable[token], row)
	t.sortPartition(token)
	return nil
}

// InsertRow writes a fully-formed Row (already carrying its token and
// timestamp) directly into the memtable, bypassing buildRow/now(). Used
// by the coordinator to apply a row shipped from another replica —
// during read repair or ring-join handoff — without disturbing its
// original write timestamp.
func (t *Table) InsertRow(row Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memtable[row.Token] = append(t.memtable[row.Token], row)
	t.sortPartition(row.Token)
	return nil
}

// BuildTimestampedRow builds a Row from a column-name -> value map the
// same way Insert does, but with a caller-supplied token and timestamp
// instead of a freshly computed one. The coordinator uses this so every
// replica of an Insert stores the identical timestamp its owner picked,
// letting read repair's checksum comparison converge without a
// spurious repair round for a write that already reached every replica.
func (t *Table) BuildTimestampedRow(values map[string]string, token ring.Token, timestamp string) (Row, error) {
	row := t.buildRow(values)
	row.Token = token
	row.Timestamp = timestamp
	return row, nil
}

func (t *Table) buildRow(values map[string]string) Row {
	cells := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cells[i] = values[c.Name]
	}
	return Row{Values: cells}
}

// Update finds rows matching clause and rewrites their non-key columns
// per assignments, rejecting any assignment that targets a primary-key
// column (the original's check_update_columns rule).
func (t *Table) Update(clause *query.Clause, assignments map[string]string) error {
	for col := range assignments {
		for _, pk := range t.primaryKeyColumns() {
			if col == pk {
				return apperr.Newf(apperr.KindStorage, "cannot update primary-key column %q", col)
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	matches, err := t.matchingRowsLocked(clause, false)
	if err != nil {
		return err
	}
	for _, m := range matches {
		newValues := append([]string(nil), m.row.Values...)
		for col, val := range assignments {
			if idx, ok := t.columnIndex[col]; ok {
				newValues[idx] = val
			}
		}
		t.memtable[m.token] = append(t.memtable[m.token], Row{Values: newValues, Timestamp: now(), Token: m.token})
		t.sortPartition(m.token)
	}
	return nil
}

// Delete writes a tombstone row for every row matching clause: key
// columns are preserved, every other column is set to the tombstone
// sentinel, per spec.md §4.5 (delete-by-tombstone, no in-place removal).
func (t *Table) Delete(clause *query.Clause) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	matches, err := t.matchingRowsLocked(clause, false)
	if err != nil {
		return err
	}
	pk := t.primaryKeyColumns()
	isKeyCol := make(map[string]bool, len(pk))
	for _, c := range pk {
		isKeyCol[c] = true
	}
	for _, m := range matches {
		tombstoned := make([]string, len(m.row.Values))
		for i, col := range t.columnNames() {
			if isKeyCol[col] {
				tombstoned[i] = m.row.Values[i]
			} else {
				tombstoned[i] = tombstoneValue
			}
		}
		t.memtable[m.token] = append(t.memtable[m.token], Row{Values: tombstoned, Timestamp: now(), Token: m.token})
		t.sortPartition(m.token)
	}
	return nil
}

func (t *Table) sortPartition(token ring.Token) {
	if len(t.ClusteringKey) == 0 {
		return
	}
	col := t.ClusteringKey[0]
	idx, ok := t.columnIndex[col]
	if !ok {
		return
	}
	colType := t.Columns[idx].Type
	rows := t.memtable[token]
	sort.SliceStable(rows, func(i, j int) bool {
		return cellLess(rows[i].Values[idx], rows[j].Values[idx], colType)
	})
}

// now formats the current UTC time as RFC3339 with a fixed nine-digit
// fraction, so last-write-wins string comparisons order timestamps
// chronologically (time.RFC3339Nano drops trailing zeros, which does not).
func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func cellLess(a, b string, t query.ColumnType) bool {
	switch t {
	case query.TypeInt:
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		if aerr == nil && berr == nil {
			return ai < bi
		}
	case query.TypeDate:
		// Calendar ordering on RFC3339-ish date strings compares equal
		// to lexical ordering once separators are stripped, matching
		// the original's digit-only comparison.
	}
	return a < b
}
