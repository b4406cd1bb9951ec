package storage

import (
	"encoding/csv"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/ring"
)

// readSSTable reads every row currently on disk. A missing file reads as
// empty, matching the original's "file not found -> empty result" rule
// for a table that has never been flushed.
func (t *Table) readSSTable() ([]Row, error) {
	f, err := os.Open(t.sstablePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "open sstable")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, err, "read sstable")
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		// rec is: token, col0, ..., colN, timestamp
		tok, err := parseToken(rec[0])
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, err, "parse sstable token")
		}
		cells := rec[1 : len(rec)-1]
		rows = append(rows, Row{Values: cells, Timestamp: rec[len(rec)-1], Token: tok})
	}
	return rows, nil
}

// Flush appends every memtable row to the SSTable file, then compacts,
// then clears the memtable. This mirrors the original's flush(), which
// always compacts immediately after appending rather than batching.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	if len(t.memtable) == 0 {
		return nil
	}
	f, err := os.OpenFile(t.sstablePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "open sstable for append")
	}
	w := csv.NewWriter(f)
	for token, rows := range t.memtable {
		for _, row := range rows {
			rec := append([]string{tokenString(token)}, row.Values...)
			rec = append(rec, row.Timestamp)
			if err := w.Write(rec); err != nil {
				f.Close()
				return apperr.Wrap(apperr.KindStorage, err, "write sstable row")
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return apperr.Wrap(apperr.KindStorage, err, "flush sstable")
	}
	if err := f.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "close sstable")
	}

	if err := t.compactLocked(); err != nil {
		return err
	}
	t.memtable = make(map[ring.Token][]Row)
	return nil
}

// compactLocked rewrites the SSTable keeping, per primary key, only the
// row with the latest timestamp (tombstones included — they survive
// compaction so a later read still sees the delete), then atomically
// replaces the file via temp-file-plus-rename.
func (t *Table) compactLocked() error {
	rows, err := t.readSSTable()
	if err != nil {
		return err
	}

	newest := make(map[string]Row)
	order := make([]string, 0)
	for _, row := range rows {
		key := t.primaryKeyOf(row.Values)
		existing, ok := newest[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || row.Timestamp > existing.Timestamp {
			newest[key] = row
		}
	}

	compacted := make([]Row, 0, len(order))
	for _, key := range order {
		compacted = append(compacted, newest[key])
	}
	t.sortRows(compacted, t.primaryKeyColumns())
	return t.rewriteSSTableLocked(compacted)
}

// rewriteSSTableLocked atomically replaces the SSTable file's contents
// with rows, via temp-file-plus-rename. Callers must already hold
// t.mu and have computed the final row set (compaction, handoff).
func (t *Table) rewriteSSTableLocked(rows []Row) error {
	tmpPath := t.sstablePath + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "open rewrite temp file")
	}
	w := csv.NewWriter(tmp)
	for _, row := range rows {
		rec := append([]string{tokenString(row.Token)}, row.Values...)
		rec = append(rec, row.Timestamp)
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return apperr.Wrap(apperr.KindStorage, err, "write rewritten row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return apperr.Wrap(apperr.KindStorage, err, "flush rewritten file")
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "close rewrite temp file")
	}
	if err := os.Rename(tmpPath, t.sstablePath); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "rename rewritten sstable into place")
	}
	return nil
}

// RowsInRange returns every row (memtable and SSTable) whose partition
// token falls within (start, end], the range format internal/ring's
// PartitionsForJoin/PartitionsForLeave use to describe a handoff.
func (t *Table) RowsInRange(start, end ring.Token) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Row
	for token, rows := range t.memtable {
		if inRange(token, start, end) {
			out = append(out, rows...)
		}
	}
	diskRows, err := t.readSSTable()
	if err != nil {
		return nil, err
	}
	for _, row := range diskRows {
		if inRange(row.Token, start, end) {
			out = append(out, row)
		}
	}
	return out, nil
}

// TransferOut removes and returns every row (memtable and SSTable)
// whose partition token falls within (start, end], for shipping to a
// node that just joined the ring and now owns that range. Unlike
// Delete, which writes a tombstone, this is a physical removal: once a
// range's ownership has moved, the old owner keeps no residue of it.
func (t *Table) TransferOut(start, end ring.Token) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var moved []Row
	for token, rows := range t.memtable {
		if inRange(token, start, end) {
			moved = append(moved, rows...)
			delete(t.memtable, token)
		}
	}

	diskRows, err := t.readSSTable()
	if err != nil {
		return nil, err
	}
	kept := diskRows[:0]
	for _, row := range diskRows {
		if inRange(row.Token, start, end) {
			moved = append(moved, row)
			continue
		}
		kept = append(kept, row)
	}
	if len(kept) != len(diskRows) {
		if err := t.rewriteSSTableLocked(kept); err != nil {
			return nil, err
		}
	}
	return moved, nil
}

func inRange(tok, start, end ring.Token) bool {
	return tokenLess(start, tok) && !tokenLess(end, tok) || tok == end
}

func tokenLess(a, b ring.Token) bool {
	if a.Hi != b.Hi {
		return a.Hi < b.Hi
	}
	return a.Lo < b.Lo
}

// tokenString and parseToken encode a ring.Token as "<hi>-<lo>" for the
// SSTable's token column, the two halves of the 128-bit murmur3 hash
// formatted as unsigned decimals.
func tokenString(tok ring.Token) string {
	return strconv.FormatUint(tok.Hi, 10) + "-" + strconv.FormatUint(tok.Lo, 10)
}

func parseToken(s string) (ring.Token, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return ring.Token{}, apperr.Newf(apperr.KindStorage, "malformed sstable token %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return ring.Token{}, apperr.Wrap(apperr.KindStorage, err, "parse token high bits")
	}
	lo, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ring.Token{}, apperr.Wrap(apperr.KindStorage, err, "parse token low bits")
	}
	return ring.Token{Hi: hi, Lo: lo}, nil
}
