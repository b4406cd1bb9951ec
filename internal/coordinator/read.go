package coordinator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/storage"
	"github.com/dreamware/ringdb/internal/wire"
)

// executeSelect implements spec.md §4.7 step 4: fetch the full row set
// from the owner, compare MD5 digests of the remaining replicas'
// projections, and only pay for a full read-repair round when they
// disagree.
func (c *Coordinator) executeSelect(ctx context.Context, sess *schema.Session, q *query.Query, lvl wire.Consistency) (*wire.ResultBody, error) {
	keyspace := sess.Active()
	if keyspace == "" {
		return nil, apperr.New(apperr.KindSchema, "no keyspace selected")
	}
	def, err := c.sch.Table(keyspace, q.Table)
	if err != nil {
		return nil, err
	}

	replicas, err := c.routeByPredicate(keyspace, def.PartitionKey, q.Where)
	if err != nil {
		return nil, err
	}
	owner := replicas[0]

	ownerRows, err := c.selectRowsFrom(ctx, keyspace, q.Table, owner, q.Where)
	if err != nil {
		return nil, err
	}

	cols := resolveColumns(def, q.SelectColumns)
	// Replicas digest every column (ChecksumRequestPayload carries no
	// projection), so the owner's digest covers every column too.
	ownerDigest := checksum(projectLive(ownerRows, def, resolveColumns(def, nil)))

	needsRepair := false
	for _, addr := range replicas[1:] {
		resp, err := c.checksumFrom(ctx, keyspace, q.Table, addr, q.Where)
		if err != nil {
			c.log.Warn().Err(err).Str("peer", addr).Msg("checksum request failed, assuming divergence")
			needsRepair = true
			continue
		}
		if resp.Checksum != ownerDigest {
			needsRepair = true
		}
	}

	if !needsRepair {
		return rowsResult(cols, projectLive(ownerRows, def, cols)), nil
	}

	reconciled, err := c.readRepair(ctx, keyspace, q.Table, def, q.Where, owner, replicas, ownerRows)
	if err != nil {
		return nil, err
	}
	return rowsResult(cols, projectLive(reconciled, def, cols)), nil
}

// selectRowsFrom fetches the full tagged row set (timestamps and
// tombstones included) for a predicate from one replica, locally or
// over the peer channel.
func (c *Coordinator) selectRowsFrom(ctx context.Context, keyspace, table, addr string, where *query.Clause) ([]storage.Row, error) {
	if addr == c.self {
		t, err := c.ensureTable(keyspace, table)
		if err != nil {
			return nil, err
		}
		return t.SelectRows(where, storage.SelectOptions{IncludeTombstones: true})
	}
	resp, err := c.peer.SelectRows(ctx, addr, SelectRequestPayload{Keyspace: keyspace, Table: table, Where: where, IncludeTombstones: true})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (c *Coordinator) checksumFrom(ctx context.Context, keyspace, table, addr string, where *query.Clause) (ChecksumResponsePayload, error) {
	if addr == c.self {
		def, err := c.sch.Table(keyspace, table)
		if err != nil {
			return ChecksumResponsePayload{}, err
		}
		rows, err := c.selectRowsFrom(ctx, keyspace, table, addr, where)
		if err != nil {
			return ChecksumResponsePayload{}, err
		}
		cols := resolveColumns(def, nil)
		live := projectLive(rows, def, cols)
		return ChecksumResponsePayload{Checksum: checksum(live), RowCount: len(live)}, nil
	}
	return c.peer.Checksum(ctx, addr, ChecksumRequestPayload{Keyspace: keyspace, Table: table, Where: where})
}

// readRepair aligns every reachable replica's row set by primary key,
// picks the newest-timestamped copy of each row, and pushes it to any
// replica that disagreed or was missing it entirely. Pushing an Insert
// in both cases (rather than distinguishing Update-for-disagreement
// from Insert-for-missing, as spec.md's prose does) is equivalent here
// because storage.Table.InsertRow is last-write-wins on arrival: an
// Insert carrying the winning timestamp supersedes a stale local copy
// exactly as an Update would.
func (c *Coordinator) readRepair(ctx context.Context, keyspace, table string, def *schema.TableDef, where *query.Clause, owner string, replicas []string, ownerRows []storage.Row) ([]storage.Row, error) {
	perReplica := map[string][]storage.Row{owner: ownerRows}
	for _, addr := range replicas {
		if addr == owner {
			continue
		}
		rows, err := c.selectRowsFrom(ctx, keyspace, table, addr, where)
		if err != nil {
			c.log.Warn().Err(err).Str("peer", addr).Msg("read repair fetch failed, skipping replica")
			continue
		}
		perReplica[addr] = rows
	}

	winners := make(map[string]storage.Row)
	for _, rows := range perReplica {
		for _, row := range rows {
			key := rowKey(def, row)
			if existing, ok := winners[key]; !ok || row.Timestamp > existing.Timestamp {
				winners[key] = row
			}
		}
	}

	for addr, rows := range perReplica {
		local := make(map[string]storage.Row, len(rows))
		for _, row := range rows {
			local[rowKey(def, row)] = row
		}
		for key, winner := range winners {
			if existing, ok := local[key]; ok && existing.Timestamp >= winner.Timestamp {
				continue
			}
			c.repairReplica(ctx, keyspace, table, addr, winner)
		}
	}

	out := make([]storage.Row, 0, len(winners))
	for _, row := range winners {
		out = append(out, row)
	}
	return out, nil
}

func (c *Coordinator) repairReplica(ctx context.Context, keyspace, table, addr string, winner storage.Row) {
	values := make(map[string]string, len(winner.Values))
	t, err := c.ensureTable(keyspace, table)
	if err == nil {
		for i, col := range t.ColumnNames() {
			if i < len(winner.Values) {
				values[col] = winner.Values[i]
			}
		}
	}
	payload := InsertPayload{Keyspace: keyspace, Table: table, Values: values, Token: winner.Token, Timestamp: winner.Timestamp}

	var repairErr error
	if addr == c.self {
		repairErr = c.applyInsertLocally(table, keyspace, values, winner.Token, winner.Timestamp)
	} else if c.peer != nil {
		repairErr = c.peer.Insert(ctx, addr, payload)
	}
	if repairErr != nil {
		c.log.Warn().Err(repairErr).Str("peer", addr).Msg("read repair push failed")
	}
}

func rowKey(def *schema.TableDef, row storage.Row) string {
	idx := make(map[string]int, len(def.Columns))
	for i, col := range def.Columns {
		idx[col.Name] = i
	}
	var b strings.Builder
	for _, col := range append(append([]string{}, def.PartitionKey...), def.ClusteringKey...) {
		if i, ok := idx[col]; ok && i < len(row.Values) {
			b.WriteString(row.Values[i])
		}
		b.WriteByte(0)
	}
	return b.String()
}

func resolveColumns(def *schema.TableDef, requested []string) []string {
	if len(requested) == 0 {
		cols := make([]string, len(def.Columns))
		for i, c := range def.Columns {
			cols[i] = c.Name
		}
		return cols
	}
	return requested
}

// projectLive filters tombstones out of rows and projects them onto
// cols, discarding the timestamp the client's result set never sees.
func projectLive(rows []storage.Row, def *schema.TableDef, cols []string) [][]string {
	idx := make(map[string]int, len(def.Columns))
	for i, c := range def.Columns {
		idx[c.Name] = i
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if row.IsTombstone() {
			continue
		}
		projected := make([]string, len(cols))
		for i, col := range cols {
			if j, ok := idx[col]; ok && j < len(row.Values) {
				projected[i] = row.Values[j]
			}
		}
		out = append(out, projected)
	}
	return out
}

func checksum(rows [][]string) string {
	h := md5.New()
	for _, row := range rows {
		h.Write([]byte(strings.Join(row, "\x1f")))
		h.Write([]byte{'\x1e'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func rowsResult(cols []string, rows [][]string) *wire.ResultBody {
	wireRows := make([][][]byte, len(rows))
	for i, row := range rows {
		cells := make([][]byte, len(row))
		for j, v := range row {
			cells[j] = []byte(v)
		}
		wireRows[i] = cells
	}
	return &wire.ResultBody{
		Kind: wire.ResultRows,
		Rows: wire.RowsResult{Columns: cols, Rows: wireRows},
	}
}
