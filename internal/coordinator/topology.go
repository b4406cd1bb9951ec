package coordinator

import (
	"context"
	"sync"

	"github.com/dreamware/ringdb/internal/storage"
)

// handoffState tracks, per neighbour address, whether this node has
// already transferred its share of the ring to that neighbour. The
// gossiper's onJoin callback fires with the local address when the
// physical-node count changes above rebalanceThreshold, not with the
// joiner's address, so OnPeerJoin re-derives
// "which neighbours are new" itself by diffing against this set rather
// than trusting the callback argument to name one peer precisely.
type handoffState struct {
	mu        sync.Mutex
	handedOff map[string]bool
}

// OnPeerJoin is wired to the gossiper's join notification
// (gossip.Gossiper.SetOnJoin). It walks the current neighbour list,
// and for every neighbour this node has not yet handed data to,
// computes the token ranges that neighbour now owns (per spec.md
// §4.7's "topology change (join)") and ships the affected rows as
// Insert messages, exactly as the original's rebalance-on-join does.
func (c *Coordinator) OnPeerJoin(_ string) {
	if c.gos == nil {
		return
	}
	ctx := context.Background()
	for _, addr := range c.gos.Neighbors() {
		if addr == c.self {
			continue
		}
		c.handoff.mu.Lock()
		already := c.handoff.handedOff[addr]
		if !already {
			c.handoff.handedOff[addr] = true
		}
		c.handoff.mu.Unlock()
		if already {
			continue
		}
		c.transferToNewPeer(ctx, addr)
	}
}

func (c *Coordinator) transferToNewPeer(ctx context.Context, newNode string) {
	c.ring.AddNode(newNode)

	for keyspace, ks := range c.schemaSnapshot() {
		ranges := c.ring.PartitionsForJoin(newNode, c.self, ks.rf)
		if len(ranges) == 0 {
			continue
		}
		for _, tbl := range ks.tables {
			t, err := c.ensureTable(keyspace, tbl)
			if err != nil {
				c.log.Warn().Err(err).Str("table", keyspace+"."+tbl).Msg("cannot transfer unknown table")
				continue
			}
			for _, rg := range ranges {
				moved, err := t.TransferOut(rg.Start, rg.End)
				if err != nil {
					c.log.Warn().Err(err).Str("peer", newNode).Msg("partition handoff read failed")
					continue
				}
				c.shipRows(ctx, keyspace, tbl, newNode, t.ColumnNames(), moved)
			}
		}
	}
}

// Leave runs the graceful-leave sequence spec.md §4.7 describes as
// triggered by typing "exit" on the node's own stdin: compute the
// partitions this node's departure hands to each remaining replica,
// ship the rows, then broadcast RemoveNode so neighbours drop this
// node from their rings and queues.
func (c *Coordinator) Leave(ctx context.Context) error {
	for keyspace, ks := range c.schemaSnapshot() {
		byDest := c.ring.PartitionsForLeave(c.self, ks.rf)
		for _, tbl := range ks.tables {
			t, err := c.ensureTable(keyspace, tbl)
			if err != nil {
				continue
			}
			for dest, ranges := range byDest {
				if dest == c.self {
					continue
				}
				for _, rg := range ranges {
					moved, err := t.TransferOut(rg.Start, rg.End)
					if err != nil {
						c.log.Warn().Err(err).Str("peer", dest).Msg("leave handoff read failed")
						continue
					}
					c.shipRows(ctx, keyspace, tbl, dest, t.ColumnNames(), moved)
				}
			}
		}
	}

	for _, addr := range c.gos.Neighbors() {
		if addr == c.self {
			continue
		}
		if err := c.peer.RemoveNode(ctx, addr, c.self); err != nil {
			c.log.Warn().Err(err).Str("peer", addr).Msg("remove-node broadcast failed")
		}
	}
	c.gos.RemoveNode(c.self)
	return nil
}

// shipRows sends each row in moved to dest as an Insert node message,
// rebuilding the column-name -> value map InsertPayload carries from
// the positional Row.Values the storage engine works with internally.
func (c *Coordinator) shipRows(ctx context.Context, keyspace, table, dest string, columnNames []string, moved []storage.Row) {
	if c.peer == nil {
		return
	}
	for _, row := range moved {
		values := make(map[string]string, len(columnNames))
		for i, name := range columnNames {
			if i < len(row.Values) {
				values[name] = row.Values[i]
			}
		}
		if err := c.peer.Insert(ctx, dest, InsertPayload{Keyspace: keyspace, Table: table, Values: values, Token: row.Token, Timestamp: row.Timestamp}); err != nil {
			c.log.Warn().Err(err).Str("peer", dest).Msg("row handoff insert failed")
		}
	}
}

type keyspaceSnapshot struct {
	rf     int
	tables []string
}

// schemaSnapshot reads the full keyspace/table listing out of the
// schema manager once per topology-change event, rather than having
// topology.go reach into schema.Manager's internals directly.
func (c *Coordinator) schemaSnapshot() map[string]keyspaceSnapshot {
	out := make(map[string]keyspaceSnapshot)
	for _, name := range c.sch.KeyspaceNames() {
		ks, ok := c.sch.Keyspace(name)
		if !ok {
			continue
		}
		snap := keyspaceSnapshot{rf: ks.ReplicationFactor}
		for tableName := range ks.Tables {
			snap.tables = append(snap.tables, tableName)
		}
		out[name] = snap
	}
	return out
}
