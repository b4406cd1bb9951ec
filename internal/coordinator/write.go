package coordinator

import (
	"context"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/wire"
)

// syncCount is how many replicas must acknowledge a write synchronously
// before Execute returns to the client, per spec.md §4.7 step 3: one
// for ONE (the owner, which is first in the replica list), ceil(rf/2)
// for QUORUM.
func syncCount(lvl wire.Consistency, rf int) int {
	if lvl == wire.ConsistencyOne {
		return 1
	}
	return (rf + 1) / 2
}

// fanOutWrite sends apply to every replica in replicas, the first
// syncCount(lvl, len(replicas)) synchronously (returning an error if
// any of those fails) and the rest fire-and-forget in background
// goroutines, logging failures rather than surfacing them — per
// spec.md §7's "PeerError is never surfaced from an asynchronous
// replication leg" rule.
func (c *Coordinator) fanOutWrite(ctx context.Context, lvl wire.Consistency, replicas []string, apply func(ctx context.Context, addr string) error) error {
	need := syncCount(lvl, len(replicas))
	if need > len(replicas) {
		need = len(replicas)
	}

	for i, addr := range replicas {
		if i < need {
			if err := apply(ctx, addr); err != nil {
				return apperr.Wrapf(apperr.KindPeer, err, "replica %q did not acknowledge write", addr)
			}
			continue
		}
		addr := addr
		go func() {
			if err := apply(context.Background(), addr); err != nil {
				c.log.Warn().Err(err).Str("peer", addr).Msg("asynchronous replication failed")
			}
		}()
	}
	return nil
}

func (c *Coordinator) applyInsertLocally(table string, keyspace string, values map[string]string, token ring.Token, timestamp string) error {
	t, err := c.ensureTable(keyspace, table)
	if err != nil {
		return err
	}
	row, err := t.BuildTimestampedRow(values, token, timestamp)
	if err != nil {
		return err
	}
	return t.InsertRow(row)
}

func (c *Coordinator) executeInsert(ctx context.Context, sess *schema.Session, q *query.Query, lvl wire.Consistency) (*wire.ResultBody, error) {
	keyspace := sess.Active()
	if keyspace == "" {
		return nil, apperr.New(apperr.KindSchema, "no keyspace selected")
	}
	def, err := c.sch.Table(keyspace, q.Table)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(q.Columns))
	for i, col := range q.Columns {
		values[col] = q.Values[i].Text
	}
	pkValues := make([]string, len(def.PartitionKey))
	for i, col := range def.PartitionKey {
		pkValues[i] = values[col]
	}
	token := ring.HashToken(partitionKeyString(pkValues))

	replicas, err := c.ownerAndReplicas(keyspace, pkValues)
	if err != nil {
		return nil, err
	}
	timestamp := nowRFC3339Nano()

	err = c.fanOutWrite(ctx, lvl, replicas, func(ctx context.Context, addr string) error {
		if addr == c.self {
			return c.applyInsertLocally(q.Table, keyspace, values, token, timestamp)
		}
		return c.peer.Insert(ctx, addr, InsertPayload{Keyspace: keyspace, Table: q.Table, Values: values, Token: token, Timestamp: timestamp})
	})
	if err != nil {
		return nil, err
	}
	return &wire.ResultBody{Kind: wire.ResultVoid}, nil
}

func (c *Coordinator) executeUpdate(ctx context.Context, sess *schema.Session, q *query.Query, lvl wire.Consistency) (*wire.ResultBody, error) {
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
	assignments := make(map[string]string, len(q.Assignments))
	for _, a := range q.Assignments {
		assignments[a.Column] = a.Value.Text
	}

	err = c.fanOutWrite(ctx, lvl, replicas, func(ctx context.Context, addr string) error {
		if addr == c.self {
			t, err := c.ensureTable(keyspace, q.Table)
			if err != nil {
				return err
			}
			return t.Update(q.Where, assignments)
		}
		return c.peer.Update(ctx, addr, UpdatePayload{Keyspace: keyspace, Table: q.Table, Where: q.Where, Assignments: assignments})
	})
	if err != nil {
		return nil, err
	}
	return &wire.ResultBody{Kind: wire.ResultVoid}, nil
}

func (c *Coordinator) executeDelete(ctx context.Context, sess *schema.Session, q *query.Query, lvl wire.Consistency) (*wire.ResultBody, error) {
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

	err = c.fanOutWrite(ctx, lvl, replicas, func(ctx context.Context, addr string) error {
		if addr == c.self {
			t, err := c.ensureTable(keyspace, q.Table)
			if err != nil {
				return err
			}
			return t.Delete(q.Where)
		}
		return c.peer.Delete(ctx, addr, DeletePayload{Keyspace: keyspace, Table: q.Table, Where: q.Where})
	})
	if err != nil {
		return nil, err
	}
	return &wire.ResultBody{Kind: wire.ResultVoid}, nil
}

// routeByPredicate locates the partition key's value(s) in a WHERE
// clause's top-level equalities and resolves the replica set they hash
// to, per spec.md §4.7 step 1. UPDATE/DELETE in this system always
// scope to a single partition: a clause that doesn't pin every
// partition-key column to a literal can't be routed.
func (c *Coordinator) routeByPredicate(keyspace string, partitionKey []string, where *query.Clause) ([]string, error) {
	equalities := make(map[string]string)
	collectEqualities(where, equalities)

	values := make([]string, len(partitionKey))
	for i, col := range partitionKey {
		v, ok := equalities[col]
		if !ok {
			return nil, apperr.Newf(apperr.KindRouting, "WHERE clause does not pin partition key column %q to a value", col)
		}
		values[i] = v
	}
	return c.ownerAndReplicas(keyspace, values)
}

// collectEqualities walks an AND-only prefix of clause, recording every
// "column = literal" term it finds. OR and NOT nodes, and any
// non-equality term, are simply not descended into: the caller treats
// a still-missing partition-key column as unroutable.
func collectEqualities(clause *query.Clause, out map[string]string) {
	if clause == nil {
		return
	}
	switch clause.Kind {
	case query.ClauseAnd:
		collectEqualities(clause.Left, out)
		collectEqualities(clause.Right, out)
	case query.ClauseTerm:
		rel := clause.Term
		if rel.Op != query.OpEqual {
			return
		}
		switch {
		case !rel.Left.Quoted && rel.Right.Quoted:
			out[rel.Left.Text] = rel.Right.Text
		case !rel.Right.Quoted && rel.Left.Quoted:
			out[rel.Right.Text] = rel.Left.Text
		case !rel.Left.Quoted && !rel.Right.Quoted:
			// Both bare: original parser has no schema at parse time to
			// disambiguate, so treat the left side as the column per the
			// conventional "col = literal" statement shape.
			out[rel.Left.Text] = rel.Right.Text
		}
	}
}
