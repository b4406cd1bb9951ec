package coordinator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/gossip"
	"github.com/dreamware/ringdb/internal/ring"
	"github.com/dreamware/ringdb/internal/schema"
)

// noopTransport satisfies gossip.Transport without ever dialing anyone.
// The tests in this package drive topology by calling Bootstrap/AddNode
// directly rather than letting a real gossip round converge it, so the
// Syn/Ack2 exchange itself is never exercised here.
type noopTransport struct{}

func (noopTransport) Syn(ctx context.Context, addr string, syn gossip.Syn) (gossip.Ack, error) {
	return gossip.Ack{}, nil
}

func (noopTransport) Ack2(ctx context.Context, addr string, ack2 gossip.Ack2) error { return nil }

// fakePeer routes PeerClient calls directly to the target Coordinator's
// own apply path, standing in for internal/server's real TCP framing
// the way internal/gossip's pairTransport stands in for a real dialer.
type fakePeer struct {
	nodes map[string]*Coordinator
}

func (f *fakePeer) Insert(ctx context.Context, addr string, p InsertPayload) error {
	return f.nodes[addr].applyInsertLocally(p.Table, p.Keyspace, p.Values, p.Token, p.Timestamp)
}

func (f *fakePeer) Update(ctx context.Context, addr string, p UpdatePayload) error {
	t, err := f.nodes[addr].ensureTable(p.Keyspace, p.Table)
	if err != nil {
		return err
	}
	return t.Update(p.Where, p.Assignments)
}

func (f *fakePeer) Delete(ctx context.Context, addr string, p DeletePayload) error {
	t, err := f.nodes[addr].ensureTable(p.Keyspace, p.Table)
	if err != nil {
		return err
	}
	return t.Delete(p.Where)
}

func (f *fakePeer) SelectRows(ctx context.Context, addr string, p SelectRequestPayload) (SelectResponsePayload, error) {
	rows, err := f.nodes[addr].selectRowsFrom(ctx, p.Keyspace, p.Table, addr, p.Where)
	if err != nil {
		return SelectResponsePayload{}, err
	}
	return SelectResponsePayload{Rows: rows}, nil
}

func (f *fakePeer) Checksum(ctx context.Context, addr string, p ChecksumRequestPayload) (ChecksumResponsePayload, error) {
	return f.nodes[addr].checksumFrom(ctx, p.Keyspace, p.Table, addr, p.Where)
}

func (f *fakePeer) SchemaChange(ctx context.Context, addr string, p SchemaChangePayload) error {
	c := f.nodes[addr]
	switch p.Kind {
	case "create_keyspace":
		return c.sch.CreateKeyspace(p.Keyspace.Name, p.Keyspace.ReplicationFactor)
	case "create_table":
		return c.sch.CreateTable(p.Table.Keyspace, p.Table.Def)
	}
	return nil
}

func (f *fakePeer) RemoveNode(ctx context.Context, addr string, leaving string) error {
	c := f.nodes[addr]
	c.ring.RemoveNode(leaving)
	c.gos.RemoveNode(leaving)
	return nil
}

// newCluster builds n Coordinators sharing one fakePeer and one ring
// topology, each with its own schema.Manager and table registry, the
// way n independent ringdb processes would. Gossip neighbours are
// wired via Bootstrap so Neighbors()/LiveNodes() behave, but no gossip
// round ever actually runs: ring membership and schema are seeded
// directly, matching how these tests isolate the coordinator's own
// routing and repair logic from gossip convergence timing.
func newCluster(t *testing.T, n, rf int) ([]*Coordinator, *fakePeer) {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "node-" + string(rune('a'+i)) + ":9000"
	}

	r := ring.New()
	for _, a := range addrs {
		r.AddNode(a)
	}

	peer := &fakePeer{nodes: make(map[string]*Coordinator)}
	coords := make([]*Coordinator, n)
	for i, addr := range addrs {
		sch := schema.New(t.TempDir())
		gos := gossip.New(addr, noopTransport{}, nil, zerolog.Nop())
		for _, other := range addrs {
			if other != addr {
				gos.Bootstrap(other)
			}
		}
		c := New(addr, t.TempDir(), rf, r, sch, gos, peer, zerolog.Nop())
		coords[i] = c
		peer.nodes[addr] = c
	}
	return coords, peer
}

// createSchemaEverywhere registers keyspace ks (rf replicas) and table
// def identically on every coordinator's own schema.Manager, standing
// in for propagateSchemaChange reaching full quorum instantly.
func createSchemaEverywhere(t *testing.T, coords []*Coordinator, ks string, rf int, def schema.TableDef) {
	t.Helper()
	for _, c := range coords {
		if err := c.sch.CreateKeyspace(ks, rf); err != nil {
			t.Fatalf("CreateKeyspace on %s: %v", c.self, err)
		}
		if err := c.sch.CreateTable(ks, def); err != nil {
			t.Fatalf("CreateTable on %s: %v", c.self, err)
		}
	}
}

func useSession(t *testing.T, c *Coordinator, ks string) *schema.Session {
	t.Helper()
	sess := &schema.Session{}
	if err := c.sch.Use(sess, ks); err != nil {
		t.Fatalf("Use(%s) on %s: %v", ks, c.self, err)
	}
	return sess
}
