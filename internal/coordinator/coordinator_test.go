package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/storage"
)

func flightsDef() schema.TableDef {
	return schema.TableDef{
		Name: "flights",
		Columns: []query.ColumnDef{
			{Name: "id", Type: query.TypeInt},
			{Name: "origin", Type: query.TypeText},
			{Name: "status", Type: query.TypeText},
		},
		PartitionKey:  []string{"id"},
		ClusteringKey: nil,
	}
}

// TestReadRepairConvergesDivergentReplica seeds two replicas of the
// same partition with conflicting values for the same row, directly
// against their local storage (bypassing the coordinator's own write
// path, which would normally keep them in sync) and confirms that a
// SELECT routed through either coordinator returns the newer value and
// leaves the stale replica repaired in place afterward.
func TestReadRepairConvergesDivergentReplica(t *testing.T) {
	coords, _ := newCluster(t, 2, 2)
	ks := "ks"
	createSchemaEverywhere(t, coords, ks, 2, flightsDef())

	replicas, err := coords[0].ownerAndReplicas(ks, []string{"1"})
	require.NoError(t, err)
	require.Len(t, replicas, 2)

	owner := findCoord(t, coords, replicas[0])
	other := findCoord(t, coords, replicas[1])

	tok := ring.HashToken("1")
	ownerTbl, err := owner.ensureTable(ks, "flights")
	require.NoError(t, err)
	otherTbl, err := other.ensureTable(ks, "flights")
	require.NoError(t, err)

	require.NoError(t, ownerTbl.InsertRow(storage.Row{
		Values:    []string{"1", "MAD", "BOARDING"},
		Timestamp: "2026-01-01T00:00:02Z",
		Token:     tok,
	}))
	require.NoError(t, otherTbl.InsertRow(storage.Row{
		Values:    []string{"1", "MAD", "SCHEDULED"},
		Timestamp: "2026-01-01T00:00:01Z",
		Token:     tok,
	}))

	sess := useSession(t, owner, ks)
	q, err := query.Parse(`SELECT * FROM flights WHERE id = 1;`)
	require.NoError(t, err)

	body, err := owner.executeSelect(context.Background(), sess, q, 0)
	require.NoError(t, err)
	require.Len(t, body.Rows.Rows, 1)
	assert.Equal(t, "BOARDING", string(body.Rows.Rows[0][2]))

	// The stale replica should now have been repaired in place.
	repaired, err := otherTbl.Select(nil, storage.SelectOptions{})
	require.NoError(t, err)
	require.Len(t, repaired, 1)
	assert.Equal(t, "BOARDING", repaired[0][2])
}

func findCoord(t *testing.T, coords []*Coordinator, addr string) *Coordinator {
	t.Helper()
	for _, c := range coords {
		if c.self == addr {
			return c
		}
	}
	t.Fatalf("no coordinator for address %q", addr)
	return nil
}
