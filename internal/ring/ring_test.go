package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nineNodeRing() *Ring {
	r := New()
	for i := 0; i < 9; i++ {
		r.AddNode("127.0.0.1:" + string(rune('0'+i)))
	}
	return r
}

func TestOwnerIsDeterministic(t *testing.T) {
	r := nineNodeRing()
	owner1, err := r.Owner("flight-42")
	require.NoError(t, err)
	owner2, err := r.Owner("flight-42")
	require.NoError(t, err)
	assert.Equal(t, owner1, owner2)
}

func TestAddNodeIsIdempotent(t *testing.T) {
	r := New()
	r.AddNode("a")
	r.AddNode("a")
	assert.Equal(t, 1, r.NodeCount())
}

func TestReplicaSetReturnsDistinctNodes(t *testing.T) {
	r := nineNodeRing()
	replicas, err := r.ReplicaSet("flight-7", 3)
	require.NoError(t, err)
	require.Len(t, replicas, 3)
	seen := make(map[string]bool)
	for _, n := range replicas {
		assert.False(t, seen[n], "replica %s listed twice", n)
		seen[n] = true
	}
}

func TestReplicaSetErrorsWhenUnderReplicated(t *testing.T) {
	r := New()
	r.AddNode("a")
	r.AddNode("b")
	_, err := r.ReplicaSet("k", 3)
	require.Error(t, err)
}

func TestOwnerErrorsOnEmptyRing(t *testing.T) {
	r := New()
	_, err := r.Owner("k")
	require.Error(t, err)
}

func TestRemoveNodeDropsAllVnodes(t *testing.T) {
	r := nineNodeRing()
	before := len(r.entries)
	r.RemoveNode("127.0.0.10")
	// removing a node never in the ring changes nothing
	assert.Equal(t, before, len(r.entries))

	r.RemoveNode("127.0.0.1:0")
	assert.Equal(t, before-vnodesPerNode, len(r.entries))
	assert.Equal(t, 8, r.NodeCount())
}

// TestPartitionsForJoinYieldsOrderedRanges checks that every token range
// handed off by an existing node to a newly joined node has Start <= End
// and that at least one range is handed off in total.
func TestPartitionsForJoinYieldsOrderedRanges(t *testing.T) {
	r := nineNodeRing()
	const rf = 3
	r.AddNode("127.0.0.1:9")

	var total int
	for addr := range r.nodes {
		if addr == "127.0.0.1:9" {
			continue
		}
		ranges := r.PartitionsForJoin("127.0.0.1:9", addr, rf)
		total += len(ranges)
		for _, rg := range ranges {
			assert.True(t, rg.Start.less(rg.End) || rg.Start == rg.End)
		}
	}
	assert.Greater(t, total, 0)
}

func TestPartitionsForLeaveCoversReplicationFactor(t *testing.T) {
	r := nineNodeRing()
	const rf = 3
	byDest := r.PartitionsForLeave("127.0.0.1:0", rf)
	assert.NotEmpty(t, byDest)
	for dest, ranges := range byDest {
		assert.NotEqual(t, "127.0.0.1:0", dest)
		assert.NotEmpty(t, ranges)
	}
}
