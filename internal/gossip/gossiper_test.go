package gossip

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// pairTransport wires two Gossipers directly together in-process,
// standing in for the real TCP peer channel so a Syn/Ack/Ack2 round can
// be driven synchronously in a test.
type pairTransport struct {
	peers map[string]*Gossiper
}

func (p *pairTransport) Syn(ctx context.Context, addr string, syn Syn) (Ack, error) {
	peer, ok := p.peers[addr]
	if !ok {
		return Ack{}, assertErr("no such peer")
	}
	return peer.HandleSyn(syn), nil
}

func (p *pairTransport) Ack2(ctx context.Context, addr string, ack2 Ack2) error {
	peer, ok := p.peers[addr]
	if !ok {
		return assertErr("no such peer")
	}
	peer.HandleAck2(ack2)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newPair(t *testing.T) (a, b *Gossiper) {
	t.Helper()
	transport := &pairTransport{peers: make(map[string]*Gossiper)}
	a = New("node-a:9001", transport, nil, zerolog.Nop())
	b = New("node-b:9001", transport, nil, zerolog.Nop())
	transport.peers["node-a:9001"] = a
	transport.peers["node-b:9001"] = b
	return a, b
}

// TestGossipConvergesNewEndpoint verifies that an address known only to
// node A reaches node B after one Syn/Ack/Ack2 round.
func TestGossipConvergesNewEndpoint(t *testing.T) {
	a, b := newPair(t)

	a.mu.Lock()
	a.endpoints["node-c:9001"] = EndpointState{
		Heartbeat:   HeartbeatState{Generation: 1, Heartbeat: 5},
		Application: ApplicationState{Status: StatusUp, Address: "node-c:9001"},
	}
	a.mu.Unlock()

	a.synWith(context.Background(), "node-b:9001")

	b.mu.RLock()
	_, known := b.endpoints["node-c:9001"]
	b.mu.RUnlock()
	assert.True(t, known, "node-b should have learned about node-c after one round")
}

// TestGossipAdoptsNewerRemoteEntry checks the merge rule: when the
// peer's endpoint state is newer than what's known locally, the Ack
// carries it back and it replaces the older local entry.
func TestGossipAdoptsNewerRemoteEntry(t *testing.T) {
	a, b := newPair(t)

	a.mu.Lock()
	a.endpoints["node-c:9001"] = EndpointState{
		Heartbeat:   HeartbeatState{Generation: 2, Heartbeat: 10},
		Application: ApplicationState{Status: StatusUp, Address: "node-c:9001"},
	}
	a.mu.Unlock()
	b.mu.Lock()
	b.endpoints["node-c:9001"] = EndpointState{
		Heartbeat:   HeartbeatState{Generation: 5, Heartbeat: 1},
		Application: ApplicationState{Status: StatusDown, Address: "node-c:9001"},
	}
	b.mu.Unlock()

	a.synWith(context.Background(), "node-b:9001")

	a.mu.RLock()
	es := a.endpoints["node-c:9001"]
	a.mu.RUnlock()
	assert.Equal(t, int32(5), es.Heartbeat.Generation)
	assert.Equal(t, StatusDown, es.Application.Status)
}

// TestSynTransportErrorMarksPeerDown exercises the failure-detection
// rule: a Syn that errors flips the peer's status to Down and bumps
// its generation.
func TestSynTransportErrorMarksPeerDown(t *testing.T) {
	a, _ := newPair(t)
	a.synWith(context.Background(), "ghost:9001")
	assert.Equal(t, StatusUnknown, a.Status("ghost:9001"))

	a.mu.Lock()
	a.endpoints["ghost:9001"] = EndpointState{
		Heartbeat:   HeartbeatState{Generation: 1, Heartbeat: 0},
		Application: ApplicationState{Status: StatusUp, Address: "ghost:9001"},
	}
	a.mu.Unlock()

	a.synWith(context.Background(), "ghost:9001")
	a.mu.RLock()
	es := a.endpoints["ghost:9001"]
	a.mu.RUnlock()
	assert.Equal(t, StatusDown, es.Application.Status)
	assert.Equal(t, int32(2), es.Heartbeat.Generation)
}

// TestRebalanceFiresOncePerThresholdCrossing confirms the
// lastRebalancedCount guard: onJoin fires the first time the physical
// node count exceeds rebalanceThreshold, then stays quiet on
// subsequent ticks at the same count.
func TestRebalanceFiresOncePerThresholdCrossing(t *testing.T) {
	var fired int
	g := New("node-a:9001", &pairTransport{peers: map[string]*Gossiper{}}, func(string) { fired++ }, zerolog.Nop())

	g.mu.Lock()
	for i := 0; i < rebalanceThreshold+1; i++ {
		addr := "node-" + string(rune('a'+i)) + ":9001"
		g.endpoints[addr] = EndpointState{
			Heartbeat:   HeartbeatState{Generation: 1},
			Application: ApplicationState{Status: StatusUp, Address: addr},
		}
	}
	g.mu.Unlock()

	g.checkRebalance()
	g.checkRebalance()
	assert.Equal(t, 1, fired)
}
