package gossip

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/apperr"
)

// rebalanceThreshold is the physical-node count above which the
// gossiper notifies the schema manager to compute and ship partition
// ranges to the joiner, per spec.md §4.4 ("source uses 8").
const rebalanceThreshold = 8

// peerQueueCapacity bounds each outbound peer channel. Overflow drops
// the oldest queued message, logged at warn — the concrete resolution
// of spec.md §9's "unbounded peer queues" open question.
const peerQueueCapacity = 4096

// fanout is the number of randomly chosen live peers gossiped to per
// round.
const fanout = 3

// tickInterval is how often the local heartbeat increments and a
// gossip round fires.
const tickInterval = time.Second

// Transport sends a Syn to addr and blocks for the peer's Ack, or
// returns an error if the exchange could not complete — used both for
// failure detection (a Syn error flips the peer Down) and to drive the
// round. Supplied by internal/server, which owns the actual peer
// connections.
type Transport interface {
	Syn(ctx context.Context, addr string, syn Syn) (Ack, error)
	Ack2(ctx context.Context, addr string, ack2 Ack2) error
}

// Gossiper is the single per-node membership singleton: the endpoint
// state map, the neighbour list, and the removed set, guarded by one
// mutex. It is constructed once in cmd/node's main and passed by
// pointer to the server and coordinator, never held as a package-level
// global, per spec.md §9's explicit instruction.
type Gossiper struct {
	mu        sync.RWMutex
	self      string
	endpoints map[string]EndpointState
	neighbors map[string]bool
	removed   map[string]bool

	lastRebalancedCount int

	transport Transport
	onJoin    func(newPeer string)
	log       zerolog.Logger

	queues map[string]chan NodeMessage
}

// New constructs a Gossiper for the local node at selfAddr. transport
// performs the actual Syn/Ack2 network exchanges; onJoin is invoked
// (once per distinct physical-node count, see checkRebalance) while the
// physical-node count exceeds rebalanceThreshold, so the coordinator
// can compute handoff ranges for new peers.
func New(selfAddr string, transport Transport, onJoin func(newPeer string), log zerolog.Logger) *Gossiper {
	g := &Gossiper{
		self:      selfAddr,
		endpoints: make(map[string]EndpointState),
		neighbors: make(map[string]bool),
		removed:   make(map[string]bool),
		transport: transport,
		onJoin:    onJoin,
		log:       log,
		queues:    make(map[string]chan NodeMessage),
	}
	g.endpoints[selfAddr] = EndpointState{
		Heartbeat:   HeartbeatState{Generation: 1, Heartbeat: 0},
		Application: ApplicationState{Status: StatusUp, Address: selfAddr},
	}
	return g
}

// SetOnJoin replaces the join-notification callback after construction,
// matching the teacher's HealthMonitor.SetOnUnhealthy: cmd/node builds
// the Gossiper before the coordinator exists, then wires the callback
// once the coordinator is constructed, rather than threading a
// forward-declared closure through New.
func (g *Gossiper) SetOnJoin(onJoin func(newPeer string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onJoin = onJoin
}

// Bootstrap contacts the configured seed address (a no-op if seedAddr
// is the local address or empty) and records it as a neighbour so the
// first gossip tick has somewhere to send a Syn.
func (g *Gossiper) Bootstrap(seedAddr string) {
	if seedAddr == "" || seedAddr == g.self {
		return
	}
	g.addNeighbor(seedAddr)
}

func (g *Gossiper) addNeighbor(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNeighborLocked(addr)
}

// addNeighborLocked requires the caller to already hold g.mu.
func (g *Gossiper) addNeighborLocked(addr string) {
	if g.removed[addr] {
		return
	}
	if !g.neighbors[addr] {
		g.neighbors[addr] = true
		g.queues[addr] = make(chan NodeMessage, peerQueueCapacity)
	}
	if _, known := g.endpoints[addr]; !known {
		g.endpoints[addr] = EndpointState{
			Heartbeat:   HeartbeatState{Generation: 1, Heartbeat: 0},
			Application: ApplicationState{Status: StatusUp, Address: addr},
		}
	}
}

// Run ticks once per interval until ctx is cancelled: the local
// heartbeat is incremented, then a Syn round is sent to up to fanout
// randomly chosen live neighbours. interval <= 0 falls back to
// tickInterval, so existing callers that gossiped on the fixed default
// keep doing so.
func (g *Gossiper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = tickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gossiper) tick(ctx context.Context) {
	g.bumpOwnHeartbeat()
	targets := g.chooseGossipTargets()
	for _, addr := range targets {
		g.synWith(ctx, addr)
	}
	g.checkRebalance()
}

func (g *Gossiper) bumpOwnHeartbeat() {
	g.mu.Lock()
	defer g.mu.Unlock()
	es := g.endpoints[g.self]
	es.Heartbeat.Heartbeat++
	g.endpoints[g.self] = es
}

func (g *Gossiper) chooseGossipTargets() []string {
	g.mu.RLock()
	live := make([]string, 0, len(g.endpoints))
	for addr, es := range g.endpoints {
		if addr == g.self || es.Application.Status != StatusUp {
			continue
		}
		live = append(live, addr)
	}
	g.mu.RUnlock()

	rand.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	if len(live) > fanout {
		live = live[:fanout]
	}
	return live
}

// synWith drives one full Syn/Ack/Ack2 round against addr. A transport
// error flips addr's application status to Down and bumps its
// generation, per spec.md §4.4's failure-detection rule.
func (g *Gossiper) synWith(ctx context.Context, addr string) {
	syn := Syn{From: g.self, Digests: g.localDigests()}
	ack, err := g.transport.Syn(ctx, addr, syn)
	if err != nil {
		g.markDown(addr)
		return
	}
	g.markUp(addr)
	g.mergeStates(ack.States)

	// ack.Digests names addresses the remote peer is behind on (or
	// lacks entirely); reply with whatever full state this node has
	// for each, with no further comparison, mirroring the original's
	// ack_handler which pushes its own state unconditionally once the
	// peer has flagged itself as needing it.
	wanted := make(map[string]EndpointState, len(ack.Digests))
	g.mu.RLock()
	for _, d := range ack.Digests {
		if local, ok := g.endpoints[d.Address]; ok {
			wanted[d.Address] = local
		}
	}
	g.mu.RUnlock()

	if len(wanted) == 0 {
		return
	}
	if err := g.transport.Ack2(ctx, addr, Ack2{States: wanted}); err != nil {
		g.markDown(addr)
	}
}

func (g *Gossiper) localDigests() []Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	digests := make([]Digest, 0, len(g.endpoints))
	for addr, es := range g.endpoints {
		digests = append(digests, digestOf(addr, es))
	}
	return digests
}

// HandleSyn answers an incoming Syn. For every digest the sender
// listed: if this node is behind (or has never heard of the address),
// the digest is echoed back in Ack.Digests so the sender knows to push
// full state in Ack2; if this node is even or ahead, its own full
// state is included directly in Ack.States, saving a round trip. This
// mirrors the original's compare_endpoints exactly.
func (g *Gossiper) HandleSyn(syn Syn) Ack {
	g.addNeighbor(syn.From)

	g.mu.RLock()
	defer g.mu.RUnlock()

	var digestsToRequest []Digest
	statesToSync := make(map[string]EndpointState)
	for _, d := range syn.Digests {
		local, known := g.endpoints[d.Address]
		switch {
		case !known:
			digestsToRequest = append(digestsToRequest, d)
		case d.newerThan(digestOf(d.Address, local)):
			digestsToRequest = append(digestsToRequest, digestOf(d.Address, local))
		default:
			statesToSync[d.Address] = local
		}
	}
	return Ack{Digests: digestsToRequest, States: statesToSync}
}

// HandleAck2 applies the full endpoint states the original Syn sender
// shipped back in response to the local node's Ack digests.
func (g *Gossiper) HandleAck2(ack2 Ack2) {
	g.mergeStates(ack2.States)
}

// mergeStates applies the update rule from spec.md §4.4: replace the
// local entry for address A iff the remote digest is newer, except the
// local node never regresses its own entry.
func (g *Gossiper) mergeStates(remote map[string]EndpointState) {
	if len(remote) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, remoteState := range remote {
		if addr == g.self {
			continue
		}
		if g.removed[addr] {
			continue
		}
		local, known := g.endpoints[addr]
		if !known || digestOf(addr, remoteState).newerThan(digestOf(addr, local)) {
			g.endpoints[addr] = remoteState
			g.addNeighborLocked(addr)
		}
	}
}

func (g *Gossiper) markDown(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	es, ok := g.endpoints[addr]
	if !ok || es.Application.Status == StatusDown {
		return
	}
	es.Heartbeat.Generation++
	es.Application.Status = StatusDown
	g.endpoints[addr] = es
	g.log.Warn().Str("peer", addr).Msg("peer marked down")
}

func (g *Gossiper) markUp(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	es, ok := g.endpoints[addr]
	if !ok {
		return
	}
	if es.Application.Status != StatusUp {
		es.Heartbeat.Generation++
		es.Application.Status = StatusUp
		g.endpoints[addr] = es
	}
}

// RemoveNode marks addr Removed (terminal: never re-added in this
// process lifetime) and drops its outbound queue.
func (g *Gossiper) RemoveNode(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed[addr] = true
	delete(g.neighbors, addr)
	delete(g.queues, addr)
	if es, ok := g.endpoints[addr]; ok {
		es.Application.Status = StatusRemoved
		g.endpoints[addr] = es
	}
}

// checkRebalance fires onJoin whenever the physical node count is above
// rebalanceThreshold and differs from the count it last fired at,
// tracked via lastRebalancedCount so a stable topology doesn't
// re-trigger a transfer on every subsequent tick, per SPEC_FULL.md
// §4.4.1.
func (g *Gossiper) checkRebalance() {
	g.mu.Lock()
	count := g.physicalNodeCountLocked()
	shouldFire := count > rebalanceThreshold && count != g.lastRebalancedCount
	if shouldFire {
		g.lastRebalancedCount = count
	}
	g.mu.Unlock()

	if shouldFire && g.onJoin != nil {
		g.onJoin(g.self)
	}
}

func (g *Gossiper) physicalNodeCountLocked() int {
	n := 0
	for _, es := range g.endpoints {
		if es.Application.Status != StatusRemoved {
			n++
		}
	}
	return n
}

// Enqueue places msg on addr's outbound queue, dropping the oldest
// queued message if the bounded channel is full (spec.md §9's resolved
// "bound and drop policy" for peer queues).
func (g *Gossiper) Enqueue(addr string, msg NodeMessage) error {
	g.mu.Lock()
	q, ok := g.queues[addr]
	g.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.KindPeer, "no outbound queue for peer %q", addr)
	}
	select {
	case q <- msg:
		return nil
	default:
		select {
		case <-q:
			g.log.Warn().Str("peer", addr).Msg("peer queue full, dropping oldest message")
		default:
		}
		select {
		case q <- msg:
		default:
		}
		return nil
	}
}

// Neighbors returns the current neighbour address list.
func (g *Gossiper) Neighbors() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.neighbors))
	for addr := range g.neighbors {
		out = append(out, addr)
	}
	return out
}

// LiveNodes returns every address currently known Up (including self).
func (g *Gossiper) LiveNodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.endpoints))
	for addr, es := range g.endpoints {
		if es.Application.Status == StatusUp {
			out = append(out, addr)
		}
	}
	return out
}

// Status returns the known application status of addr.
func (g *Gossiper) Status(addr string) Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if es, ok := g.endpoints[addr]; ok {
		return es.Application.Status
	}
	return StatusUnknown
}
