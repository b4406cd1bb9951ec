// Package gossip implements ringdb's membership and failure-detection
// protocol: per-peer endpoint state, digest comparison, and the
// Syn/Ack/Ack2 exchange, per spec.md §4.4. It is grounded on the
// teacher's health_monitor.go (periodic ticker loop, context-based
// shutdown, mutex-protected per-node map) generalized from HTTP polling
// to gossip-driven liveness.
package gossip

// Status is a peer's application-level liveness as seen by the local
// gossiper.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusRemoved Status = "removed"
)

// HeartbeatState is the two-field vector clock carried in every digest:
// Generation increments on a lifecycle change (bootstrap, Down->Up,
// Up->Down), Heartbeat increments on every periodic gossip tick.
type HeartbeatState struct {
	Generation int32 `json:"generation"`
	Heartbeat  int32 `json:"heartbeat"`
}

// newer reports whether h is a strictly newer vector clock than o:
// generation dominates, heartbeat breaks ties, per spec.md §4.1's
// digest-ordering rule.
func (h HeartbeatState) newer(o HeartbeatState) bool {
	if h.Generation != o.Generation {
		return h.Generation > o.Generation
	}
	return h.Heartbeat > o.Heartbeat
}

// ApplicationState is a peer's observed liveness and address.
type ApplicationState struct {
	Status  Status `json:"status"`
	Address string `json:"address"`
}

// EndpointState is everything the gossiper tracks about one peer.
type EndpointState struct {
	Heartbeat   HeartbeatState   `json:"heartbeat"`
	Application ApplicationState `json:"application"`
}

// Digest is the compact (address, generation, heartbeat) triple
// exchanged in a Syn message, cheap enough to send for every known
// endpoint on every round.
type Digest struct {
	Address    string `json:"address"`
	Generation int32  `json:"generation"`
	Heartbeat  int32  `json:"heartbeat"`
}

func digestOf(addr string, es EndpointState) Digest {
	return Digest{Address: addr, Generation: es.Heartbeat.Generation, Heartbeat: es.Heartbeat.Heartbeat}
}

// newerThan reports whether d represents a strictly newer state than o,
// using the same generation-then-heartbeat ordering as HeartbeatState.
func (d Digest) newerThan(o Digest) bool {
	return HeartbeatState{Generation: d.Generation, Heartbeat: d.Heartbeat}.
		newer(HeartbeatState{Generation: o.Generation, Heartbeat: o.Heartbeat})
}
