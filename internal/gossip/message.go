package gossip

import "encoding/json"

// Syn is the opening message of a gossip round: the sender's own
// address plus a digest for every endpoint it knows about, per spec.md
// §4.4.
type Syn struct {
	From    string   `json:"from"`
	Digests []Digest `json:"digests"`
}

// Ack is the receiver's reply to a Syn: digests for entries where the
// receiver is behind the sender or has never heard of the address (so
// the sender pushes full state for them in Ack2), plus the receiver's
// full endpoint states for entries where it is even with or ahead of
// the sender.
type Ack struct {
	Digests []Digest                 `json:"digests"`
	States  map[string]EndpointState `json:"states"`
}

// Ack2 is the final message: the original Syn sender ships full
// endpoint state for every address the Ack requested.
type Ack2 struct {
	States map[string]EndpointState `json:"states"`
}

// NodeMessageKind tags the payload carried by the 0x01 node-message
// discriminator, per spec.md §4.4's peer-message taxonomy.
type NodeMessageKind string

const (
	MsgSchemaChange      NodeMessageKind = "schema_change"
	MsgInsert            NodeMessageKind = "insert"
	MsgSelectRequest     NodeMessageKind = "select_request"
	MsgSelectResponse    NodeMessageKind = "select_response"
	MsgChecksumRequest   NodeMessageKind = "checksum_request"
	MsgChecksumResponse  NodeMessageKind = "checksum_response"
	MsgUpdate            NodeMessageKind = "update"
	MsgDelete            NodeMessageKind = "delete"
	MsgConfirmation      NodeMessageKind = "confirmation"
	MsgTransferFromNode  NodeMessageKind = "transfer_from_node"
	MsgRemoveNode        NodeMessageKind = "remove_node"
)

// NodeMessage is the envelope for every non-gossip peer-to-peer message:
// schema propagation, replica writes/reads, checksums, and topology
// changes. Payload is left as raw JSON (json.RawMessage) so each kind
// can define and unmarshal its own body independently, the way the
// coordinator and schema packages need to.
type NodeMessage struct {
	Kind    NodeMessageKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}
