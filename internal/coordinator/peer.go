package coordinator

import (
	"context"

	"github.com/dreamware/ringdb/internal/query"
	"github.com/dreamware/ringdb/internal/ring"
	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/storage"
)

// PeerClient is the coordinator's view of the internal peer wire: every
// method corresponds to one of the NodeMessageKind values in
// internal/gossip, and every call is expected to round-trip a
// `[0x01][len:8 BE][JSON NodeMessage]` frame to addr and back, the way
// internal/gossip.Transport round-trips Syn/Ack frames. internal/server
// supplies the concrete implementation once the peer TCP wiring exists;
// tests supply an in-process fake, the same shape pairTransport takes
// in internal/gossip.
type PeerClient interface {
	Insert(ctx context.Context, addr string, p InsertPayload) error
	Update(ctx context.Context, addr string, p UpdatePayload) error
	Delete(ctx context.Context, addr string, p DeletePayload) error
	SelectRows(ctx context.Context, addr string, p SelectRequestPayload) (SelectResponsePayload, error)
	Checksum(ctx context.Context, addr string, p ChecksumRequestPayload) (ChecksumResponsePayload, error)
	SchemaChange(ctx context.Context, addr string, p SchemaChangePayload) error
	RemoveNode(ctx context.Context, addr string, leaving string) error
}

// InsertPayload carries one fully-resolved row: the coordinator picks
// the token and timestamp once, on the replica that first accepts the
// write, and ships both to every other replica so all copies agree
// down to the nanosecond — required for the read path's checksum
// comparison to converge without a spurious repair.
type InsertPayload struct {
	Keyspace  string            `json:"keyspace"`
	Table     string            `json:"table"`
	Values    map[string]string `json:"values"`
	Token     ring.Token        `json:"token"`
	Timestamp string            `json:"timestamp"`
}

// UpdatePayload and DeletePayload ship the parsed WHERE clause itself
// rather than a pre-matched row set: each replica only ever holds the
// partition the clause was routed against, so evaluating the same
// clause locally on every replica reaches the same row set without the
// coordinator needing to enumerate rows up front.
type UpdatePayload struct {
	Keyspace    string            `json:"keyspace"`
	Table       string            `json:"table"`
	Where       *query.Clause     `json:"where"`
	Assignments map[string]string `json:"assignments"`
}

type DeletePayload struct {
	Keyspace string        `json:"keyspace"`
	Table    string        `json:"table"`
	Where    *query.Clause `json:"where"`
}

// SelectRequestPayload asks a replica for its full, untrimmed row set
// (timestamps and tombstones included) for a predicate, the input to
// read repair's alignment step.
type SelectRequestPayload struct {
	Keyspace          string        `json:"keyspace"`
	Table             string        `json:"table"`
	Where             *query.Clause `json:"where"`
	IncludeTombstones bool          `json:"include_tombstones"`
}

type SelectResponsePayload struct {
	Rows []storage.Row `json:"rows"`
}

// ChecksumRequestPayload asks a replica to reduce its projection of a
// predicate's row set to a single digest, letting the coordinator skip
// read repair entirely on the common case where every replica agrees.
type ChecksumRequestPayload struct {
	Keyspace string        `json:"keyspace"`
	Table    string        `json:"table"`
	Where    *query.Clause `json:"where"`
}

type ChecksumResponsePayload struct {
	Checksum string `json:"checksum"`
	RowCount int    `json:"row_count"`
}

// SchemaChangePayload propagates one DDL mutation to a neighbour; the
// neighbour applies it locally and replies with a Confirmation, which
// the coordinator counts toward schema.Quorum.
type SchemaChangePayload struct {
	Kind     string           `json:"kind"` // "create_keyspace" or "create_table"
	Keyspace schema.KeyspaceDef `json:"keyspace,omitempty"`
	Table    *tableChange     `json:"table,omitempty"`
}

type tableChange struct {
	Keyspace string          `json:"keyspace"`
	Def      schema.TableDef `json:"def"`
}
