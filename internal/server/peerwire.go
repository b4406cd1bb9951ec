// Package server binds ringdb's two TCP listeners — the internal peer
// port and the external client TLS port — and dispatches inbound
// frames to the gossiper, schema manager, and coordinator, per
// spec.md §4.8. It supplies the concrete internal/gossip.Transport and
// internal/coordinator.PeerClient implementations the rest of the
// module only consumes as interfaces, grounded on the teacher's
// shard.Shard dial-and-call pattern generalized from HTTP+JSON to the
// raw `[discriminator:1][len:8 BE][JSON payload]` peer stream of
// spec.md §6.
package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/coordinator"
	"github.com/dreamware/ringdb/internal/gossip"
)

const (
	discriminatorNodeMessage   byte = 0x01
	discriminatorGossipMessage byte = 0x02

	peerDialTimeout = 5 * time.Second
)

// gossipFrameKind tags which of Syn/Ack/Ack2 a 0x02 discriminator frame
// carries; the gossip package itself has no wire envelope of its own
// (internal/gossip only exchanges Go values through Transport), so
// internal/server owns this framing the way it owns the NodeMessage
// one.
type gossipFrameKind string

const (
	gossipFrameSyn  gossipFrameKind = "syn"
	gossipFrameAck  gossipFrameKind = "ack"
	gossipFrameAck2 gossipFrameKind = "ack2"
)

type gossipFrame struct {
	Kind gossipFrameKind `json:"kind"`
	Syn  *gossip.Syn     `json:"syn,omitempty"`
	Ack  *gossip.Ack     `json:"ack,omitempty"`
	Ack2 *gossip.Ack2    `json:"ack2,omitempty"`
}

// PeerTransport dials other nodes' internal ports on demand and
// round-trips the `[discriminator][len:8 BE][JSON]` frames spec.md §6
// describes. One PeerTransport is shared by the Gossiper (as its
// Transport) and the Coordinator (as its PeerClient): both sides of
// the peer wire speak the same two discriminators, so there is no
// reason to dial twice for the two concerns.
type PeerTransport struct {
	mu      sync.Mutex
	conns   map[string]net.Conn
	dialer  net.Dialer
	log     zerolog.Logger
}

// NewPeerTransport constructs a PeerTransport with no open connections;
// dials happen lazily on first use and are cached per address.
func NewPeerTransport(log zerolog.Logger) *PeerTransport {
	return &PeerTransport{
		conns:  make(map[string]net.Conn),
		dialer: net.Dialer{Timeout: peerDialTimeout},
		log:    log.With().Str("component", "peer_transport").Logger(),
	}
}

func (p *PeerTransport) conn(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok {
		return c, nil
	}
	c, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindPeer, err, "dial peer %q", addr)
	}
	p.conns[addr] = c
	return c, nil
}

// drop closes and forgets a cached connection, forcing the next call to
// that address to redial. Called whenever a round-trip on it fails.
func (p *PeerTransport) drop(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[addr]; ok {
		c.Close()
		delete(p.conns, addr)
	}
}

func writeFrame(w io.Writer, discriminator byte, payload []byte) error {
	header := make([]byte, 9)
	header[0] = discriminator
	binary.BigEndian.PutUint64(header[1:], uint64(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) (byte, []byte, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint64(header[1:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

// roundTrip writes a node-message request and blocks for one node-message
// response on the same connection. Peer messages in this system are
// always request/response pairs on a dedicated per-peer connection, so
// there is no need for the stream-id multiplexing the client wire uses.
func (p *PeerTransport) roundTrip(ctx context.Context, addr string, msg gossip.NodeMessage) (gossip.NodeMessage, error) {
	conn, err := p.conn(ctx, addr)
	if err != nil {
		return gossip.NodeMessage{}, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return gossip.NodeMessage{}, apperr.Wrap(apperr.KindPeer, err, "marshal node message")
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	if err := writeFrame(conn, discriminatorNodeMessage, body); err != nil {
		p.drop(addr)
		return gossip.NodeMessage{}, apperr.Wrapf(apperr.KindPeer, err, "write to peer %q", addr)
	}
	disc, payload, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		p.drop(addr)
		return gossip.NodeMessage{}, apperr.Wrapf(apperr.KindPeer, err, "read from peer %q", addr)
	}
	if disc != discriminatorNodeMessage {
		return gossip.NodeMessage{}, apperr.Newf(apperr.KindPeer, "unexpected discriminator 0x%02x from %q", disc, addr)
	}
	var resp gossip.NodeMessage
	if err := json.Unmarshal(payload, &resp); err != nil {
		return gossip.NodeMessage{}, apperr.Wrap(apperr.KindPeer, err, "unmarshal node message response")
	}
	return resp, nil
}

// Syn implements gossip.Transport.
func (p *PeerTransport) Syn(ctx context.Context, addr string, syn gossip.Syn) (gossip.Ack, error) {
	conn, err := p.conn(ctx, addr)
	if err != nil {
		return gossip.Ack{}, err
	}
	body, err := json.Marshal(gossipFrame{Kind: gossipFrameSyn, Syn: &syn})
	if err != nil {
		return gossip.Ack{}, apperr.Wrap(apperr.KindPeer, err, "marshal syn")
	}
	if err := writeFrame(conn, discriminatorGossipMessage, body); err != nil {
		p.drop(addr)
		return gossip.Ack{}, apperr.Wrapf(apperr.KindPeer, err, "write syn to %q", addr)
	}
	disc, payload, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		p.drop(addr)
		return gossip.Ack{}, apperr.Wrapf(apperr.KindPeer, err, "read ack from %q", addr)
	}
	if disc != discriminatorGossipMessage {
		return gossip.Ack{}, apperr.Newf(apperr.KindPeer, "unexpected discriminator 0x%02x from %q", disc, addr)
	}
	var frame gossipFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Ack == nil {
		return gossip.Ack{}, apperr.New(apperr.KindPeer, "malformed ack frame")
	}
	return *frame.Ack, nil
}

// Ack2 implements gossip.Transport: it sends the closing Ack2 and does
// not wait for a reply, matching the three-message Syn/Ack/Ack2
// exchange of spec.md §4.4.
func (p *PeerTransport) Ack2(ctx context.Context, addr string, ack2 gossip.Ack2) error {
	conn, err := p.conn(ctx, addr)
	if err != nil {
		return err
	}
	body, err := json.Marshal(gossipFrame{Kind: gossipFrameAck2, Ack2: &ack2})
	if err != nil {
		return apperr.Wrap(apperr.KindPeer, err, "marshal ack2")
	}
	if err := writeFrame(conn, discriminatorGossipMessage, body); err != nil {
		p.drop(addr)
		return apperr.Wrapf(apperr.KindPeer, err, "write ack2 to %q", addr)
	}
	return nil
}

func (p *PeerTransport) call(ctx context.Context, addr string, kind gossip.NodeMessageKind, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindPeer, err, "marshal payload")
	}
	resp, err := p.roundTrip(ctx, addr, gossip.NodeMessage{Kind: kind, Payload: body})
	if err != nil {
		return err
	}
	if resp.Kind != kind && resp.Kind != gossip.MsgConfirmation {
		return apperr.Newf(apperr.KindPeer, "peer %q replied with kind %q to a %q request", addr, resp.Kind, kind)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Payload, out)
}

// Insert implements coordinator.PeerClient.
func (p *PeerTransport) Insert(ctx context.Context, addr string, payload coordinator.InsertPayload) error {
	return p.call(ctx, addr, gossip.MsgInsert, payload, nil)
}

// Update implements coordinator.PeerClient.
func (p *PeerTransport) Update(ctx context.Context, addr string, payload coordinator.UpdatePayload) error {
	return p.call(ctx, addr, gossip.MsgUpdate, payload, nil)
}

// Delete implements coordinator.PeerClient.
func (p *PeerTransport) Delete(ctx context.Context, addr string, payload coordinator.DeletePayload) error {
	return p.call(ctx, addr, gossip.MsgDelete, payload, nil)
}

// SelectRows implements coordinator.PeerClient.
func (p *PeerTransport) SelectRows(ctx context.Context, addr string, payload coordinator.SelectRequestPayload) (coordinator.SelectResponsePayload, error) {
	var out coordinator.SelectResponsePayload
	err := p.call(ctx, addr, gossip.MsgSelectRequest, payload, &out)
	return out, err
}

// Checksum implements coordinator.PeerClient.
func (p *PeerTransport) Checksum(ctx context.Context, addr string, payload coordinator.ChecksumRequestPayload) (coordinator.ChecksumResponsePayload, error) {
	var out coordinator.ChecksumResponsePayload
	err := p.call(ctx, addr, gossip.MsgChecksumRequest, payload, &out)
	return out, err
}

// SchemaChange implements coordinator.PeerClient.
func (p *PeerTransport) SchemaChange(ctx context.Context, addr string, payload coordinator.SchemaChangePayload) error {
	return p.call(ctx, addr, gossip.MsgSchemaChange, payload, nil)
}

// RemoveNode implements coordinator.PeerClient.
func (p *PeerTransport) RemoveNode(ctx context.Context, addr string, leaving string) error {
	return p.call(ctx, addr, gossip.MsgRemoveNode, removeNodePayload{Node: leaving}, nil)
}

type removeNodePayload struct {
	Node string `json:"node"`
}
