package coordinator

import (
	"context"
	"encoding/json"

	"github.com/dreamware/ringdb/internal/apperr"
	"github.com/dreamware/ringdb/internal/gossip"
)

// HandlePeerMessage applies one inbound peer-wire NodeMessage addressed
// to this node and returns the response to send back, mirroring the
// Handle-prefixed dispatch internal/gossip.Gossiper already uses for
// its own Syn/Ack2 messages. internal/server owns the TCP framing;
// this is the single entry point it calls once a frame has been
// decoded into a NodeMessage.
func (c *Coordinator) HandlePeerMessage(ctx context.Context, msg gossip.NodeMessage) (gossip.NodeMessage, error) {
	switch msg.Kind {
	case gossip.MsgInsert:
		var p InsertPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode insert payload")
		}
		if err := c.applyInsertLocally(p.Table, p.Keyspace, p.Values, p.Token, p.Timestamp); err != nil {
			return gossip.NodeMessage{}, err
		}
		return confirmation(), nil

	case gossip.MsgUpdate:
		var p UpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode update payload")
		}
		t, err := c.ensureTable(p.Keyspace, p.Table)
		if err != nil {
			return gossip.NodeMessage{}, err
		}
		if err := t.Update(p.Where, p.Assignments); err != nil {
			return gossip.NodeMessage{}, err
		}
		return confirmation(), nil

	case gossip.MsgDelete:
		var p DeletePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode delete payload")
		}
		t, err := c.ensureTable(p.Keyspace, p.Table)
		if err != nil {
			return gossip.NodeMessage{}, err
		}
		if err := t.Delete(p.Where); err != nil {
			return gossip.NodeMessage{}, err
		}
		return confirmation(), nil

	case gossip.MsgSelectRequest:
		var p SelectRequestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode select request")
		}
		rows, err := c.selectRowsFrom(ctx, p.Keyspace, p.Table, c.self, p.Where)
		if err != nil {
			return gossip.NodeMessage{}, err
		}
		payload, err := json.Marshal(SelectResponsePayload{Rows: rows})
		if err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "encode select response")
		}
		return gossip.NodeMessage{Kind: gossip.MsgSelectResponse, Payload: payload}, nil

	case gossip.MsgChecksumRequest:
		var p ChecksumRequestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode checksum request")
		}
		resp, err := c.checksumFrom(ctx, p.Keyspace, p.Table, c.self, p.Where)
		if err != nil {
			return gossip.NodeMessage{}, err
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "encode checksum response")
		}
		return gossip.NodeMessage{Kind: gossip.MsgChecksumResponse, Payload: payload}, nil

	case gossip.MsgSchemaChange:
		var p SchemaChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode schema change")
		}
		switch p.Kind {
		case "create_keyspace":
			if err := c.sch.CreateKeyspace(p.Keyspace.Name, p.Keyspace.ReplicationFactor); err != nil {
				return gossip.NodeMessage{}, err
			}
		case "create_table":
			if p.Table == nil {
				return gossip.NodeMessage{}, apperr.New(apperr.KindSchema, "create_table schema change missing table definition")
			}
			if err := c.sch.CreateTable(p.Table.Keyspace, p.Table.Def); err != nil {
				return gossip.NodeMessage{}, err
			}
		default:
			return gossip.NodeMessage{}, apperr.Newf(apperr.KindSchema, "unknown schema change kind %q", p.Kind)
		}
		return confirmation(), nil

	case gossip.MsgRemoveNode:
		var p removeNodeMessage
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return gossip.NodeMessage{}, apperr.Wrap(apperr.KindCodec, err, "decode remove-node payload")
		}
		c.ring.RemoveNode(p.Node)
		if c.gos != nil {
			c.gos.RemoveNode(p.Node)
		}
		return confirmation(), nil

	default:
		return gossip.NodeMessage{}, apperr.Newf(apperr.KindPeer, "unsupported node message kind %q", msg.Kind)
	}
}

type removeNodeMessage struct {
	Node string `json:"node"`
}

func confirmation() gossip.NodeMessage {
	return gossip.NodeMessage{Kind: gossip.MsgConfirmation}
}
