package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/rs/zerolog"

	"github.com/dreamware/ringdb/internal/coordinator"
	"github.com/dreamware/ringdb/internal/gossip"
)

// servePeerConn handles one inbound connection on the internal port:
// a blocking read loop that decodes each discriminator frame and
// dispatches it to the gossiper (0x02) or the coordinator (0x01),
// writing the reply back on the same connection. One goroutine per
// peer connection, matching spec.md §5's dedicated-thread-per-connection
// model; there is no separate writer goroutine here because every
// peer exchange on this side is a synchronous request/reply, the same
// as in the client session.
func servePeerConn(ctx context.Context, conn net.Conn, gos *gossip.Gossiper, coord *coordinator.Coordinator, log zerolog.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		disc, payload, err := readFrame(r)
		if err != nil {
			return
		}
		switch disc {
		case discriminatorGossipMessage:
			handleGossipFrame(conn, payload, gos, log)
		case discriminatorNodeMessage:
			handleNodeFrame(ctx, conn, payload, coord, log)
		default:
			log.Warn().Uint8("discriminator", disc).Msg("unknown peer frame discriminator")
			return
		}
	}
}

func handleGossipFrame(conn net.Conn, payload []byte, gos *gossip.Gossiper, log zerolog.Logger) {
	var frame gossipFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		log.Warn().Err(err).Msg("malformed gossip frame")
		return
	}
	switch frame.Kind {
	case gossipFrameSyn:
		if frame.Syn == nil {
			return
		}
		ack := gos.HandleSyn(*frame.Syn)
		body, err := json.Marshal(gossipFrame{Kind: gossipFrameAck, Ack: &ack})
		if err != nil {
			log.Warn().Err(err).Msg("marshal ack")
			return
		}
		if err := writeFrame(conn, discriminatorGossipMessage, body); err != nil {
			log.Warn().Err(err).Msg("write ack")
		}
	case gossipFrameAck2:
		if frame.Ack2 == nil {
			return
		}
		gos.HandleAck2(*frame.Ack2)
	default:
		log.Warn().Str("kind", string(frame.Kind)).Msg("unknown gossip frame kind")
	}
}

func handleNodeFrame(ctx context.Context, conn net.Conn, payload []byte, coord *coordinator.Coordinator, log zerolog.Logger) {
	var msg gossip.NodeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Msg("malformed node message")
		return
	}
	resp, err := coord.HandlePeerMessage(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("peer message handling failed")
		resp = gossip.NodeMessage{Kind: gossip.MsgConfirmation}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		log.Warn().Err(err).Msg("marshal node message response")
		return
	}
	if err := writeFrame(conn, discriminatorNodeMessage, body); err != nil {
		log.Warn().Err(err).Msg("write node message response")
	}
}
