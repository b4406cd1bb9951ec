package gossip

import (
	"encoding/binary"
	"encoding/json"

	"github.com/dreamware/ringdb/internal/apperr"
)

// FrameKind is the 1-byte discriminator prefixing every peer-to-peer
// message, per spec.md §4.4's framing rule.
type FrameKind byte

const (
	FrameNodeMessage   FrameKind = 0x01
	FrameGossipMessage FrameKind = 0x02
)

// frameHeaderLen is the discriminator byte plus the 8-byte BE length.
const frameHeaderLen = 1 + 8

// EncodeFrame marshals payload as JSON and prefixes it with kind and an
// 8-byte big-endian length, matching the original's peer stream format.
func EncodeFrame(kind FrameKind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPeer, err, "marshal peer frame payload")
	}
	out := make([]byte, frameHeaderLen+len(body))
	out[0] = byte(kind)
	binary.BigEndian.PutUint64(out[1:9], uint64(len(body)))
	copy(out[9:], body)
	return out, nil
}

// DecodeFrameHeader reads the discriminator and body length from the
// fixed 9-byte prefix, letting a stream reader size its next read.
func DecodeFrameHeader(header []byte) (kind FrameKind, bodyLen int, err error) {
	if len(header) < frameHeaderLen {
		return 0, 0, apperr.New(apperr.KindPeer, "short peer frame header")
	}
	return FrameKind(header[0]), int(binary.BigEndian.Uint64(header[1:9])), nil
}
