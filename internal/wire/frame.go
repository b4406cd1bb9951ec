package wire

import (
	"github.com/dreamware/ringdb/internal/apperr"
)

// Version identifies the direction of a Frame, per spec.md §3.
type Version byte

const (
	VersionRequest  Version = 0x05
	VersionResponse Version = 0x85
)

// Flags is the header's flags bitmap.
type Flags byte

const (
	FlagCompression Flags = 0x01
	FlagTracing     Flags = 0x02
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Opcode identifies the typed body that follows the header, per spec.md
// §4.1's opcode table.
type Opcode byte

const (
	OpError        Opcode = 0x00
	OpStartUp      Opcode = 0x01
	OpReady        Opcode = 0x02
	OpAuthenticate Opcode = 0x03
	OpQuery        Opcode = 0x07
	OpResult       Opcode = 0x08
	OpAuthResponse Opcode = 0x0F
	OpAuthSuccess  Opcode = 0x10
)

// ResultKind is the sub-tag of a Result body.
type ResultKind int32

const (
	ResultVoid         ResultKind = 1
	ResultRows         ResultKind = 2
	ResultSetKeyspace  ResultKind = 3
	ResultSchemaChange ResultKind = 5
)

// Consistency enumerates the full Cassandra v5 consistency-level space.
// Only ONE and QUORUM carry implemented coordinator semantics (spec.md
// §6); the rest decode/encode correctly but are treated as QUORUM by the
// coordinator (see internal/coordinator.resolveConsistency).
type Consistency uint16

const (
	ConsistencyAny         Consistency = 0x0000
	ConsistencyOne         Consistency = 0x0001
	ConsistencyTwo         Consistency = 0x0002
	ConsistencyThree       Consistency = 0x0003
	ConsistencyQuorum      Consistency = 0x0004
	ConsistencyAll         Consistency = 0x0005
	ConsistencyLocalQuorum Consistency = 0x0006
	ConsistencyEachQuorum  Consistency = 0x0007
	ConsistencySerial      Consistency = 0x0008
	ConsistencyLocalSerial Consistency = 0x0009
	ConsistencyLocalOne    Consistency = 0x000A
)

// headerLen is the fixed 9-byte frame header: version(1) flags(1)
// stream(2) opcode(1) length(4).
const headerLen = 9

// Frame is a decoded request or response: header fields plus the raw,
// decompressed body bytes. Body interpretation (StartUp options, a Query
// string, a Result payload, ...) is opcode-specific and lives in body.go.
type Frame struct {
	Body     []byte
	Version  Version
	Flags    Flags
	StreamID int16
	Opcode   Opcode
}

// NewFrame builds a Frame from its typed body bytes, leaving Flags to the
// caller (e.g. Encode sets FlagCompression when a Compressor is supplied).
func NewFrame(version Version, streamID int16, opcode Opcode, body []byte) *Frame {
	return &Frame{Version: version, StreamID: streamID, Opcode: opcode, Body: body}
}

// Encode serializes f into wire bytes. When comp is non-nil, the body is
// compressed and FlagCompression is set in the emitted header, per spec.md
// §4.1: "the body is wrapped as [uncompressed-length:4B BE][compressed
// bytes]".
func Encode(f *Frame, comp Compressor) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.KindCodec, "encode panic: %v", r)
		}
	}()

	body := f.Body
	flags := f.Flags
	if comp != nil && len(body) > 0 {
		compressed, cerr := comp.Compress(body)
		if cerr != nil {
			return nil, apperr.Wrap(apperr.KindCodec, cerr, "compress body")
		}
		w := &buf{}
		w.writeInt(int32(len(body)))
		w.writeRaw(compressed)
		body = w.b
		flags |= FlagCompression
	}

	header := make([]byte, headerLen)
	header[0] = byte(f.Version)
	header[1] = byte(flags)
	header[2] = byte(f.StreamID >> 8)
	header[3] = byte(f.StreamID)
	header[4] = byte(f.Opcode)
	bodyLen := uint32(len(body))
	header[5] = byte(bodyLen >> 24)
	header[6] = byte(bodyLen >> 16)
	header[7] = byte(bodyLen >> 8)
	header[8] = byte(bodyLen)

	out = make([]byte, 0, headerLen+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out, nil
}

// Decode parses a complete frame (header + body) from b. comp must match
// whatever Compressor the peer negotiated; it is consulted only when the
// header's compression flag is set.
func Decode(b []byte, comp Compressor) (*Frame, error) {
	if len(b) < headerLen {
		return nil, apperr.Newf(apperr.KindCodec, "short frame: %d bytes", len(b))
	}
	f := &Frame{
		Version:  Version(b[0]),
		Flags:    Flags(b[1]),
		StreamID: int16(uint16(b[2])<<8 | uint16(b[3])),
		Opcode:   Opcode(b[4]),
	}
	bodyLen := uint32(b[5])<<24 | uint32(b[6])<<16 | uint32(b[7])<<8 | uint32(b[8])
	if int(bodyLen) != len(b)-headerLen {
		return nil, apperr.Newf(apperr.KindCodec, "declared body length %d disagrees with actual %d", bodyLen, len(b)-headerLen)
	}
	body := b[headerLen:]

	if f.Flags.has(FlagCompression) && len(body) > 0 {
		if comp == nil {
			return nil, apperr.New(apperr.KindCodec, "compressed frame but no compressor negotiated")
		}
		r := newReader(body)
		uncompressedLen, err := r.readInt()
		if err != nil {
			return nil, err
		}
		decompressed, err := comp.Decompress(r.remaining(), int(uncompressedLen))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindCodec, err, "decompress body")
		}
		if len(decompressed) != int(uncompressedLen) {
			return nil, apperr.Newf(apperr.KindCodec, "decompressed length %d disagrees with declared %d", len(decompressed), uncompressedLen)
		}
		body = decompressed
	}
	f.Body = body
	return f, nil
}

// ReadFrameLen reads just the header from a 9-byte prefix and reports the
// total on-wire length (header + body), so a stream reader can size its
// next read without re-parsing the body.
func ReadFrameLen(header []byte) (total int, err error) {
	if len(header) < headerLen {
		return 0, apperr.New(apperr.KindCodec, "short header")
	}
	bodyLen := uint32(header[5])<<24 | uint32(header[6])<<16 | uint32(header[7])<<8 | uint32(header[8])
	return headerLen + int(bodyLen), nil
}
