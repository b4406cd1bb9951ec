// Package wire implements ringdb's client wire protocol: a framed binary
// request/response codec with an optional compressed body, modeled on the
// Cassandra native protocol's header and typed-primitive layout (see
// datastax/go-cassandra-native-protocol in the retrieval pack for the
// reference wire format this codec adapts).
package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/dreamware/ringdb/internal/apperr"
)

// maxShortBytes bounds a "string" primitive (short-prefixed UTF-8).
const maxShortBytes = 65535

// maxLongBytes bounds a "long string" / "bytes" primitive (int32-prefixed).
const maxLongBytes = 1<<31 - 1

// buf is a small append-only byte builder used by the typed-primitive
// writers below. It never returns an error: encoding failures for these
// primitives are caller bugs (e.g. a string exceeding uint16 range) and are
// reported as panics converted to apperr.Error by the top-level Encode.
type buf struct {
	b []byte
}

func (w *buf) writeByte(v byte) { w.b = append(w.b, v) }

func (w *buf) writeShort(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *buf) writeInt(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	w.b = append(w.b, tmp[:]...)
}

func (w *buf) writeLong(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	w.b = append(w.b, tmp[:]...)
}

func (w *buf) writeRaw(p []byte) { w.b = append(w.b, p...) }

func (w *buf) writeString(s string) {
	if len(s) > maxShortBytes {
		panic(fmt.Sprintf("wire: string too long: %d bytes", len(s)))
	}
	w.writeShort(uint16(len(s)))
	w.writeRaw([]byte(s))
}

func (w *buf) writeLongString(s string) {
	if len(s) > maxLongBytes {
		panic(fmt.Sprintf("wire: long string too long: %d bytes", len(s)))
	}
	w.writeInt(int32(len(s)))
	w.writeRaw([]byte(s))
}

// writeBytes encodes the "bytes" primitive: int32 length prefix, -1 for
// null, -2 for not-set, followed by that many raw bytes.
func (w *buf) writeBytes(b []byte, notSet bool) {
	switch {
	case notSet:
		w.writeInt(-2)
	case b == nil:
		w.writeInt(-1)
	default:
		w.writeInt(int32(len(b)))
		w.writeRaw(b)
	}
}

func (w *buf) writeShortBytes(b []byte) {
	w.writeShort(uint16(len(b)))
	w.writeRaw(b)
}

func (w *buf) writeInet(addr string, port int32) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	var v4 net.IP
	if v4 = ip.To4(); v4 != nil {
		w.writeByte(4)
		w.writeRaw(v4)
	} else {
		w.writeByte(16)
		w.writeRaw(ip.To16())
	}
	w.writeInt(port)
}

func (w *buf) writeConsistency(c Consistency) { w.writeShort(uint16(c)) }

func (w *buf) writeStringMap(m map[string]string) {
	w.writeShort(uint16(len(m)))
	for k, v := range m {
		w.writeString(k)
		w.writeString(v)
	}
}

func (w *buf) writeStringMultimap(m map[string][]string) {
	w.writeShort(uint16(len(m)))
	for k, vs := range m {
		w.writeString(k)
		w.writeShort(uint16(len(vs)))
		for _, v := range vs {
			w.writeString(v)
		}
	}
}

func (w *buf) writeBytesMap(m map[string][]byte) {
	w.writeShort(uint16(len(m)))
	for k, v := range m {
		w.writeString(k)
		w.writeBytes(v, false)
	}
}

// reader walks a byte slice, decoding typed primitives in order. Every
// method returns apperr.KindCodec on truncation.
type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) need(n int) error {
	if r.pos+n > len(r.b) {
		return apperr.Newf(apperr.KindCodec, "truncated frame body: need %d bytes at offset %d, have %d", n, r.pos, len(r.b))
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) readShort() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) readInt() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return int32(v), nil
}

func (r *reader) readLong() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return int64(v), nil
}

func (r *reader) readRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readShort()
	if err != nil {
		return "", err
	}
	b, err := r.readRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readLongString() (string, error) {
	n, err := r.readInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > maxLongBytes {
		return "", apperr.Newf(apperr.KindCodec, "invalid long string length %d", n)
	}
	b, err := r.readRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// bytesResult distinguishes null ([-1], BytesNull==true) from not-set
// ([-2], BytesNotSet==true) from present, per spec.md §4.1.
type bytesResult struct {
	Value  []byte
	Null   bool
	NotSet bool
}

func (r *reader) readBytes() (bytesResult, error) {
	n, err := r.readInt()
	if err != nil {
		return bytesResult{}, err
	}
	switch {
	case n == -1:
		return bytesResult{Null: true}, nil
	case n == -2:
		return bytesResult{NotSet: true}, nil
	case n < 0:
		return bytesResult{}, apperr.Newf(apperr.KindCodec, "invalid bytes length %d", n)
	case int(n) > maxLongBytes:
		return bytesResult{}, apperr.Newf(apperr.KindCodec, "bytes length %d exceeds bound", n)
	}
	b, err := r.readRaw(int(n))
	if err != nil {
		return bytesResult{}, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return bytesResult{Value: out}, nil
}

func (r *reader) readShortBytes() ([]byte, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	b, err := r.readRaw(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) readInet() (string, int32, error) {
	n, err := r.readByte()
	if err != nil {
		return "", 0, err
	}
	if n != 4 && n != 16 {
		return "", 0, apperr.Newf(apperr.KindCodec, "invalid inet address length %d", n)
	}
	addrBytes, err := r.readRaw(int(n))
	if err != nil {
		return "", 0, err
	}
	ip := net.IP(append([]byte(nil), addrBytes...))
	port, err := r.readInt()
	if err != nil {
		return "", 0, err
	}
	return ip.String(), port, nil
}

func (r *reader) readConsistency() (Consistency, error) {
	v, err := r.readShort()
	if err != nil {
		return 0, err
	}
	return Consistency(v), nil
}

func (r *reader) readStringMap() (map[string]string, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func (r *reader) readStringMultimap() (map[string][]string, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string][]string, n)
	for i := 0; i < int(n); i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		vn, err := r.readShort()
		if err != nil {
			return nil, err
		}
		vs := make([]string, vn)
		for j := range vs {
			vs[j], err = r.readString()
			if err != nil {
				return nil, err
			}
		}
		m[k] = vs
	}
	return m, nil
}

func (r *reader) readBytesMap() (map[string][]byte, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string][]byte, n)
	for i := 0; i < int(n); i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		m[k] = v.Value
	}
	return m, nil
}

func (r *reader) remaining() []byte { return r.b[r.pos:] }
func (r *reader) atEnd() bool       { return r.pos >= len(r.b) }
