package wire

import (
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/dreamware/ringdb/internal/apperr"
)

// Compressor negotiates one of the two body-compression algorithms spec.md
// §4.1 names (Snappy framed, LZ4 block). Decompress is given the expected
// uncompressed length, taken from the 4-byte prefix spec.md requires, as a
// hint/bound for the decoder.
type Compressor interface {
	Name() string
	Compress(p []byte) ([]byte, error)
	Decompress(p []byte, uncompressedLen int) ([]byte, error)
}

// NewCompressor resolves the STARTUP COMPRESSION option value ("snappy" or
// "lz4") to a Compressor, or returns nil (no compression negotiated) for
// any other value.
func NewCompressor(name string) Compressor {
	switch name {
	case "snappy":
		return snappyCompressor{}
	case "lz4":
		return lz4Compressor{}
	default:
		return nil
	}
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return "snappy" }

func (snappyCompressor) Compress(p []byte) ([]byte, error) {
	return snappy.Encode(nil, p), nil
}

func (snappyCompressor) Decompress(p []byte, uncompressedLen int) ([]byte, error) {
	out, err := snappy.Decode(nil, p)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCodec, err, "snappy decode")
	}
	if uncompressedLen >= 0 && len(out) != uncompressedLen {
		return nil, apperr.Newf(apperr.KindCodec, "snappy decoded length %d disagrees with declared %d", len(out), uncompressedLen)
	}
	return out, nil
}

// lz4Compressor implements the LZ4 block format. The 4-byte uncompressed
// length prefix that spec.md §4.1 puts ahead of the compressed body (for
// both algorithms) doubles as the size hint the block decoder needs, since
// LZ4 block frames (unlike LZ4 frame format) do not self-describe their
// output length.
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }

func (lz4Compressor) Compress(p []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(p)))
	var c lz4.Compressor
	n, err := c.CompressBlock(p, buf)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCodec, err, "lz4 compress")
	}
	if n == 0 && len(p) > 0 {
		// Incompressible input: lz4 reports 0 when the compressed form
		// would not be smaller. Store the raw bytes; Decompress handles
		// the case via the declared length matching the stored length.
		return p, nil
	}
	return buf[:n], nil
}

func (lz4Compressor) Decompress(p []byte, uncompressedLen int) ([]byte, error) {
	if uncompressedLen < 0 {
		return nil, apperr.New(apperr.KindCodec, "lz4 decode requires a known uncompressed length")
	}
	if len(p) == uncompressedLen {
		// Stored-raw fallback taken in Compress.
		out := make([]byte, uncompressedLen)
		copy(out, p)
		return out, nil
	}
	out := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(p, out)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCodec, err, "lz4 decompress")
	}
	if n != uncompressedLen {
		return nil, apperr.Newf(apperr.KindCodec, "lz4 decoded length %d disagrees with declared %d", n, uncompressedLen)
	}
	return out, nil
}
