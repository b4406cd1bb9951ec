package wire

import (
	"io"

	"github.com/dreamware/ringdb/internal/apperr"
)

// ReadFrame reads exactly one frame (header then body) from r, blocking
// until the full frame arrives or the connection errs. It is the
// counterpart to Encode for a stream-oriented client connection.
func ReadFrame(r io.Reader, comp Compressor) (*Frame, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	total, err := ReadFrameLen(header)
	if err != nil {
		return nil, err
	}
	full := make([]byte, total)
	copy(full, header)
	if total > headerLen {
		if _, err := io.ReadFull(r, full[headerLen:]); err != nil {
			return nil, err
		}
	}
	return Decode(full, comp)
}

// WriteFrame encodes f and writes it to w in a single call, matching the
// per-connection single-writer-goroutine ordering guarantee of spec.md §5.
func WriteFrame(w io.Writer, f *Frame, comp Compressor) error {
	b, err := Encode(f, comp)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return apperr.Wrap(apperr.KindPeer, err, "write frame")
	}
	return nil
}
