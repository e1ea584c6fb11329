// Package sd0 implements the segmented compressed stream format used for
// every blob on the patch server: a five-byte magic followed by chunks of
// u32 little-endian length plus an independent zlib stream. Chunks hold at
// most 256 KiB of uncompressed data.
package sd0

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ChunkSize is the maximum uncompressed payload of one segment.
const ChunkSize = 1 << 18

var magic = []byte{'s', 'd', '0', 0x01, 0xff}

// Reader decompresses a segmented stream.
type Reader struct {
	src   io.Reader
	chunk io.ReadCloser
}

// NewReader validates the magic and returns a reader over the decompressed
// payload.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read segmented stream magic: %w", err)
	}
	if !bytes.Equal(header, magic) {
		return nil, fmt.Errorf("bad segmented stream magic %q", header)
	}
	return &Reader{src: r}, nil
}

func (r *Reader) next() error {
	var size uint32
	err := binary.Read(r.src, binary.LittleEndian, &size)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("failed to read segment header: %w", err)
	}
	zr, err := zlib.NewReader(io.LimitReader(r.src, int64(size)))
	if err != nil {
		return fmt.Errorf("failed to open segment: %w", err)
	}
	r.chunk = zr
	return nil
}

func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.chunk == nil {
			if err := r.next(); err != nil {
				return 0, err
			}
		}
		n, err := r.chunk.Read(p)
		if err == io.EOF {
			if cerr := r.chunk.Close(); cerr != nil {
				return n, cerr
			}
			r.chunk = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Writer produces a segmented stream. The magic is written lazily with the
// first segment; Close flushes the final partial segment and must be called.
type Writer struct {
	dst        io.Writer
	buf        []byte
	wroteMagic bool
}

// NewWriter returns a writer that compresses into w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		dst: w,
		buf: make([]byte, 0, ChunkSize),
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := ChunkSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == ChunkSize {
			if err := w.flush(); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

func (w *Writer) flush() error {
	if !w.wroteMagic {
		if _, err := w.dst.Write(magic); err != nil {
			return err
		}
		w.wroteMagic = true
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(w.buf); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if err := binary.Write(w.dst, binary.LittleEndian, uint32(compressed.Len())); err != nil {
		return err
	}
	if _, err := w.dst.Write(compressed.Bytes()); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close writes any buffered data as a final segment. Empty input still
// produces the magic so the stream round-trips.
func (w *Writer) Close() error {
	if len(w.buf) > 0 || !w.wroteMagic {
		return w.flush()
	}
	return nil
}
