// Package bio implements the little-endian byte and bit primitives shared by
// the CAT binary decoder and encoder: typed integer reads over an
// io.ReaderAt, typed writes into an in-memory append buffer with
// absolute-offset back-patching, NUL-terminated string reads, and bit-field
// extraction for the track parameter header.
package bio

import (
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/xerrors"
)

// ByteOrder selects the wire byte order. CAT files are little-endian by
// convention; the type exists so tests can exercise the reader
// against synthetic big-endian fixtures without duplicating the package.
type ByteOrder = binary.ByteOrder

// LittleEndian is the default and only byte order the original host engine
// produces.
var LittleEndian = binary.LittleEndian

// Reader provides random-access typed reads over an io.ReaderAt, tracking a
// current position like a file cursor so callers can read sequentially
// without juggling offsets by hand.
type Reader struct {
	r     io.ReaderAt
	order ByteOrder
	pos   int64
}

// NewReader returns a Reader positioned at offset 0 using little-endian byte
// order.
func NewReader(r io.ReaderAt) *Reader {
	return &Reader{r: r, order: LittleEndian}
}

// Pos returns the current read cursor.
func (r *Reader) Pos() int64 { return r.pos }

// Seek moves the read cursor to an absolute offset.
func (r *Reader) Seek(off int64) { r.pos = off }

func (r *Reader) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.r.ReadAt(buf, r.pos); err != nil {
		return nil, xerrors.Errorf("reading %d bytes at %#x: %w", n, r.pos, err)
	}
	r.pos += int64(n)
	return buf, nil
}

// U8 reads one unsigned byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads an unsigned 16-bit integer.
func (r *Reader) U16() (uint16, error) {
	b, err := r.read(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// U32 reads an unsigned 32-bit integer.
func (r *Reader) U32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// I32 reads a signed 32-bit integer.
func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

// F32 reads an IEEE-754 32-bit float.
func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	return r.read(n)
}

// ReadString reads the run of bytes up to (and consuming) a NUL terminator,
// An EOF before the terminator is a format error.
func (r *Reader) ReadString() (string, error) {
	var buf []byte
	for {
		b, err := r.read(1)
		if err != nil {
			return "", xerrors.Errorf("reading NUL-terminated string: %w", err)
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}

// Writer accumulates bytes written sequentially while remembering the
// current length so that encode.go can later seek back (via PutU32At or
// PutU16At) and
// patch a previously-reserved slot, the central idiom of the two-pass
// fix-up discipline the encoder is built on.
type Writer struct {
	buf   []byte
	order ByteOrder
}

// NewWriter returns an empty Writer using little-endian byte order.
func NewWriter() *Writer {
	return &Writer{order: LittleEndian}
}

// Len returns the number of bytes written so far; this doubles as "current
// position" since the Writer never seeks, only appends and back-patches.
func (w *Writer) Len() int64 { return int64(len(w.buf)) }

// Bytes returns the accumulated buffer. The caller must not retain it across
// further writes.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) grow(n int) []byte {
	start := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return w.buf[start : start+n]
}

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.grow(1)[0] = v }

// U16 appends an unsigned 16-bit integer.
func (w *Writer) U16(v uint16) { w.order.PutUint16(w.grow(2), v) }

// U32 appends an unsigned 32-bit integer.
func (w *Writer) U32(v uint32) { w.order.PutUint32(w.grow(4), v) }

// I32 appends a signed 32-bit integer.
func (w *Writer) I32(v int32) { w.U32(uint32(v)) }

// F32 appends an IEEE-754 32-bit float.
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// Raw appends raw bytes verbatim.
func (w *Writer) Raw(b []byte) { copy(w.grow(len(b)), b) }

// CString appends s followed by a NUL terminator.
func (w *Writer) CString(s string) {
	w.Raw([]byte(s))
	w.U8(0)
}

// PutU32At overwrites 4 bytes already written at an absolute offset, the
// back-patch primitive used by every sleeper resolution pass.
func (w *Writer) PutU32At(off int64, v uint32) {
	w.order.PutUint32(w.buf[off:off+4], v)
}

// PutU16At overwrites 2 bytes already written at an absolute offset, used
// to back-patch a track's opti_offset once its donor's position is known.
func (w *Writer) PutU16At(off int64, v uint16) {
	w.order.PutUint16(w.buf[off:off+2], v)
}

// PadTo appends zero bytes until Len() is a multiple of boundary.
func (w *Writer) PadTo(boundary int64) {
	if rem := w.Len() % boundary; rem != 0 {
		w.grow(int(boundary - rem))
	}
}

// GetBits extracts the half-open bit range [start, end) of the low bits of
// v. Used for the track parameter header's more/unk/size/id
// fields.
func GetBits(v uint32, start, end uint) uint32 {
	width := end - start
	mask := uint32(1)<<width - 1
	return (v >> start) & mask
}
