package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read would run past the end of the buffer.
var ErrShortBuffer = errors.New("packet: short buffer")

// Reader is a cursor over a received datagram.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Buffer returns the whole underlying buffer, independent of the cursor.
func (r *Reader) Buffer() []byte { return r.buf }

func (r *Reader) Len() int { return len(r.buf) }

func (r *Reader) Position() int { return r.pos }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// SetPosition moves the cursor. Positions equal to Len are valid and mean
// "fully consumed".
func (r *Reader) SetPosition(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("set position %d of %d: %w", pos, len(r.buf), ErrShortBuffer)
	}
	r.pos = pos
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadBytes returns the next n bytes. The slice aliases the buffer; callers
// that keep it must copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("read %d bytes at %d of %d: %w", n, r.pos, len(r.buf), ErrShortBuffer)
	}
	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}
