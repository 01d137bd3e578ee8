package protocol

import (
	"bytes"
	"errors"
)

// DefaultBufferSize is the per-connection input capacity.
const DefaultBufferSize = 4096

var ErrOverflow = errors.New("input buffer overflow")

// Framer accumulates raw reads for one connection and cuts them into
// newline-terminated lines. The buffer holds at most size-1 bytes; a read
// that would fill it is fatal for the connection.
type Framer struct {
	buf  []byte
	size int
}

func NewFramer(size int) *Framer {
	if size <= 1 {
		size = DefaultBufferSize
	}
	return &Framer{
		buf:  make([]byte, 0, size),
		size: size,
	}
}

// Append buffers data. It returns ErrOverflow when the pending bytes plus
// data reach the capacity, in which case the buffer is left unchanged.
func (f *Framer) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(f.buf)+len(data) >= f.size {
		return ErrOverflow
	}

	f.buf = append(f.buf, data...)
	return nil
}

// PopLine removes and returns the first complete line without its newline.
// The returned string is owned by the caller.
func (f *Framer) PopLine() (string, bool) {
	i := bytes.IndexByte(f.buf, '\n')
	if i < 0 {
		return "", false
	}

	line := string(f.buf[:i])
	n := copy(f.buf, f.buf[i+1:])
	f.buf = f.buf[:n]
	return line, true
}

// Pending reports the number of buffered, unconsumed bytes.
func (f *Framer) Pending() int {
	return len(f.buf)
}
