package mcf

import (
	"errors"
	"io"
)

// Buffer is an in-memory io.WriteSeeker, letting a Writer produce a
// container without touching the filesystem.
type Buffer struct {
	buf []byte
	pos int
}

func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, max(end, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	copy(b.buf[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("mcf: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("mcf: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

// Truncate shrinks or zero-extends the buffer to size bytes.
func (b *Buffer) Truncate(size int64) error {
	if size < 0 {
		return errors.New("mcf: negative size")
	}
	n := int(size)
	if n <= len(b.buf) {
		b.buf = b.buf[:n]
		return nil
	}
	b.buf = append(b.buf, make([]byte, n-len(b.buf))...)
	return nil
}

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}
