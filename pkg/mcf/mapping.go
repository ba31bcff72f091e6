package mcf

import (
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a read-only view of a whole file, backed by mmap when the
// platform allows it and by a heap copy otherwise.
type Mapping struct {
	Data   []byte
	mapped bool
}

// MapFile maps path read-only. Errors from opening the file are returned
// unwrapped so callers can test them with errors.Is(err, fs.ErrNotExist).
func MapFile(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size == 0 {
		return &Mapping{Data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &Mapping{Data: data, mapped: true}, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return &Mapping{Data: data}, nil
}

// Mapped reports whether Data is an mmap region.
func (m *Mapping) Mapped() bool { return m != nil && m.mapped }

// Close releases the mapping. Data must not be used afterwards. Close is
// idempotent.
func (m *Mapping) Close() error {
	if m == nil || m.Data == nil {
		return nil
	}
	data := m.Data
	m.Data = nil
	if m.mapped {
		m.mapped = false
		return unix.Munmap(data)
	}
	return nil
}
