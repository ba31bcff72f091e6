package mcf

import (
	"errors"
	"io"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

// Writer builds an MCF container in a streaming fashion.
//
// The writer reserves space for the header up-front and patches it during Finalise.
// Use BeginSection for large payloads (eg tensor data) to avoid buffering in memory.
type Writer struct {
	ws       io.WriteSeeker
	sections []MCFSection
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool

	flags  uint64
	padBuf []byte

	mu sync.Mutex
}

// SectionWriter streams a section payload directly to the underlying target.
//
// A SectionWriter must be ended (End or Close) before any other section can be written.
// Padding added via Align counts towards the section's recorded Size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

type truncater interface {
	Truncate(size int64) error
}

type syncer interface {
	Sync() error
}

// NewWriter creates a new MCF writer targeting ws, which is expected to be
// positioned at offset zero. Targets that can be truncated (such as *os.File)
// are emptied first.
func NewWriter(ws io.WriteSeeker) (*Writer, error) {
	if ws == nil {
		return nil, errors.New("mcf: nil target")
	}
	if t, ok := ws.(truncater); ok {
		if err := t.Truncate(0); err != nil {
			return nil, err
		}
	}
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		ws:     ws,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(mcfHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(mcfAlign); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection writes a section payload and records it in the section table.
// Sections may be written in any order. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkWritable(typ); err != nil {
		return err
	}
	if err := w.alignTo(mcfAlign); err != nil {
		return err
	}
	offset, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := writeFull(w.ws, data); err != nil {
		return err
	}

	w.sections = append(w.sections, MCFSection{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("mcf: writer already finalised")
	}
	w.flags |= flags
	return nil
}

// BeginSection begins streaming a section payload.
// The returned SectionWriter must be ended before writing any other section.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkWritable(typ); err != nil {
		return nil, err
	}
	if err := w.alignTo(mcfAlign); err != nil {
		return nil, err
	}
	start, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	// Once bytes are written for a section type there is no undo.
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (w *Writer) checkWritable(typ SectionType) error {
	if w.closed {
		return errors.New("mcf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("mcf: section write in progress")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("mcf: duplicate section type")
	}
	return nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errors.New("mcf: section writer ended")
	}
	if sw.w.open != sw {
		return errors.New("mcf: section writer not active")
	}
	return nil
}

// CurrentAbsOffset returns the current absolute offset in the container.
func (sw *SectionWriter) CurrentAbsOffset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	pos, err := sw.w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align writes zero padding until the position is aligned to n bytes.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

// Write streams p into the section.
func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	if err := writeFull(sw.w.ws, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End finalises the section and records it in the section directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errors.New("mcf: invalid write position")
	}

	sw.w.sections = append(sw.w.sections, MCFSection{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is an alias for End, allowing use with defer.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("mcf: writer already finalised")
	}
	if w.open != nil {
		return errors.New("mcf: section write in progress")
	}
	if len(w.sections) == 0 {
		return errors.New("mcf: no sections written")
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(mcfAlign); err != nil {
		return err
	}
	dirOffset, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [mcfSectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("mcf: encode section failed")
		}
		if err := writeFull(w.ws, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if t, ok := w.ws.(truncater); ok {
		if err := t.Truncate(fileSize); err != nil {
			return err
		}
	}

	var header MCFHeader
	copy(header.Magic[:], MagicMCF)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = mcfHeaderSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(dirOffset)
	header.FileSize = uint64(fileSize)
	header.Flags = w.flags

	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [mcfHeaderSize]byte
	if !encodeHeader(hdrBuf[:], header) {
		return errors.New("mcf: encode header failed")
	}
	if err := writeFull(w.ws, hdrBuf[:]); err != nil {
		return err
	}
	if s, ok := w.ws.(syncer); ok {
		return s.Sync()
	}
	return nil
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		toWrite := min(n, len(w.padBuf))
		if err := writeFull(w.ws, w.padBuf[:toWrite]); err != nil {
			return err
		}
		n -= toWrite
	}
	return nil
}
