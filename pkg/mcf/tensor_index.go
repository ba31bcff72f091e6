package mcf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// TensorIndexVersion is the on-disk version of the tensor index section payload.
const TensorIndexVersion uint32 = 1

const (
	tensorIndexHeaderSize = 48
	tensorIndexEntrySize  = 40
)

// TensorIndexHeader describes the on-disk layout of the tensor index section.
// Offsets are relative to the start of the section payload.
type TensorIndexHeader struct {
	Version     uint32
	Flags       uint32
	TensorCount uint32
	DimsCount   uint32 // total number of uint64 dims in the dims table

	EntriesOff  uint64
	DimsOff     uint64
	StringsOff  uint64
	StringsSize uint64
}

const (
	// TensorIndexFlagSortedByName means entries are sorted by raw name bytes
	// ascending, so lookups can binary search.
	TensorIndexFlagSortedByName uint32 = 1 << 0
)

// TensorDType identifies the tensor element encoding.
// Keep these stable forever; add new values only.
type TensorDType uint32

const (
	DTypeUnknown TensorDType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
	DTypeI8
	DTypeU8
	DTypeI16
	DTypeU16
	DTypeI32
	DTypeU32
	DTypeI64
	DTypeU64
)

// Size returns the element size in bytes, or 0 for unknown encodings.
func (d TensorDType) Size() int {
	switch d {
	case DTypeI8, DTypeU8:
		return 1
	case DTypeF16, DTypeBF16, DTypeI16, DTypeU16:
		return 2
	case DTypeF32, DTypeI32, DTypeU32:
		return 4
	case DTypeF64, DTypeI64, DTypeU64:
		return 8
	default:
		return 0
	}
}

func (d TensorDType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeF64:
		return "f64"
	case DTypeI8:
		return "i8"
	case DTypeU8:
		return "u8"
	case DTypeI16:
		return "i16"
	case DTypeU16:
		return "u16"
	case DTypeI32:
		return "i32"
	case DTypeU32:
		return "u32"
	case DTypeI64:
		return "i64"
	case DTypeU64:
		return "u64"
	default:
		return "unknown"
	}
}

// TensorIndexEntry is the on-disk fixed-size record for a tensor.
// Name bytes live in the strings table, shape dims in the dims table.
type TensorIndexEntry struct {
	NameOff uint32
	NameLen uint32

	DType TensorDType
	Rank  uint32

	DimOff uint32 // index into dims table (uint64 elements)

	// DataOff is an absolute container offset, not section-relative,
	// so payloads can be sliced straight out of the mapped bytes.
	DataOff  uint64
	DataSize uint64
}

// TensorIndex is a parsed view over a tensor index section payload.
// It references the raw section bytes, which usually alias the model buffer.
type TensorIndex struct {
	raw []byte
	hdr TensorIndexHeader
}

// TensorIndexRecord is the input to EncodeTensorIndexSection.
type TensorIndexRecord struct {
	Name  string
	DType TensorDType
	Shape []uint64

	DataOff  uint64
	DataSize uint64
}

var errBadTensorIndex = errors.New("mcf: corrupt tensor index section")

// ParseTensorIndexSection validates and returns a view over a tensor index section payload.
func ParseTensorIndexSection(sec []byte) (*TensorIndex, error) {
	if len(sec) < tensorIndexHeaderSize {
		return nil, ErrCorruptFile
	}

	h := TensorIndexHeader{
		Version:     binary.LittleEndian.Uint32(sec[0:4]),
		Flags:       binary.LittleEndian.Uint32(sec[4:8]),
		TensorCount: binary.LittleEndian.Uint32(sec[8:12]),
		DimsCount:   binary.LittleEndian.Uint32(sec[12:16]),
		EntriesOff:  binary.LittleEndian.Uint64(sec[16:24]),
		DimsOff:     binary.LittleEndian.Uint64(sec[24:32]),
		StringsOff:  binary.LittleEndian.Uint64(sec[32:40]),
		StringsSize: binary.LittleEndian.Uint64(sec[40:48]),
	}
	if h.Version != TensorIndexVersion {
		return nil, ErrUnsupportedMinor
	}

	secLen := uint64(len(sec))
	entriesBytes := uint64(h.TensorCount) * tensorIndexEntrySize
	dimsBytes := uint64(h.DimsCount) * 8

	if h.EntriesOff > secLen || h.EntriesOff+entriesBytes > secLen {
		return nil, ErrCorruptFile
	}
	if h.DimsOff > secLen || h.DimsOff+dimsBytes > secLen {
		return nil, ErrCorruptFile
	}
	if h.StringsOff > secLen || h.StringsOff+h.StringsSize > secLen {
		return nil, ErrCorruptFile
	}

	for i := uint32(0); i < h.TensorCount; i++ {
		e, err := readTensorIndexEntry(sec, h.EntriesOff, i)
		if err != nil {
			return nil, ErrCorruptFile
		}
		if uint64(e.NameOff)+uint64(e.NameLen) > h.StringsSize {
			return nil, ErrCorruptFile
		}
		if uint64(e.DimOff)+uint64(e.Rank) > uint64(h.DimsCount) {
			return nil, ErrCorruptFile
		}
	}

	return &TensorIndex{raw: sec, hdr: h}, nil
}

func readTensorIndexEntry(sec []byte, entriesOff uint64, i uint32) (TensorIndexEntry, error) {
	base := entriesOff + uint64(i)*tensorIndexEntrySize
	end := base + tensorIndexEntrySize
	if end > uint64(len(sec)) {
		return TensorIndexEntry{}, errBadTensorIndex
	}
	b := sec[base:end]
	return TensorIndexEntry{
		NameOff:  binary.LittleEndian.Uint32(b[0:4]),
		NameLen:  binary.LittleEndian.Uint32(b[4:8]),
		DType:    TensorDType(binary.LittleEndian.Uint32(b[8:12])),
		Rank:     binary.LittleEndian.Uint32(b[12:16]),
		DimOff:   binary.LittleEndian.Uint32(b[16:20]),
		DataOff:  binary.LittleEndian.Uint64(b[24:32]),
		DataSize: binary.LittleEndian.Uint64(b[32:40]),
	}, nil
}

func (ti *TensorIndex) Count() int {
	if ti == nil {
		return 0
	}
	return int(ti.hdr.TensorCount)
}

func (ti *TensorIndex) Entry(i int) (TensorIndexEntry, error) {
	if i < 0 || i >= int(ti.hdr.TensorCount) {
		return TensorIndexEntry{}, ErrCorruptFile
	}
	return readTensorIndexEntry(ti.raw, ti.hdr.EntriesOff, uint32(i))
}

func (ti *TensorIndex) nameBytes(i int) ([]byte, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	off := ti.hdr.StringsOff + uint64(e.NameOff)
	end := off + uint64(e.NameLen)
	if end > uint64(len(ti.raw)) {
		return nil, ErrCorruptFile
	}
	return ti.raw[off:end], nil
}

func (ti *TensorIndex) Name(i int) (string, error) {
	b, err := ti.nameBytes(i)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (ti *TensorIndex) Shape(i int) ([]uint64, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.Rank)
	for d := range out {
		base := ti.hdr.DimsOff + uint64(e.DimOff+uint32(d))*8
		if base+8 > uint64(len(ti.raw)) {
			return nil, ErrCorruptFile
		}
		out[d] = binary.LittleEndian.Uint64(ti.raw[base : base+8])
	}
	return out, nil
}

// Find returns the entry index for the given tensor name.
// Sorted indexes are binary searched; others are scanned.
func (ti *TensorIndex) Find(name string) (int, bool) {
	if ti == nil {
		return -1, false
	}
	key := []byte(name)
	n := int(ti.hdr.TensorCount)

	if ti.hdr.Flags&TensorIndexFlagSortedByName != 0 {
		i := sort.Search(n, func(i int) bool {
			nb, err := ti.nameBytes(i)
			if err != nil {
				return true
			}
			return bytes.Compare(nb, key) >= 0
		})
		if i < n {
			if nb, err := ti.nameBytes(i); err == nil && bytes.Equal(nb, key) {
				return i, true
			}
		}
		return -1, false
	}

	for i := 0; i < n; i++ {
		nb, err := ti.nameBytes(i)
		if err != nil {
			return -1, false
		}
		if bytes.Equal(nb, key) {
			return i, true
		}
	}
	return -1, false
}

// TensorData returns a zero-copy view of the tensor payload bytes. The entry
// must lie inside the container's tensor data section.
func (ti *TensorIndex) TensorData(f *File, i int) ([]byte, error) {
	if f == nil || f.Data == nil {
		return nil, ErrCorruptFile
	}
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	sec := f.Section(SectionTensorData)
	if sec == nil {
		return nil, ErrCorruptFile
	}
	end := e.DataOff + e.DataSize
	if end < e.DataOff || e.DataOff < sec.Offset || end > sec.End() {
		return nil, ErrCorruptFile
	}
	return f.Data[e.DataOff:end], nil
}

// EncodeTensorIndexSection builds a tensor index section payload (v1).
// Records are sorted by name, and the sorted flag is set.
func EncodeTensorIndexSection(records []TensorIndexRecord) ([]byte, error) {
	recs := make([]TensorIndexRecord, len(records))
	copy(recs, records)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	var (
		dims       []uint64
		stringBlob []byte
		entries    = make([]TensorIndexEntry, 0, len(recs))
	)
	for i, r := range recs {
		if r.Name == "" {
			return nil, errors.New("mcf: tensor name must be non-empty")
		}
		if i > 0 && recs[i-1].Name == r.Name {
			return nil, errors.New("mcf: duplicate tensor name " + r.Name)
		}
		entries = append(entries, TensorIndexEntry{
			NameOff:  uint32(len(stringBlob)),
			NameLen:  uint32(len(r.Name)),
			DType:    r.DType,
			Rank:     uint32(len(r.Shape)),
			DimOff:   uint32(len(dims)),
			DataOff:  r.DataOff,
			DataSize: r.DataSize,
		})
		stringBlob = append(stringBlob, r.Name...)
		dims = append(dims, r.Shape...)
	}

	hdr := TensorIndexHeader{
		Version:     TensorIndexVersion,
		Flags:       TensorIndexFlagSortedByName,
		TensorCount: uint32(len(entries)),
		DimsCount:   uint32(len(dims)),
	}
	// Layout: header | entries | dims | strings
	hdr.EntriesOff = tensorIndexHeaderSize
	hdr.DimsOff = hdr.EntriesOff + tensorIndexEntrySize*uint64(len(entries))
	hdr.StringsOff = hdr.DimsOff + uint64(len(dims))*8
	hdr.StringsSize = uint64(len(stringBlob))

	out := make([]byte, int(hdr.StringsOff+hdr.StringsSize))
	binary.LittleEndian.PutUint32(out[0:4], hdr.Version)
	binary.LittleEndian.PutUint32(out[4:8], hdr.Flags)
	binary.LittleEndian.PutUint32(out[8:12], hdr.TensorCount)
	binary.LittleEndian.PutUint32(out[12:16], hdr.DimsCount)
	binary.LittleEndian.PutUint64(out[16:24], hdr.EntriesOff)
	binary.LittleEndian.PutUint64(out[24:32], hdr.DimsOff)
	binary.LittleEndian.PutUint64(out[32:40], hdr.StringsOff)
	binary.LittleEndian.PutUint64(out[40:48], hdr.StringsSize)

	ep := int(hdr.EntriesOff)
	for _, e := range entries {
		binary.LittleEndian.PutUint32(out[ep+0:ep+4], e.NameOff)
		binary.LittleEndian.PutUint32(out[ep+4:ep+8], e.NameLen)
		binary.LittleEndian.PutUint32(out[ep+8:ep+12], uint32(e.DType))
		binary.LittleEndian.PutUint32(out[ep+12:ep+16], e.Rank)
		binary.LittleEndian.PutUint32(out[ep+16:ep+20], e.DimOff)
		// ep+20..ep+24 reserved
		binary.LittleEndian.PutUint64(out[ep+24:ep+32], e.DataOff)
		binary.LittleEndian.PutUint64(out[ep+32:ep+40], e.DataSize)
		ep += tensorIndexEntrySize
	}

	dp := int(hdr.DimsOff)
	for _, d := range dims {
		binary.LittleEndian.PutUint64(out[dp:dp+8], d)
		dp += 8
	}
	copy(out[hdr.StringsOff:], stringBlob)
	return out, nil
}
