// Package mcf implements the Model Container File format.
//
// An MCF file is a single, memory-mappable container holding a serialized
// network: the graph description, an index of constant tensors and the
// constant tensor payloads. It describes structure and data only and never
// implies runtime behaviour.
package mcf

// MCF global constants must never change.
const (
	// MagicMCF is the file magic for all MCF containers.
	// It is encoded as "MCF\0".
	MagicMCF = "MCF\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor versions may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagTensorDataAligned64 marks files whose tensor payloads start on
	// 64-byte boundaries.
	FlagTensorDataAligned64 uint64 = 1 << 0
)

// On-disk sizes of the fixed records.
const (
	mcfHeaderSize  = 40
	mcfSectionSize = 24
)

type SectionType uint32

const (
	SectionGraph       SectionType = 0x0001
	SectionMetadata    SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
)

func (t SectionType) String() string {
	switch t {
	case SectionGraph:
		return "graph"
	case SectionMetadata:
		return "metadata"
	case SectionTensorIndex:
		return "tensor_index"
	case SectionTensorData:
		return "tensor_data"
	default:
		return "unknown"
	}
}

// MCFHeader is the fixed little-endian header at offset zero.
type MCFHeader struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

// MCFSection is one entry of the section directory.
// Offset is absolute from the start of the file.
type MCFSection struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (h *MCFHeader) Valid() bool {
	if string(h.Magic[:]) != MagicMCF {
		return false
	}
	if h.HeaderSize < mcfHeaderSize {
		return false
	}
	return h.SectionCount != 0
}

func (h *MCFHeader) Compatible() bool {
	return h.Major == CurrentMajor
}

func (s *MCFSection) End() uint64 {
	return s.Offset + s.Size
}
