package mcf

import (
	"bytes"
	"testing"
)

func TestTensorIndexRoundTrip(t *testing.T) {
	t.Parallel()

	var buf Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	sw, err := w.BeginSection(SectionTensorData, 1)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var recs []TensorIndexRecord
	for _, tc := range []struct {
		name    string
		payload []byte
	}{
		{"weights", []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"bias", []byte{9, 10, 11, 12}},
	} {
		if err := sw.Align(TensorDataAlign); err != nil {
			t.Fatalf("align: %v", err)
		}
		off, err := sw.CurrentAbsOffset()
		if err != nil {
			t.Fatalf("offset: %v", err)
		}
		if _, err := sw.Write(tc.payload); err != nil {
			t.Fatalf("write: %v", err)
		}
		recs = append(recs, TensorIndexRecord{
			Name:     tc.name,
			DType:    DTypeF32,
			Shape:    []uint64{uint64(len(tc.payload) / 4)},
			DataOff:  off,
			DataSize: uint64(len(tc.payload)),
		})
	}
	if err := sw.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	idxBytes, err := EncodeTensorIndexSection(recs)
	if err != nil {
		t.Fatalf("encode index: %v", err)
	}
	if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, idxBytes); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := w.AddFlags(FlagTensorDataAligned64); err != nil {
		t.Fatalf("flags: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}

	mf, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mf.Header.Flags&FlagTensorDataAligned64 == 0 {
		t.Fatalf("missing aligned flag")
	}
	ti, err := ParseTensorIndexSection(mf.SectionData(mf.Section(SectionTensorIndex)))
	if err != nil {
		t.Fatalf("parse index: %v", err)
	}
	if ti.Count() != 2 {
		t.Fatalf("count: got %d want 2", ti.Count())
	}
	if name, _ := ti.Name(0); name != "bias" {
		t.Fatalf("entries should be sorted by name, first is %q", name)
	}

	i, ok := ti.Find("weights")
	if !ok {
		t.Fatalf("weights not found")
	}
	shape, err := ti.Shape(i)
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(shape) != 1 || shape[0] != 2 {
		t.Fatalf("shape: got %v want [2]", shape)
	}
	data, err := ti.TensorData(mf, i)
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("payload mismatch: %v", data)
	}
	entry, err := ti.Entry(i)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.DataOff%TensorDataAlign != 0 {
		t.Fatalf("payload offset %d not aligned", entry.DataOff)
	}
	if _, ok := ti.Find("missing"); ok {
		t.Fatalf("unexpected hit for missing tensor")
	}
}

func TestEncodeTensorIndexRejectsBadRecords(t *testing.T) {
	t.Parallel()

	if _, err := EncodeTensorIndexSection([]TensorIndexRecord{{Name: ""}}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	dup := []TensorIndexRecord{{Name: "a"}, {Name: "a"}}
	if _, err := EncodeTensorIndexSection(dup); err == nil {
		t.Fatalf("expected error for duplicate name")
	}
}

func TestParseTensorIndexRejectsCorruption(t *testing.T) {
	t.Parallel()

	raw, err := EncodeTensorIndexSection([]TensorIndexRecord{{Name: "x", DType: DTypeF32, Shape: []uint64{1}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ParseTensorIndexSection(raw[:20]); err == nil {
		t.Fatalf("expected error for short section")
	}
	bad := append([]byte(nil), raw...)
	bad[0] = 7
	if _, err := ParseTensorIndexSection(bad); err == nil {
		t.Fatalf("expected error for unknown version")
	}
}

func TestDTypeSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dtype TensorDType
		size  int
	}{
		{DTypeF32, 4},
		{DTypeF16, 2},
		{DTypeU8, 1},
		{DTypeI64, 8},
		{DTypeUnknown, 0},
	}
	for _, tc := range tests {
		if got := tc.dtype.Size(); got != tc.size {
			t.Errorf("%s size: got %d want %d", tc.dtype, got, tc.size)
		}
	}
}
