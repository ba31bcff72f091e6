package graph

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/samcharles93/nnlite/pkg/mcf"
)

func denseModel(t *testing.T) []byte {
	t.Helper()

	b := NewBuilder("dense")
	x := b.Input("x", mcf.DTypeF32, 1, 3)
	w := b.ConstF32("w", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := b.ConstF32("b", []int{2}, []float32{0.5, -0.5})
	y := b.Tensor("y", mcf.DTypeF32, 1, 2)
	b.Node(OpFullyConnected, []int{x, w, bias}, []int{y}).Activation = ActRelu
	b.Output(y)
	b.SetMetadata("producer", "test")

	data, err := b.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	g, err := Decode(denseModel(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if g.Name != "dense" {
		t.Fatalf("name: got %q", g.Name)
	}
	if len(g.Tensors) != 4 || len(g.Nodes) != 1 {
		t.Fatalf("unexpected graph size: %d tensors, %d nodes", len(g.Tensors), len(g.Nodes))
	}
	if g.Nodes[0].Activation != ActRelu {
		t.Fatalf("activation lost: %+v", g.Nodes[0])
	}
	if g.Metadata["producer"] != "test" {
		t.Fatalf("metadata lost: %v", g.Metadata)
	}

	w := g.Tensors[1]
	if !w.Const || len(w.Data) != 24 {
		t.Fatalf("weights not bound: const=%v len=%d", w.Const, len(w.Data))
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(w.Data[20:])); got != 6 {
		t.Fatalf("last weight: got %v want 6", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Decode(nil); !errors.Is(err, mcf.ErrCorruptFile) {
		t.Fatalf("empty: got %v", err)
	}
	if _, err := Decode([]byte("not a model at all, just text padding it out")); err == nil {
		t.Fatalf("expected error for text input")
	}

	var buf mcf.Buffer
	w, err := mcf.NewWriter(&buf)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := w.WriteSection(mcf.SectionMetadata, 1, []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if _, err := Decode(buf.Bytes()); !errors.Is(err, ErrNoGraph) {
		t.Fatalf("no graph: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f32 := mcf.DTypeF32
	tests := []struct {
		name  string
		build func(b *Builder)
	}{
		{"no inputs", func(b *Builder) {
			y := b.Tensor("y", f32, 1)
			b.Output(y)
		}},
		{"no outputs", func(b *Builder) {
			b.Input("x", f32, 1)
		}},
		{"unknown op", func(b *Builder) {
			x := b.Input("x", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Node("CONV_9D", []int{x}, []int{y})
			b.Output(y)
		}},
		{"bad arity", func(b *Builder) {
			x := b.Input("x", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Node(OpAdd, []int{x}, []int{y})
			b.Output(y)
		}},
		{"use before produce", func(b *Builder) {
			x := b.Input("x", f32, 1)
			h := b.Tensor("h", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Node(OpRelu, []int{h}, []int{y})
			b.Node(OpRelu, []int{x}, []int{h})
			b.Output(y)
		}},
		{"double producer", func(b *Builder) {
			x := b.Input("x", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Node(OpRelu, []int{x}, []int{y})
			b.Node(OpTanh, []int{x}, []int{y})
			b.Output(y)
		}},
		{"duplicate name", func(b *Builder) {
			x := b.Input("x", f32, 1)
			y := b.Tensor("x", f32, 1)
			b.Node(OpRelu, []int{x}, []int{y})
			b.Output(y)
		}},
		{"zero dim", func(b *Builder) {
			x := b.Input("x", f32, 0)
			b.Output(x)
		}},
		{"activation on unary op", func(b *Builder) {
			x := b.Input("x", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Node(OpTanh, []int{x}, []int{y}).Activation = ActRelu
			b.Output(y)
		}},
		{"output never produced", func(b *Builder) {
			b.Input("x", f32, 1)
			y := b.Tensor("y", f32, 1)
			b.Output(y)
		}},
		{"tensor over byte limit", func(b *Builder) {
			x := b.Input("x", f32, MaxTensorBytes/4+1)
			b.Output(x)
		}},
		{"overflowing shape", func(b *Builder) {
			x := b.Input("x", f32, math.MaxInt/2, 4)
			b.Output(x)
		}},
		{"const with overflowing shape", func(b *Builder) {
			x := b.Input("x", f32, 1)
			c := b.ConstF32("c", []int{math.MaxInt / 2, 4}, nil)
			y := b.Tensor("y", f32, 1)
			b.Node(OpAdd, []int{x, c}, []int{y})
			b.Output(y)
		}},
		{"const size mismatch", func(b *Builder) {
			x := b.Input("x", f32, 2)
			c := b.ConstF32("c", []int{2}, []float32{1})
			y := b.Tensor("y", f32, 2)
			b.Node(OpAdd, []int{x, c}, []int{y})
			b.Output(y)
		}},
	}

	for _, tc := range tests {
		b := NewBuilder(tc.name)
		tc.build(b)
		if _, err := b.Build(); !errors.Is(err, ErrInvalidGraph) {
			t.Errorf("%s: got %v want ErrInvalidGraph", tc.name, err)
		}
	}
}

func TestTensorSizeOverflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape     []int
		elements  int
		byteSize  int
		withinCap bool
	}{
		{[]int{2, 3}, 6, 24, true},
		{[]int{-1, 3}, -1, -1, true},
		{[]int{math.MaxInt / 2, 4}, -1, -1, false},
		{[]int{math.MaxInt / 4, 2}, math.MaxInt/4*2, -1, false},
		{[]int{-1, MaxTensorBytes}, -1, -1, false},
	}
	for _, tc := range tests {
		tensor := Tensor{Name: "t", DType: mcf.DTypeF32, Shape: tc.shape}
		if got := tensor.Elements(); got != tc.elements {
			t.Errorf("%v: elements got %d want %d", tc.shape, got, tc.elements)
		}
		if got := tensor.ByteSize(); got != tc.byteSize {
			t.Errorf("%v: byte size got %d want %d", tc.shape, got, tc.byteSize)
		}
		if got := tensor.withinLimit(); got != tc.withinCap {
			t.Errorf("%v: within limit got %v want %v", tc.shape, got, tc.withinCap)
		}
	}
}

func TestValidateAllowsOptionalBias(t *testing.T) {
	t.Parallel()

	b := NewBuilder("fc")
	x := b.Input("x", mcf.DTypeF32, 1, 2)
	w := b.ConstF32("w", []int{1, 2}, []float32{1, 1})
	y := b.Tensor("y", mcf.DTypeF32, 1, 1)
	b.Node(OpFullyConnected, []int{x, w, NoTensor}, []int{y})
	b.Output(y)
	if _, err := b.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestParseDType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want mcf.TensorDType
		ok   bool
	}{
		{"f32", mcf.DTypeF32, true},
		{" I32 ", mcf.DTypeI32, true},
		{"u8", mcf.DTypeU8, true},
		{"float", mcf.DTypeUnknown, false},
	}
	for _, tc := range tests {
		got, err := ParseDType(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseDType(%q): got %v, %v", tc.in, got, err)
		}
	}
}
