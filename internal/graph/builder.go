package graph

import (
	"encoding/binary"
	"math"

	"github.com/samcharles93/nnlite/pkg/mcf"
)

// Builder assembles a Graph in execution order. It performs no validation
// until Build or Encode is called.
type Builder struct {
	g Graph
}

func NewBuilder(name string) *Builder {
	return &Builder{g: Graph{Name: name}}
}

// Tensor declares an activation tensor and returns its index.
func (b *Builder) Tensor(name string, dtype mcf.TensorDType, shape ...int) int {
	b.g.Tensors = append(b.g.Tensors, Tensor{Name: name, DType: dtype, Shape: shape})
	return len(b.g.Tensors) - 1
}

// Input declares a tensor and marks it as the next graph input.
func (b *Builder) Input(name string, dtype mcf.TensorDType, shape ...int) int {
	id := b.Tensor(name, dtype, shape...)
	b.g.Inputs = append(b.g.Inputs, id)
	return id
}

// Output marks an existing tensor as the next graph output.
func (b *Builder) Output(id int) {
	b.g.Outputs = append(b.g.Outputs, id)
}

// Const declares a constant tensor holding raw little-endian bytes.
func (b *Builder) Const(name string, dtype mcf.TensorDType, shape []int, data []byte) int {
	b.g.Tensors = append(b.g.Tensors, Tensor{Name: name, DType: dtype, Shape: shape, Const: true, Data: data})
	return len(b.g.Tensors) - 1
}

func (b *Builder) ConstF32(name string, shape []int, values []float32) int {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return b.Const(name, mcf.DTypeF32, shape, data)
}

func (b *Builder) ConstI32(name string, shape []int, values []int32) int {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return b.Const(name, mcf.DTypeI32, shape, data)
}

// Node appends an operator. The returned pointer is for setting options and
// is only valid until the next Node call.
func (b *Builder) Node(op OpCode, inputs, outputs []int) *Node {
	b.g.Nodes = append(b.g.Nodes, Node{Op: op, Inputs: inputs, Outputs: outputs})
	return &b.g.Nodes[len(b.g.Nodes)-1]
}

// SetMetadata records a free-form key/value pair in the container.
func (b *Builder) SetMetadata(key, value string) {
	if b.g.Metadata == nil {
		b.g.Metadata = make(map[string]string)
	}
	b.g.Metadata[key] = value
}

// Build validates and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	g := b.g
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Encode validates the graph and serializes it into model bytes.
func (b *Builder) Encode() ([]byte, error) {
	return Encode(&b.g)
}
