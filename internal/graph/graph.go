// Package graph holds the model representation stored inside an MCF
// container: the tensor table, the node list in execution order, the graph
// inputs and outputs, and the constant tensor payloads.
package graph

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/nnlite/pkg/mcf"
)

// FormatVersion is the version of the graph section payload.
const FormatVersion = 1

// MaxTensorBytes bounds the byte size of any single tensor, counting only
// the dimensions known at build time.
const MaxTensorBytes = min(1<<34, math.MaxInt/2)

var (
	ErrNoGraph      = errors.New("graph: container has no graph section")
	ErrInvalidGraph = errors.New("graph: invalid graph")
)

type OpCode string

const (
	OpIdentity       OpCode = "IDENTITY"
	OpAdd            OpCode = "ADD"
	OpSub            OpCode = "SUB"
	OpMul            OpCode = "MUL"
	OpFullyConnected OpCode = "FULLY_CONNECTED"
	OpRelu           OpCode = "RELU"
	OpRelu6          OpCode = "RELU6"
	OpLogistic       OpCode = "LOGISTIC"
	OpTanh           OpCode = "TANH"
	OpSoftmax        OpCode = "SOFTMAX"
	OpReshape        OpCode = "RESHAPE"
	OpGather         OpCode = "GATHER"
)

// Activation is an activation fused into the producing node.
type Activation string

const (
	ActNone  Activation = ""
	ActRelu  Activation = "RELU"
	ActRelu6 Activation = "RELU6"
)

// NoTensor marks an omitted optional node input (eg a fully connected bias).
const NoTensor = -1

type arity struct {
	minIn, maxIn int
	outs         int
	fusable      bool
}

var opArity = map[OpCode]arity{
	OpIdentity:       {1, 1, 1, false},
	OpAdd:            {2, 2, 1, true},
	OpSub:            {2, 2, 1, true},
	OpMul:            {2, 2, 1, true},
	OpFullyConnected: {2, 3, 1, true},
	OpRelu:           {1, 1, 1, false},
	OpRelu6:          {1, 1, 1, false},
	OpLogistic:       {1, 1, 1, false},
	OpTanh:           {1, 1, 1, false},
	OpSoftmax:        {1, 1, 1, false},
	OpReshape:        {1, 1, 1, false},
	OpGather:         {2, 2, 1, false},
}

// Known reports whether op is a recognised operator.
func (op OpCode) Known() bool {
	_, ok := opArity[op]
	return ok
}

type Tensor struct {
	Name  string
	DType mcf.TensorDType
	// Shape may contain -1 for dimensions unknown at build time.
	Shape []int
	Const bool
	// Data aliases the container bytes for constant tensors.
	Data []byte
}

// Elements returns the element count, or -1 if any dimension is unknown or
// the count does not fit in an int.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		if d < 0 || (d > 0 && n > math.MaxInt/d) {
			return -1
		}
		n *= d
	}
	return n
}

// ByteSize returns the payload size, or -1 if the shape is not fully known
// or the size does not fit in an int.
func (t *Tensor) ByteSize() int {
	n, size := t.Elements(), t.DType.Size()
	if n < 0 || (size > 0 && n > math.MaxInt/size) {
		return -1
	}
	return n * size
}

// withinLimit reports whether the element size times every known dimension
// stays within MaxTensorBytes. The dtype must have a size and zero
// dimensions must already have been rejected.
func (t *Tensor) withinLimit() bool {
	n := max(t.DType.Size(), 1)
	for _, d := range t.Shape {
		if d <= 0 {
			continue
		}
		if d > MaxTensorBytes/n {
			return false
		}
		n *= d
	}
	return true
}

type Node struct {
	Op         OpCode
	Inputs     []int
	Outputs    []int
	Activation Activation
	// Beta scales softmax logits; zero means 1.
	Beta float32
}

type Graph struct {
	Name     string
	Tensors  []Tensor
	Nodes    []Node
	Inputs   []int
	Outputs  []int
	Metadata map[string]string
}

func (g *Graph) invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

func (g *Graph) tensorRef(i int) bool {
	return i >= 0 && i < len(g.Tensors)
}

// Validate checks structural consistency: indices, operator arity, a single
// producer per tensor and that nodes are listed in executable order.
// Shape compatibility between operands is checked by the runtime when it
// allocates tensors.
func (g *Graph) Validate() error {
	if len(g.Inputs) == 0 {
		return g.invalid("no inputs")
	}
	if len(g.Outputs) == 0 {
		return g.invalid("no outputs")
	}

	names := make(map[string]struct{}, len(g.Tensors))
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if t.Name == "" {
			return g.invalid("tensor %d has no name", i)
		}
		if _, dup := names[t.Name]; dup {
			return g.invalid("duplicate tensor name %q", t.Name)
		}
		names[t.Name] = struct{}{}
		if t.DType.Size() == 0 {
			return g.invalid("tensor %q has unsupported dtype %d", t.Name, t.DType)
		}
		for _, d := range t.Shape {
			if d == 0 || d < -1 {
				return g.invalid("tensor %q has invalid dim %d", t.Name, d)
			}
		}
		if !t.withinLimit() {
			return g.invalid("tensor %q shape %v exceeds %d bytes", t.Name, t.Shape, MaxTensorBytes)
		}
		if t.Const {
			if t.Elements() < 0 {
				return g.invalid("constant %q has unknown dims", t.Name)
			}
			if len(t.Data) != t.ByteSize() {
				return g.invalid("constant %q has %d bytes, want %d", t.Name, len(t.Data), t.ByteSize())
			}
		}
	}

	available := make([]bool, len(g.Tensors))
	for i := range g.Tensors {
		available[i] = g.Tensors[i].Const
	}
	for _, in := range g.Inputs {
		if !g.tensorRef(in) {
			return g.invalid("graph input %d out of range", in)
		}
		if g.Tensors[in].Const {
			return g.invalid("graph input %q is constant", g.Tensors[in].Name)
		}
		available[in] = true
	}

	produced := make([]bool, len(g.Tensors))
	for ni := range g.Nodes {
		n := &g.Nodes[ni]
		a, ok := opArity[n.Op]
		if !ok {
			return g.invalid("node %d: unknown op %q", ni, n.Op)
		}
		if len(n.Inputs) < a.minIn || len(n.Inputs) > a.maxIn {
			return g.invalid("node %d (%s): got %d inputs", ni, n.Op, len(n.Inputs))
		}
		if len(n.Outputs) != a.outs {
			return g.invalid("node %d (%s): got %d outputs", ni, n.Op, len(n.Outputs))
		}
		if n.Activation != ActNone {
			if !a.fusable {
				return g.invalid("node %d (%s): activation not supported", ni, n.Op)
			}
			if n.Activation != ActRelu && n.Activation != ActRelu6 {
				return g.invalid("node %d: unknown activation %q", ni, n.Activation)
			}
		}
		for pos, in := range n.Inputs {
			if in == NoTensor && pos >= a.minIn {
				continue
			}
			if !g.tensorRef(in) {
				return g.invalid("node %d (%s): input %d out of range", ni, n.Op, in)
			}
			if !available[in] {
				return g.invalid("node %d (%s): input %q used before it is produced", ni, n.Op, g.Tensors[in].Name)
			}
		}
		for _, out := range n.Outputs {
			if !g.tensorRef(out) {
				return g.invalid("node %d (%s): output %d out of range", ni, n.Op, out)
			}
			t := &g.Tensors[out]
			if t.Const || produced[out] || available[out] {
				return g.invalid("node %d (%s): tensor %q already defined", ni, n.Op, t.Name)
			}
			produced[out] = true
			available[out] = true
		}
	}

	for _, out := range g.Outputs {
		if !g.tensorRef(out) {
			return g.invalid("graph output %d out of range", out)
		}
		if !available[out] {
			return g.invalid("graph output %q is never produced", g.Tensors[out].Name)
		}
	}
	return nil
}
