package runtime

import (
	"fmt"
	"math"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

// builtinKernel returns the portable kernel for op.
func builtinKernel(op graph.OpCode, pool *Pool) (Kernel, error) {
	switch op {
	case graph.OpIdentity:
		return copyKernel{}, nil
	case graph.OpReshape:
		return reshapeKernel{}, nil
	case graph.OpAdd:
		return &binaryKernel{pool: pool, f: func(a, b float32) float32 { return a + b }}, nil
	case graph.OpSub:
		return &binaryKernel{pool: pool, f: func(a, b float32) float32 { return a - b }}, nil
	case graph.OpMul:
		return &binaryKernel{pool: pool, f: func(a, b float32) float32 { return a * b }}, nil
	case graph.OpFullyConnected:
		return &fullyConnectedKernel{pool: pool}, nil
	case graph.OpRelu:
		return unaryKernel(func(v float32) float32 { return Activate(graph.ActRelu, v) }), nil
	case graph.OpRelu6:
		return unaryKernel(func(v float32) float32 { return Activate(graph.ActRelu6, v) }), nil
	case graph.OpLogistic:
		return unaryKernel(func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) }), nil
	case graph.OpTanh:
		return unaryKernel(func(v float32) float32 { return float32(math.Tanh(float64(v))) }), nil
	case graph.OpSoftmax:
		return softmaxKernel{}, nil
	case graph.OpGather:
		return gatherKernel{}, nil
	}
	return nil, fmt.Errorf("runtime: no kernel for op %q", op)
}

type copyKernel struct{}

func (copyKernel) Prepare(n *NodeInfo) error {
	in, out := n.Inputs[0], n.Outputs[0]
	if in.DType != out.DType {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedType, in.DType, out.DType)
	}
	return out.Resolve(in.Shape)
}

func (copyKernel) Eval(n *NodeInfo) error {
	copy(n.Outputs[0].Data, n.Inputs[0].Data)
	return nil
}

type reshapeKernel struct{ copyKernel }

// Prepare takes the target shape from the output declaration. A single -1
// dimension is inferred from the input element count.
func (reshapeKernel) Prepare(n *NodeInfo) error {
	in, out := n.Inputs[0], n.Outputs[0]
	if in.DType != out.DType {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedType, in.DType, out.DType)
	}
	shape := make([]int, len(out.declared))
	known, unknown := 1, -1
	for i, d := range out.declared {
		shape[i] = d
		if d < 0 {
			if unknown >= 0 {
				return fmt.Errorf("%w: reshape target %v has more than one unknown dim", ErrDynamicShape, out.declared)
			}
			unknown = i
			continue
		}
		known *= d
	}
	total := in.Elements()
	if unknown >= 0 {
		if total%known != 0 {
			return fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, in.Shape, out.declared)
		}
		shape[unknown] = total / known
	} else if known != total {
		return fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, in.Shape, out.declared)
	}
	return out.Resolve(shape)
}

type binaryKernel struct {
	pool *Pool
	f    func(a, b float32) float32
}

// Prepare accepts equal shapes or a single-element operand on either side.
func (k *binaryKernel) Prepare(n *NodeInfo) error {
	a, b, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	if err := RequireDType(mcf.DTypeF32, a, b, out); err != nil {
		return err
	}
	switch {
	case sameShape(a.Shape, b.Shape), b.Elements() == 1:
		return out.Resolve(a.Shape)
	case a.Elements() == 1:
		return out.Resolve(b.Shape)
	}
	return fmt.Errorf("%w: cannot broadcast %v with %v", ErrShape, a.Shape, b.Shape)
}

func (k *binaryKernel) Eval(n *NodeInfo) error {
	a, b, dst := n.Inputs[0].Float32s(), n.Inputs[1].Float32s(), n.Outputs[0].Float32s()
	act, f := n.Activation, k.f
	k.pool.Parallel(len(dst), Grain, func(lo, hi int) {
		switch {
		case len(a) == len(b):
			for i := lo; i < hi; i++ {
				dst[i] = Activate(act, f(a[i], b[i]))
			}
		case len(b) == 1:
			s := b[0]
			for i := lo; i < hi; i++ {
				dst[i] = Activate(act, f(a[i], s))
			}
		default:
			s := a[0]
			for i := lo; i < hi; i++ {
				dst[i] = Activate(act, f(s, b[i]))
			}
		}
	})
	return nil
}

type fullyConnectedKernel struct {
	pool  *Pool
	depth int
}

func (k *fullyConnectedKernel) Prepare(n *NodeInfo) error {
	in, w, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	bias := optionalInput(n, 2)
	if err := RequireDType(mcf.DTypeF32, in, w, bias, out); err != nil {
		return err
	}
	shape, depth, err := FullyConnectedShape(in, w, bias)
	if err != nil {
		return err
	}
	k.depth = depth
	return out.Resolve(shape)
}

func (k *fullyConnectedKernel) Eval(n *NodeInfo) error {
	out := n.Outputs[0]
	x, w, dst := n.Inputs[0].Float32s(), n.Inputs[1].Float32s(), out.Float32s()
	var bias []float32
	if b := optionalInput(n, 2); b != nil {
		bias = b.Float32s()
	}
	units, depth, act := out.Shape[1], k.depth, n.Activation
	grain := Grain / depth
	k.pool.Parallel(len(dst), grain, func(lo, hi int) {
		FullyConnectedRows(dst, x, w, bias, depth, units, act, lo, hi)
	})
	return nil
}

type unaryKernel func(v float32) float32

func (unaryKernel) Prepare(n *NodeInfo) error {
	in, out := n.Inputs[0], n.Outputs[0]
	if err := RequireDType(mcf.DTypeF32, in, out); err != nil {
		return err
	}
	return out.Resolve(in.Shape)
}

func (f unaryKernel) Eval(n *NodeInfo) error {
	src, dst := n.Inputs[0].Float32s(), n.Outputs[0].Float32s()
	for i, v := range src {
		dst[i] = f(v)
	}
	return nil
}

type softmaxKernel struct{}

func (softmaxKernel) Prepare(n *NodeInfo) error {
	in, out := n.Inputs[0], n.Outputs[0]
	if err := RequireDType(mcf.DTypeF32, in, out); err != nil {
		return err
	}
	if len(in.Shape) == 0 {
		return fmt.Errorf("%w: softmax needs rank >= 1", ErrShape)
	}
	return out.Resolve(in.Shape)
}

// Eval normalises over the last axis.
func (softmaxKernel) Eval(n *NodeInfo) error {
	in := n.Inputs[0]
	src, dst := in.Float32s(), n.Outputs[0].Float32s()
	beta := float64(n.Beta)
	if beta == 0 {
		beta = 1
	}
	depth := in.Shape[len(in.Shape)-1]
	for off := 0; off < len(src); off += depth {
		row, out := src[off:off+depth], dst[off:off+depth]
		peak := row[0]
		for _, v := range row[1:] {
			if v > peak {
				peak = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(beta * float64(v-peak))
			out[i] = float32(e)
			sum += e
		}
		for i := range out {
			out[i] = float32(float64(out[i]) / sum)
		}
	}
	return nil
}

// gatherKernel selects rows of the first input along axis 0.
type gatherKernel struct{}

func (gatherKernel) Prepare(n *NodeInfo) error {
	params, indices, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	if err := RequireDType(mcf.DTypeI32, indices); err != nil {
		return err
	}
	if params.DType != out.DType {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedType, params.DType, out.DType)
	}
	if len(params.Shape) == 0 {
		return fmt.Errorf("%w: gather params must have rank >= 1", ErrShape)
	}
	shape := append(append([]int{}, indices.Shape...), params.Shape[1:]...)
	return out.Resolve(shape)
}

func (gatherKernel) Eval(n *NodeInfo) error {
	params, out := n.Inputs[0], n.Outputs[0]
	rows := params.Shape[0]
	rowBytes := params.ByteSize() / rows
	for i, idx := range n.Inputs[1].Int32s() {
		if idx < 0 || int(idx) >= rows {
			return fmt.Errorf("%w: gather index %d not in [0, %d)", ErrIndexOutOfRange, idx, rows)
		}
		src := params.Data[int(idx)*rowBytes : (int(idx)+1)*rowBytes]
		copy(out.Data[i*rowBytes:], src)
	}
	return nil
}

func optionalInput(n *NodeInfo, i int) *Tensor {
	if i < len(n.Inputs) {
		return n.Inputs[i]
	}
	return nil
}
