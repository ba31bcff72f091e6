package runtime

import (
	"fmt"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

// NodeInfo is the view of a node handed to kernels and delegates. Omitted
// optional inputs are nil.
type NodeInfo struct {
	Index      int
	Op         graph.OpCode
	Activation graph.Activation
	Beta       float32
	Inputs     []*Tensor
	Outputs    []*Tensor
}

func (n *NodeInfo) String() string {
	return fmt.Sprintf("node %d (%s)", n.Index, n.Op)
}

// Kernel implements one node. Prepare runs during allocation with input
// shapes resolved and must resolve every output shape. Eval runs on each
// Invoke once tensor data is allocated.
type Kernel interface {
	Prepare(n *NodeInfo) error
	Eval(n *NodeInfo) error
}

// Delegate supplies kernels for the nodes it claims. An interpreter never
// closes a delegate; its owner does, after closing the interpreter.
type Delegate interface {
	Name() string
	Claims(n *NodeInfo) bool
	Kernel(n *NodeInfo) (Kernel, error)
	Close() error
}

// Activate applies a fused activation to v.
func Activate(act graph.Activation, v float32) float32 {
	switch act {
	case graph.ActRelu:
		if v < 0 {
			return 0
		}
	case graph.ActRelu6:
		if v < 0 {
			return 0
		}
		if v > 6 {
			return 6
		}
	}
	return v
}

// RequireDType fails unless every non-nil tensor has dtype dt.
func RequireDType(dt mcf.TensorDType, ts ...*Tensor) error {
	for _, t := range ts {
		if t != nil && t.DType != dt {
			return fmt.Errorf("%w: tensor %q is %s, want %s", ErrUnsupportedType, t.Name, t.DType, dt)
		}
	}
	return nil
}

// FullyConnectedShape checks the operands of a fully connected node and
// returns the output shape [batch, units] along with the input depth.
func FullyConnectedShape(in, w, bias *Tensor) (shape []int, depth int, err error) {
	if len(w.Shape) != 2 {
		return nil, 0, fmt.Errorf("%w: weights %q must be rank 2, got %v", ErrShape, w.Name, w.Shape)
	}
	units, depth := w.Shape[0], w.Shape[1]
	if n := in.Elements(); n%depth != 0 {
		return nil, 0, fmt.Errorf("%w: input %v not divisible by depth %d", ErrShape, in.Shape, depth)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != units) {
		return nil, 0, fmt.Errorf("%w: bias %v, want [%d]", ErrShape, bias.Shape, units)
	}
	return []int{in.Elements() / depth, units}, depth, nil
}

// FullyConnectedRows computes output elements [lo, hi) of a row-major
// [batch, units] result. Each element is the in-order sum of products,
// then the bias, then the activation.
func FullyConnectedRows(dst, x, w, bias []float32, depth, units int, act graph.Activation, lo, hi int) {
	for r := lo; r < hi; r++ {
		b, j := r/units, r%units
		xs := x[b*depth : (b+1)*depth]
		ws := w[j*depth : (j+1)*depth]
		var acc float32
		for k, v := range xs {
			acc += float32(v * ws[k])
		}
		if bias != nil {
			acc += bias[j]
		}
		dst[r] = Activate(act, acc)
	}
}

// Grain is the minimum number of output elements worth handing to a worker.
const Grain = 256
