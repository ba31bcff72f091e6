// Package cpu provides a delegate with tuned float32 kernels for dense and
// elementwise nodes. Fully connected weights are repacked into row panels
// when the kernel is built, and work runs on the delegate's own pool.
//
// Results are bitwise identical to the interpreter's builtin kernels: every
// output element is accumulated in the same order.
package cpu

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/internal/runtime"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

// Name identifies the delegate in logs.
const Name = "cpu"

var (
	ErrUnavailable = errors.New("cpu delegate: unavailable")
	ErrClosed      = errors.New("cpu delegate: closed")
)

type Options struct {
	NumThreads int
}

type Delegate struct {
	pool   *runtime.Pool
	closed atomic.Bool
}

// Available reports whether New can succeed on this host and build.
func Available() error {
	if reason := unavailableReason(); reason != "" {
		return fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}
	return nil
}

// HostFeatures returns the detected CPU capabilities.
func HostFeatures() Features { return host }

func New(opts Options) (*Delegate, error) {
	if err := Available(); err != nil {
		return nil, err
	}
	return newDelegate(opts), nil
}

func newDelegate(opts Options) *Delegate {
	return &Delegate{pool: runtime.NewPool(opts.NumThreads)}
}

func (d *Delegate) Name() string { return Name }

// Claims accepts float32 fully connected nodes with constant weights and
// elementwise ADD/SUB/MUL nodes whose operands have the same known shape.
func (d *Delegate) Claims(n *runtime.NodeInfo) bool {
	if d.closed.Load() {
		return false
	}
	for _, t := range append(append([]*runtime.Tensor{}, n.Inputs...), n.Outputs...) {
		if t != nil && t.DType != mcf.DTypeF32 {
			return false
		}
	}
	switch n.Op {
	case graph.OpFullyConnected:
		w := n.Inputs[1]
		if !w.Const() || len(w.Shape) != 2 {
			return false
		}
		if len(n.Inputs) > 2 && n.Inputs[2] != nil && !n.Inputs[2].Const() {
			return false
		}
		return true
	case graph.OpAdd, graph.OpSub, graph.OpMul:
		a, b := n.Inputs[0], n.Inputs[1]
		return a.Elements() > 0 && slices.Equal(a.Shape, b.Shape)
	}
	return false
}

func (d *Delegate) Kernel(n *runtime.NodeInfo) (runtime.Kernel, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	switch n.Op {
	case graph.OpFullyConnected:
		k, err := newPackedDense(d, n)
		if err != nil {
			return nil, err
		}
		return k, nil
	case graph.OpAdd:
		return &elementwise{d: d, f: func(a, b float32) float32 { return a + b }}, nil
	case graph.OpSub:
		return &elementwise{d: d, f: func(a, b float32) float32 { return a - b }}, nil
	case graph.OpMul:
		return &elementwise{d: d, f: func(a, b float32) float32 { return a * b }}, nil
	}
	return nil, fmt.Errorf("cpu delegate: op %q not supported", n.Op)
}

// Close stops the worker pool. Kernels built by the delegate fail with
// ErrClosed afterwards.
func (d *Delegate) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.pool.Close()
	return nil
}
