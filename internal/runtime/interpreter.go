package runtime

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/samcharles93/nnlite/internal/graph"
)

type node struct {
	info     NodeInfo
	ins      []int
	outs     []int
	kernel   Kernel
	delegate string
}

// Interpreter executes one copy of a model's graph. It is not safe for
// concurrent use.
type Interpreter struct {
	opts    Options
	tensors []*Tensor
	nodes   []*node
	inputs  []int
	outputs []int
	pool    *Pool

	arena     []byte
	allocated bool
	closed    bool
}

// NewInterpreter binds builtin kernels to a private copy of the model's
// topology. Constant tensor data keeps aliasing the model bytes.
func NewInterpreter(m *Model, opts Options) (*Interpreter, error) {
	g := m.Graph()
	if g == nil {
		return nil, errors.New("runtime: model is closed")
	}
	if opts.NumThreads < 1 {
		opts.NumThreads = 1
	}

	it := &Interpreter{
		opts:    opts,
		tensors: make([]*Tensor, len(g.Tensors)),
		nodes:   make([]*node, len(g.Nodes)),
		inputs:  slices.Clone(g.Inputs),
		outputs: slices.Clone(g.Outputs),
	}
	for i := range g.Tensors {
		gt := &g.Tensors[i]
		t := &Tensor{
			Name:     gt.Name,
			DType:    gt.DType,
			Shape:    slices.Clone(gt.Shape),
			declared: slices.Clone(gt.Shape),
			isConst:  gt.Const,
		}
		if gt.Const {
			t.Data = gt.Data
		}
		it.tensors[i] = t
	}

	if opts.NumThreads > 1 {
		it.pool = NewPool(opts.NumThreads)
	}
	for i := range g.Nodes {
		gn := &g.Nodes[i]
		k, err := builtinKernel(gn.Op, it.pool)
		if err != nil {
			it.pool.Close()
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		n := &node{
			info: NodeInfo{
				Index:      i,
				Op:         gn.Op,
				Activation: gn.Activation,
				Beta:       gn.Beta,
				Inputs:     make([]*Tensor, len(gn.Inputs)),
				Outputs:    make([]*Tensor, len(gn.Outputs)),
			},
			ins:    gn.Inputs,
			outs:   gn.Outputs,
			kernel: k,
		}
		for j, ti := range gn.Inputs {
			if ti != graph.NoTensor {
				n.info.Inputs[j] = it.tensors[ti]
			}
		}
		for j, ti := range gn.Outputs {
			n.info.Outputs[j] = it.tensors[ti]
		}
		it.nodes[i] = n
	}
	return it, nil
}

// ModifyGraphWithDelegate offers every node still on a builtin kernel to d
// and switches the claimed ones to d's kernels. If d claims nothing, or a
// kernel cannot be built, the interpreter is left as it was. On success any
// previous allocation is discarded.
func (it *Interpreter) ModifyGraphWithDelegate(d Delegate) error {
	if it.closed {
		return ErrClosed
	}
	if d == nil {
		return errors.New("runtime: nil delegate")
	}

	claimed := make(map[int]Kernel)
	for _, n := range it.nodes {
		if n.delegate != "" || !d.Claims(&n.info) {
			continue
		}
		k, err := d.Kernel(&n.info)
		if err != nil {
			return fmt.Errorf("delegate %s: %s: %w", d.Name(), &n.info, err)
		}
		claimed[n.info.Index] = k
	}
	if len(claimed) == 0 {
		return fmt.Errorf("%w: %s", ErrDelegateUnsupported, d.Name())
	}

	for i, k := range claimed {
		it.nodes[i].kernel = k
		it.nodes[i].delegate = d.Name()
	}
	it.release()
	return nil
}

// DelegatedNodes reports how many nodes run on delegate kernels.
func (it *Interpreter) DelegatedNodes() int {
	n := 0
	for _, nd := range it.nodes {
		if nd.delegate != "" {
			n++
		}
	}
	return n
}

// AllocateTensors resolves every shape and places all non-constant tensors
// in one arena. Tensor views handed out earlier become invalid.
func (it *Interpreter) AllocateTensors() error {
	if it.closed {
		return ErrClosed
	}
	it.release()

	for _, i := range it.inputs {
		if t := it.tensors[i]; !t.resolved() {
			return fmt.Errorf("%w: input %q has shape %v", ErrDynamicShape, t.Name, t.Shape)
		}
	}
	for _, n := range it.nodes {
		if err := n.kernel.Prepare(&n.info); err != nil {
			return fmt.Errorf("prepare %s: %w", &n.info, err)
		}
	}

	// Planned offsets never exceed the sum of the aligned requests, so
	// bounding that sum keeps the planner free of overflow.
	limit := it.opts.arenaLimit()
	allocs := it.lifetimes()
	sum := 0
	for _, a := range allocs {
		t := it.tensors[a.tensor]
		switch {
		case !t.resolved():
			return fmt.Errorf("%w: tensor %q has shape %v", ErrDynamicShape, t.Name, t.Shape)
		case a.size < 0 || a.size > limit:
			return fmt.Errorf("%w: tensor %q with shape %v needs more than %d bytes", ErrArenaLimit, t.Name, t.Shape, limit)
		case a.size > math.MaxInt/4 || sum > math.MaxInt/4:
			return fmt.Errorf("%w: arena size overflows", ErrArenaLimit)
		}
		sum += alignUp(a.size, ArenaAlign)
	}
	total := planArena(allocs)
	if total > limit {
		return fmt.Errorf("%w: need %d bytes, limit %d", ErrArenaLimit, total, limit)
	}

	it.arena = alignedBytes(total)
	for _, a := range allocs {
		end := a.offset + a.size
		it.tensors[a.tensor].Data = it.arena[a.offset:end:end]
	}
	it.allocated = true
	return nil
}

// lifetimes returns one allocation per non-constant tensor that is a graph
// input, a graph output or produced by a node. Graph inputs and outputs live
// for the whole run so their views stay stable between invocations.
func (it *Interpreter) lifetimes() []allocation {
	last := len(it.nodes)
	idx := make(map[int]int)
	var allocs []allocation
	touch := func(ti, at int) {
		t := it.tensors[ti]
		if t.isConst {
			return
		}
		i, ok := idx[ti]
		if !ok {
			idx[ti] = len(allocs)
			allocs = append(allocs, allocation{tensor: ti, size: t.ByteSize(), first: at, last: at})
			return
		}
		a := &allocs[i]
		a.first = min(a.first, at)
		a.last = max(a.last, at)
	}

	for _, ti := range it.inputs {
		touch(ti, -1)
		touch(ti, last)
	}
	for _, ti := range it.outputs {
		touch(ti, -1)
		touch(ti, last)
	}
	for ni, n := range it.nodes {
		for _, ti := range n.outs {
			touch(ti, ni)
		}
		for _, ti := range n.ins {
			if i, ok := idx[ti]; ok {
				allocs[i].last = max(allocs[i].last, ni)
			}
		}
	}
	return allocs
}

func (it *Interpreter) release() {
	it.allocated = false
	it.arena = nil
	for _, t := range it.tensors {
		t.reset()
	}
}

// Invoke runs every node in order on the calling goroutine.
func (it *Interpreter) Invoke() error {
	if it.closed {
		return ErrClosed
	}
	if !it.allocated {
		return ErrNotAllocated
	}
	for _, n := range it.nodes {
		if err := n.kernel.Eval(&n.info); err != nil {
			return fmt.Errorf("%s: %w", &n.info, err)
		}
	}
	return nil
}

func (it *Interpreter) InputTensorCount() int  { return len(it.inputs) }
func (it *Interpreter) OutputTensorCount() int { return len(it.outputs) }

// InputTensor returns the i-th graph input, or nil if i is out of range.
func (it *Interpreter) InputTensor(i int) *Tensor {
	if i < 0 || i >= len(it.inputs) {
		return nil
	}
	return it.tensors[it.inputs[i]]
}

func (it *Interpreter) OutputTensor(i int) *Tensor {
	if i < 0 || i >= len(it.outputs) {
		return nil
	}
	return it.tensors[it.outputs[i]]
}

// ArenaBytes is the size of the current activation arena.
func (it *Interpreter) ArenaBytes() int { return len(it.arena) }

// Close stops the worker pool and drops the arena. It is safe to call more
// than once.
func (it *Interpreter) Close() error {
	if it == nil || it.closed {
		return nil
	}
	it.closed = true
	it.release()
	it.pool.Close()
	it.nodes = nil
	return nil
}
