package runtime

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/nnlite/internal/graph"
	"github.com/samcharles93/nnlite/pkg/mcf"
)

func buildModel(t *testing.T, build func(b *graph.Builder)) *Model {
	t.Helper()
	b := graph.NewBuilder(t.Name())
	build(b)
	data, err := b.Encode()
	require.NoError(t, err)
	m, err := NewModel(data)
	require.NoError(t, err)
	return m
}

func newInterpreter(t *testing.T, m *Model, opts Options) *Interpreter {
	t.Helper()
	it, err := NewInterpreter(m, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = it.Close() })
	return it
}

func identityModel(t *testing.T) *Model {
	return buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 1, 4)
		y := b.Tensor("y", mcf.DTypeF32, 1, 4)
		b.Node(graph.OpIdentity, []int{x}, []int{y})
		b.Output(y)
	})
}

func denseModel(t *testing.T, act graph.Activation) *Model {
	return buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 2, 3)
		w := b.ConstF32("w", []int{2, 3}, []float32{1, 2, 3, -4, -5, -6})
		bias := b.ConstF32("b", []int{2}, []float32{0.5, 1})
		y := b.Tensor("y", mcf.DTypeF32, 2, 2)
		b.Node(graph.OpFullyConnected, []int{x, w, bias}, []int{y}).Activation = act
		b.Output(y)
	})
}

func TestIdentityRoundTrip(t *testing.T) {
	t.Parallel()

	it := newInterpreter(t, identityModel(t), Options{})
	require.NoError(t, it.AllocateTensors())
	require.Equal(t, 1, it.InputTensorCount())
	require.Equal(t, 1, it.OutputTensorCount())

	copy(it.InputTensor(0).Float32s(), []float32{1, 2, 3, 4})
	require.NoError(t, it.Invoke())

	out := it.OutputTensor(0)
	assert.Equal(t, []float32{1, 2, 3, 4}, out.Float32s())
	assert.Equal(t, 16, out.ByteSize())
	assert.Equal(t, []int{1, 4}, out.Shape)
}

func TestInvokeRequiresAllocation(t *testing.T) {
	t.Parallel()

	it := newInterpreter(t, identityModel(t), Options{})
	require.ErrorIs(t, it.Invoke(), ErrNotAllocated)
	assert.Nil(t, it.InputTensor(0).Data)
}

func TestTensorAccessOutOfRange(t *testing.T) {
	t.Parallel()

	it := newInterpreter(t, identityModel(t), Options{})
	require.NoError(t, it.AllocateTensors())
	assert.Nil(t, it.InputTensor(-1))
	assert.Nil(t, it.InputTensor(1))
	assert.Nil(t, it.OutputTensor(5))
}

func TestFullyConnected(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		act  graph.Activation
		want []float32
	}{
		{graph.ActNone, []float32{14.5, -31, -2, 8}},
		{graph.ActRelu, []float32{14.5, 0, 0, 8}},
		{graph.ActRelu6, []float32{6, 0, 0, 6}},
	} {
		it := newInterpreter(t, denseModel(t, tc.act), Options{})
		require.NoError(t, it.AllocateTensors())
		copy(it.InputTensor(0).Float32s(), []float32{1, 2, 3, -1, 0, -0.5})
		require.NoError(t, it.Invoke())
		assert.Equal(t, tc.want, it.OutputTensor(0).Float32s(), "activation %q", tc.act)
	}
}

func TestThreadCountDoesNotChangeResults(t *testing.T) {
	t.Parallel()

	const depth, units = 64, 96
	weights := make([]float32, depth*units)
	for i := range weights {
		weights[i] = float32(math.Sin(float64(i)))
	}
	m := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 8, depth)
		w := b.ConstF32("w", []int{units, depth}, weights)
		y := b.Tensor("y", mcf.DTypeF32, 8, units)
		b.Node(graph.OpFullyConnected, []int{x, w}, []int{y})
		z := b.Tensor("z", mcf.DTypeF32, 8, units)
		b.Node(graph.OpAdd, []int{y, y}, []int{z})
		b.Output(z)
	})

	run := func(threads int) []float32 {
		it := newInterpreter(t, m, Options{NumThreads: threads})
		require.NoError(t, it.AllocateTensors())
		in := it.InputTensor(0).Float32s()
		for i := range in {
			in[i] = float32(math.Cos(float64(i)))
		}
		require.NoError(t, it.Invoke())
		return append([]float32(nil), it.OutputTensor(0).Float32s()...)
	}
	assert.Equal(t, run(1), run(4))
}

func TestBinaryBroadcastScalar(t *testing.T) {
	t.Parallel()

	m := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 4)
		s := b.ConstF32("s", []int{1}, []float32{2})
		y := b.Tensor("y", mcf.DTypeF32, 4)
		b.Node(graph.OpMul, []int{x, s}, []int{y})
		z := b.Tensor("z", mcf.DTypeF32, 4)
		b.Node(graph.OpSub, []int{s, y}, []int{z}).Activation = graph.ActRelu
		b.Output(z)
	})
	it := newInterpreter(t, m, Options{})
	require.NoError(t, it.AllocateTensors())
	copy(it.InputTensor(0).Float32s(), []float32{-1, 0, 1, 2})
	require.NoError(t, it.Invoke())
	assert.Equal(t, []float32{4, 2, 0, 0}, it.OutputTensor(0).Float32s())
}

func TestActivationsAndSoftmax(t *testing.T) {
	t.Parallel()

	m := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 2, 3)
		outs := []int{}
		for _, op := range []graph.OpCode{graph.OpRelu, graph.OpRelu6, graph.OpLogistic, graph.OpTanh, graph.OpSoftmax} {
			y := b.Tensor(string(op), mcf.DTypeF32, 2, 3)
			b.Node(op, []int{x}, []int{y})
			outs = append(outs, y)
		}
		for _, y := range outs {
			b.Output(y)
		}
	})
	it := newInterpreter(t, m, Options{})
	require.NoError(t, it.AllocateTensors())
	copy(it.InputTensor(0).Float32s(), []float32{-2, 0, 8, 1, 1, 1})
	require.NoError(t, it.Invoke())

	assert.Equal(t, []float32{0, 0, 8, 1, 1, 1}, it.OutputTensor(0).Float32s())
	assert.Equal(t, []float32{0, 0, 6, 1, 1, 1}, it.OutputTensor(1).Float32s())
	assert.InDelta(t, 0.5, it.OutputTensor(2).Float32s()[1], 1e-6)
	assert.InDelta(t, math.Tanh(1), it.OutputTensor(3).Float32s()[3], 1e-6)

	sm := it.OutputTensor(4).Float32s()
	for row := 0; row < 2; row++ {
		var sum float32
		for _, v := range sm[row*3 : row*3+3] {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}
	assert.InDelta(t, 1.0/3, sm[4], 1e-6)
}

func TestGatherIndexOutOfRangeIsRecoverable(t *testing.T) {
	t.Parallel()

	m := buildModel(t, func(b *graph.Builder) {
		table := b.ConstF32("table", []int{3, 2}, []float32{0, 1, 10, 11, 20, 21})
		ids := b.Input("ids", mcf.DTypeI32, 2)
		y := b.Tensor("y", mcf.DTypeF32, 2, 2)
		b.Node(graph.OpGather, []int{table, ids}, []int{y})
		b.Output(y)
	})
	it := newInterpreter(t, m, Options{})
	require.NoError(t, it.AllocateTensors())

	ids := it.InputTensor(0).Int32s()
	copy(ids, []int32{2, 0})
	require.NoError(t, it.Invoke())
	assert.Equal(t, []float32{20, 21, 0, 1}, it.OutputTensor(0).Float32s())

	ids[1] = 3
	require.ErrorIs(t, it.Invoke(), ErrIndexOutOfRange)

	ids[1] = 1
	require.NoError(t, it.Invoke())
	assert.Equal(t, []float32{20, 21, 10, 11}, it.OutputTensor(0).Float32s())
}

func TestReshapeInfersUnknownDim(t *testing.T) {
	t.Parallel()

	m := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 2, 3)
		y := b.Tensor("y", mcf.DTypeF32, -1)
		b.Node(graph.OpReshape, []int{x}, []int{y})
		b.Output(y)
	})
	it := newInterpreter(t, m, Options{})
	require.NoError(t, it.AllocateTensors())
	assert.Equal(t, []int{6}, it.OutputTensor(0).Shape)
}

func TestAllocateFailures(t *testing.T) {
	t.Parallel()

	dynamic := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, -1, 4)
		y := b.Tensor("y", mcf.DTypeF32, -1, 4)
		b.Node(graph.OpRelu, []int{x}, []int{y})
		b.Output(y)
	})
	mismatch := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 4)
		c := b.ConstF32("c", []int{3}, []float32{1, 2, 3})
		y := b.Tensor("y", mcf.DTypeF32, 4)
		b.Node(graph.OpAdd, []int{x, c}, []int{y})
		b.Output(y)
	})
	badOutput := buildModel(t, func(b *graph.Builder) {
		x := b.Input("x", mcf.DTypeF32, 4)
		y := b.Tensor("y", mcf.DTypeF32, 5)
		b.Node(graph.OpTanh, []int{x}, []int{y})
		b.Output(y)
	})
	overLimit := buildModel(t, func(b *graph.Builder) {
		n := DefaultMaxArenaBytes/4 + 1
		x := b.Input("x", mcf.DTypeF32, n)
		y := b.Tensor("y", mcf.DTypeF32, n)
		b.Node(graph.OpIdentity, []int{x}, []int{y})
		b.Output(y)
	})

	for _, tc := range []struct {
		name string
		m    *Model
		opts Options
		want error
	}{
		{"dynamic input", dynamic, Options{}, ErrDynamicShape},
		{"operand mismatch", mismatch, Options{}, ErrShape},
		{"declared output mismatch", badOutput, Options{}, ErrShape},
		{"arena limit", identityModel(t), Options{MaxArenaBytes: 64}, ErrArenaLimit},
		{"default arena limit", overLimit, Options{}, ErrArenaLimit},
	} {
		it := newInterpreter(t, tc.m, tc.opts)
		err := it.AllocateTensors()
		assert.ErrorIs(t, err, tc.want, tc.name)
		assert.ErrorIs(t, it.Invoke(), ErrNotAllocated, tc.name)
	}
}

func TestIntermediatesShareArena(t *testing.T) {
	t.Parallel()

	m := buildModel(t, func(b *graph.Builder) {
		prev := b.Input("x", mcf.DTypeF32, 64)
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			next := b.Tensor(name, mcf.DTypeF32, 64)
			b.Node(graph.OpRelu, []int{prev}, []int{next})
			prev = next
		}
		b.Output(prev)
	})
	it := newInterpreter(t, m, Options{})
	require.NoError(t, it.AllocateTensors())

	// Input and output are dedicated; the four intermediates need only two
	// slots between them.
	assert.Equal(t, 4*256, it.ArenaBytes())

	in := it.InputTensor(0).Float32s()
	for i := range in {
		in[i] = float32(i - 32)
	}
	require.NoError(t, it.Invoke())
	out := it.OutputTensor(0).Float32s()
	assert.Equal(t, float32(0), out[0])
	assert.Equal(t, float32(31), out[63])
}

type fakeDelegate struct {
	claim   graph.OpCode
	failErr error
	built   int
}

func (d *fakeDelegate) Name() string { return "fake" }

func (d *fakeDelegate) Claims(n *NodeInfo) bool { return n.Op == d.claim }

func (d *fakeDelegate) Kernel(n *NodeInfo) (Kernel, error) {
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.built++
	return negateKernel{}, nil
}

func (d *fakeDelegate) Close() error { return nil }

// negateKernel makes delegated nodes observable.
type negateKernel struct{}

func (negateKernel) Prepare(n *NodeInfo) error { return n.Outputs[0].Resolve(n.Inputs[0].Shape) }

func (negateKernel) Eval(n *NodeInfo) error {
	dst := n.Outputs[0].Float32s()
	for i, v := range n.Inputs[0].Float32s() {
		dst[i] = -v
	}
	return nil
}

func TestModifyGraphWithDelegate(t *testing.T) {
	t.Parallel()

	it := newInterpreter(t, identityModel(t), Options{})
	require.NoError(t, it.AllocateTensors())

	err := it.ModifyGraphWithDelegate(&fakeDelegate{claim: graph.OpAdd})
	require.ErrorIs(t, err, ErrDelegateUnsupported)

	boom := errors.New("boom")
	err = it.ModifyGraphWithDelegate(&fakeDelegate{claim: graph.OpIdentity, failErr: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, it.DelegatedNodes())
	require.NoError(t, it.Invoke(), "failed delegation must leave the allocation intact")

	d := &fakeDelegate{claim: graph.OpIdentity}
	require.NoError(t, it.ModifyGraphWithDelegate(d))
	assert.Equal(t, 1, d.built)
	assert.Equal(t, 1, it.DelegatedNodes())
	require.ErrorIs(t, it.Invoke(), ErrNotAllocated)

	require.NoError(t, it.AllocateTensors())
	copy(it.InputTensor(0).Float32s(), []float32{1, -2, 3, -4})
	require.NoError(t, it.Invoke())
	assert.Equal(t, []float32{-1, 2, -3, 4}, it.OutputTensor(0).Float32s())
}

func TestArenaLimitDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMaxArenaBytes, Options{}.arenaLimit())
	assert.Equal(t, math.MaxInt, Options{MaxArenaBytes: -1}.arenaLimit())
	assert.Equal(t, 128, Options{MaxArenaBytes: 128}.arenaLimit())

	it := newInterpreter(t, identityModel(t), Options{MaxArenaBytes: -1})
	require.NoError(t, it.AllocateTensors(), "a disabled cap still allocates small models")
}

func TestTensorSizeOverflow(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		shape    []int
		elements int
		bytes    int
	}{
		{[]int{2, 3}, 6, 24},
		{[]int{2, -1}, -1, -1},
		{[]int{1 << 20, 1 << 20, 1 << 20, 1 << 20}, -1, -1},
		{[]int{math.MaxInt / 2, 4}, -1, -1},
		{[]int{math.MaxInt / 4, 2}, math.MaxInt / 4 * 2, -1},
	} {
		tensor := &Tensor{Name: "t", DType: mcf.DTypeF32, Shape: tc.shape}
		assert.Equal(t, tc.elements, tensor.Elements(), "%v", tc.shape)
		assert.Equal(t, tc.bytes, tensor.ByteSize(), "%v", tc.shape)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	m := identityModel(t)
	it, err := NewInterpreter(m, Options{NumThreads: 3})
	require.NoError(t, err)
	m.Close()
	require.NoError(t, it.AllocateTensors(), "interpreter must outlive its model handle")

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.ErrorIs(t, it.Invoke(), ErrClosed)
	assert.ErrorIs(t, it.AllocateTensors(), ErrClosed)

	_, err = NewInterpreter(m, Options{})
	assert.Error(t, err)
}

func TestNewModelRejectsBadBytes(t *testing.T) {
	t.Parallel()

	_, err := NewModel(nil)
	require.ErrorIs(t, err, mcf.ErrCorruptFile)
	_, err = NewModel([]byte("definitely not a model container"))
	require.Error(t, err)
}
