package cpu

import (
	"fmt"

	"github.com/samcharles93/nnlite/internal/runtime"
)

// panelRows is the number of weight rows interleaved into one panel.
const panelRows = 4

// packedDense is a fully connected kernel over weights repacked so that a
// panel holds panelRows consecutive output rows, interleaved by input
// position: panel[k*panelRows+r] = w[row0+r][k]. Rows past the last unit are
// zero.
type packedDense struct {
	d      *Delegate
	units  int
	depth  int
	panels []float32
	bias   []float32
}

func newPackedDense(d *Delegate, n *runtime.NodeInfo) (*packedDense, error) {
	w := n.Inputs[1]
	src := w.Float32s()
	if src == nil {
		return nil, fmt.Errorf("weights %q have no data", w.Name)
	}
	units, depth := w.Shape[0], w.Shape[1]
	if len(src) != units*depth {
		return nil, fmt.Errorf("weights %q: %d values for shape %v", w.Name, len(src), w.Shape)
	}

	numPanels := (units + panelRows - 1) / panelRows
	panels := make([]float32, numPanels*depth*panelRows)
	for p := 0; p < numPanels; p++ {
		dst := panels[p*depth*panelRows : (p+1)*depth*panelRows]
		for r := 0; r < panelRows; r++ {
			row := p*panelRows + r
			if row >= units {
				break
			}
			ws := src[row*depth : (row+1)*depth]
			for k, v := range ws {
				dst[k*panelRows+r] = v
			}
		}
	}

	k := &packedDense{d: d, units: units, depth: depth, panels: panels}
	if len(n.Inputs) > 2 && n.Inputs[2] != nil {
		k.bias = append([]float32(nil), n.Inputs[2].Float32s()...)
	}
	return k, nil
}

func (k *packedDense) Prepare(n *runtime.NodeInfo) error {
	var bias *runtime.Tensor
	if len(n.Inputs) > 2 {
		bias = n.Inputs[2]
	}
	shape, _, err := runtime.FullyConnectedShape(n.Inputs[0], n.Inputs[1], bias)
	if err != nil {
		return err
	}
	return n.Outputs[0].Resolve(shape)
}

func (k *packedDense) Eval(n *runtime.NodeInfo) error {
	if k.d.closed.Load() {
		return ErrClosed
	}
	x, dst := n.Inputs[0].Float32s(), n.Outputs[0].Float32s()
	batch := len(x) / k.depth
	numPanels := len(k.panels) / (k.depth * panelRows)
	grain := max(1, runtime.Grain/(k.depth*panelRows))
	k.d.pool.Parallel(batch*numPanels, grain, func(lo, hi int) {
		for item := lo; item < hi; item++ {
			k.panel(dst, x, n, item/numPanels, item%numPanels)
		}
	})
	return nil
}

// panel computes up to panelRows outputs of one batch row. Each accumulator
// sums its products in input order, then adds the bias, matching
// runtime.FullyConnectedRows element for element.
func (k *packedDense) panel(dst, x []float32, n *runtime.NodeInfo, b, p int) {
	depth := k.depth
	xs := x[b*depth : (b+1)*depth]
	pn := k.panels[p*depth*panelRows : (p+1)*depth*panelRows]

	var acc0, acc1, acc2, acc3 float32
	for i, xv := range xs {
		w := pn[i*panelRows : i*panelRows+panelRows : i*panelRows+panelRows]
		acc0 += float32(xv * w[0])
		acc1 += float32(xv * w[1])
		acc2 += float32(xv * w[2])
		acc3 += float32(xv * w[3])
	}

	acc := [panelRows]float32{acc0, acc1, acc2, acc3}
	row0 := p * panelRows
	out := dst[b*k.units : (b+1)*k.units]
	for r := 0; r < panelRows && row0+r < k.units; r++ {
		v := acc[r]
		if k.bias != nil {
			v += k.bias[row0+r]
		}
		out[row0+r] = runtime.Activate(n.Activation, v)
	}
}

// elementwise applies f to operands of identical shape.
type elementwise struct {
	d *Delegate
	f func(a, b float32) float32
}

func (k *elementwise) Prepare(n *runtime.NodeInfo) error {
	a, b := n.Inputs[0], n.Inputs[1]
	if a.Elements() != b.Elements() {
		return fmt.Errorf("%w: %v vs %v", runtime.ErrShape, a.Shape, b.Shape)
	}
	return n.Outputs[0].Resolve(a.Shape)
}

func (k *elementwise) Eval(n *runtime.NodeInfo) error {
	if k.d.closed.Load() {
		return ErrClosed
	}
	a, b, dst := n.Inputs[0].Float32s(), n.Inputs[1].Float32s(), n.Outputs[0].Float32s()
	act, f := n.Activation, k.f
	k.d.pool.Parallel(len(dst), runtime.Grain, func(lo, hi int) {
		i := lo
		for ; i+4 <= hi; i += 4 {
			dst[i] = runtime.Activate(act, f(a[i], b[i]))
			dst[i+1] = runtime.Activate(act, f(a[i+1], b[i+1]))
			dst[i+2] = runtime.Activate(act, f(a[i+2], b[i+2]))
			dst[i+3] = runtime.Activate(act, f(a[i+3], b[i+3]))
		}
		for ; i < hi; i++ {
			dst[i] = runtime.Activate(act, f(a[i], b[i]))
		}
	})
	return nil
}
